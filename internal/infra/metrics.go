package infra

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks per-feed outcomes with atomic counters.
// It implements domain.FeedRecorder and is exported through Collector.
type Metrics struct {
	mu    sync.RWMutex
	feeds map[string]*feedStats

	// Gauges
	activeConnections atomic.Int32
}

type feedStats struct {
	success     atomic.Uint64
	failure     atomic.Uint64
	drops       atomic.Uint64
	lastSuccess atomic.Int64 // unix nanos
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{feeds: make(map[string]*feedStats)}
}

func (m *Metrics) feed(name string) *feedStats {
	m.mu.RLock()
	s, ok := m.feeds[name]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.feeds[name]; ok {
		return s
	}
	s = &feedStats{}
	m.feeds[name] = s
	return s
}

// RecordFetch records one fetch outcome for feed.
func (m *Metrics) RecordFetch(feed string, err error) {
	s := m.feed(feed)
	if err != nil {
		s.failure.Add(1)
		return
	}
	s.success.Add(1)
	s.lastSuccess.Store(time.Now().UnixNano())
}

// RecordDrop records a refresh skipped because the feed was busy.
func (m *Metrics) RecordDrop(feed string) {
	m.feed(feed).drops.Add(1)
}

// IncrementConnections increments active stream connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active stream connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// FeedSnapshot is a point-in-time view of one feed.
type FeedSnapshot struct {
	Feed        string    `json:"feed"`
	Success     uint64    `json:"success"`
	Failure     uint64    `json:"failure"`
	Drops       uint64    `json:"drops"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Feeds             []FeedSnapshot `json:"feeds"`
	ActiveConnections int32          `json:"active_connections"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot, feeds sorted by name.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	feeds := make([]FeedSnapshot, 0, len(m.feeds))
	for name, s := range m.feeds {
		fs := FeedSnapshot{
			Feed:    name,
			Success: s.success.Load(),
			Failure: s.failure.Load(),
			Drops:   s.drops.Load(),
		}
		if ns := s.lastSuccess.Load(); ns > 0 {
			fs.LastSuccess = time.Unix(0, ns)
		}
		feeds = append(feeds, fs)
	}
	m.mu.RUnlock()

	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].Feed < feeds[j].Feed
	})

	return MetricsSnapshot{
		Feeds:             feeds,
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	m.feeds = make(map[string]*feedStats)
	m.mu.Unlock()
	m.activeConnections.Store(0)
}

var (
	fetchDesc = prometheus.NewDesc(
		"ratekeeper_feed_fetch_total",
		"Feed fetches by outcome.",
		[]string{"feed", "result"}, nil,
	)
	dropDesc = prometheus.NewDesc(
		"ratekeeper_feed_drops_total",
		"Refreshes dropped because a fetch was already in flight.",
		[]string{"feed"}, nil,
	)
	lastSuccessDesc = prometheus.NewDesc(
		"ratekeeper_feed_last_success_timestamp_seconds",
		"Unix time of the last successful fetch.",
		[]string{"feed"}, nil,
	)
	connectionsDesc = prometheus.NewDesc(
		"ratekeeper_stream_connections",
		"Open change-notification stream connections.",
		nil, nil,
	)
)

// Collector exposes Metrics to a prometheus registry.
type Collector struct {
	m *Metrics
}

// NewCollector wraps m as a prometheus.Collector.
func NewCollector(m *Metrics) *Collector {
	return &Collector{m: m}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- fetchDesc
	ch <- dropDesc
	ch <- lastSuccessDesc
	ch <- connectionsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()
	for _, f := range snap.Feeds {
		ch <- prometheus.MustNewConstMetric(fetchDesc, prometheus.CounterValue, float64(f.Success), f.Feed, "success")
		ch <- prometheus.MustNewConstMetric(fetchDesc, prometheus.CounterValue, float64(f.Failure), f.Feed, "failure")
		ch <- prometheus.MustNewConstMetric(dropDesc, prometheus.CounterValue, float64(f.Drops), f.Feed)
		if !f.LastSuccess.IsZero() {
			ch <- prometheus.MustNewConstMetric(lastSuccessDesc, prometheus.GaugeValue,
				float64(f.LastSuccess.UnixNano())/1e9, f.Feed)
		}
	}
	ch <- prometheus.MustNewConstMetric(connectionsDesc, prometheus.GaugeValue, float64(snap.ActiveConnections))
}

package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"ratekeeper/internal/domain"
)

const trackerSnapshotKey = "rates.tracker.snapshot"

// Applier runs cache mutations on the single apply goroutine.
type Applier interface {
	Submit(fn func()) bool
}

// RateFeedConfig holds feed URLs and refresh cadences for the rate feeds.
type RateFeedConfig struct {
	TrackerURL     string
	ExchangeETHURL string
	ExchangeUSDURL string
	ProductionURL  string

	TrackerInterval    time.Duration
	ExchangeInterval   time.Duration
	ProductionInterval time.Duration
}

func (c *RateFeedConfig) applyDefaults() {
	if c.TrackerInterval <= 0 {
		c.TrackerInterval = 60 * time.Second
	}
	if c.ExchangeInterval <= 0 {
		c.ExchangeInterval = 15 * time.Second
	}
	if c.ProductionInterval <= 0 {
		c.ProductionInterval = 15 * time.Second
	}
}

// RateCoordinator keeps RateCache fresh from the three rate feeds.
type RateCoordinator struct {
	cache    *RateCache
	fetcher  domain.FeedFetcher
	applier  Applier
	notifier domain.Notifier
	recorder domain.FeedRecorder
	store    domain.KeyValueStore
	cfg      RateFeedConfig
	logger   *slog.Logger

	tracker    feedGuard
	exchange   feedGuard
	production feedGuard

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRateCoordinator wires a coordinator. store and recorder may be nil.
func NewRateCoordinator(
	cache *RateCache,
	fetcher domain.FeedFetcher,
	applier Applier,
	notifier domain.Notifier,
	recorder domain.FeedRecorder,
	store domain.KeyValueStore,
	cfg RateFeedConfig,
) *RateCoordinator {
	cfg.applyDefaults()
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &RateCoordinator{
		cache:    cache,
		fetcher:  fetcher,
		applier:  applier,
		notifier: notifier,
		recorder: recorder,
		store:    store,
		cfg:      cfg,
		logger:   slog.Default().With("module", "rate_coordinator"),
	}
}

// Cache returns the cache this coordinator feeds.
func (c *RateCoordinator) Cache() *RateCache {
	return c.cache
}

// Restore seeds the cache from the last persisted tracker snapshot.
// A missing or unreadable snapshot is ignored.
func (c *RateCoordinator) Restore() {
	if c.store == nil {
		return
	}
	raw, found, err := c.store.GetValue(trackerSnapshotKey)
	if err != nil || !found {
		return
	}
	var rows []domain.TrackerRate
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		c.logger.Debug("Ignoring unreadable tracker snapshot", slog.Any("error", err))
		return
	}
	c.cache.ReplaceTrackerRates(rows)
	c.logger.Info("Tracker rates restored", slog.Int("symbols", len(rows)))
}

// Start performs one immediate fetch per feed, then arms the timers.
// Calling Start while running is a no-op.
func (c *RateCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	timerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.RefreshAll(ctx)

	timers := []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{domain.FeedTracker, c.cfg.TrackerInterval, func() { c.RefreshTrackerRates(ctx) }},
		{"exchange", c.cfg.ExchangeInterval, func() { c.RefreshExchangeRates(ctx) }},
		{domain.FeedProduction, c.cfg.ProductionInterval, func() { c.RefreshProductionRates(ctx) }},
	}
	for _, t := range timers {
		c.wg.Add(1)
		go func(name string, interval time.Duration, fn func()) {
			defer c.wg.Done()
			runEvery(timerCtx, c.logger, name, interval, fn)
		}(t.name, t.interval, t.fn)
	}

	c.logger.Info("Rate coordinator started",
		slog.Duration("tracker_interval", c.cfg.TrackerInterval),
		slog.Duration("exchange_interval", c.cfg.ExchangeInterval),
		slog.Duration("production_interval", c.cfg.ProductionInterval),
	)
	return nil
}

// Stop cancels the timers and clears in-flight flags. Fetches already on
// the wire are not cancelled; their results still land unless a newer fetch
// of the same feed has begun by then.
func (c *RateCoordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	c.tracker.reset()
	c.exchange.reset()
	c.production.reset()
	c.logger.Info("Rate coordinator stopped")
}

// RefreshAll triggers every feed once.
func (c *RateCoordinator) RefreshAll(ctx context.Context) {
	c.RefreshTrackerRates(ctx)
	c.RefreshExchangeRates(ctx)
	c.RefreshProductionRates(ctx)
}

// RefreshTrackerRates starts a tracker fetch. It returns false when a fetch
// for this feed is already in flight; the request is dropped, not queued.
func (c *RateCoordinator) RefreshTrackerRates(ctx context.Context) bool {
	gen, ok := c.tracker.begin()
	if !ok {
		c.dropped(domain.FeedTracker)
		return false
	}

	go func() {
		defer c.tracker.finish(gen)

		rows, err := fetchTrackerRates(ctx, c.fetcher, c.cfg.TrackerURL)
		c.recorder.RecordFetch(domain.FeedTracker, err)
		if err != nil {
			logFetchFailure(c.logger, "Tracker rate fetch failed; keeping last known rates", err)
			return
		}

		c.applier.Submit(func() {
			if c.superseded(&c.tracker, gen, domain.FeedTracker) {
				return
			}
			c.cache.ReplaceTrackerRates(rows)
			c.persistTracker(rows)
			c.notifier.Notify(domain.TopicTrackerRatesUpdated)
			c.logger.Debug("Tracker rates applied", slog.Int("symbols", len(rows)))
		})
	}()
	return true
}

// RefreshExchangeRates fetches the ETH- and USD-denominated feeds in
// parallel. Each result is applied as it arrives; a single notification is
// published once both have resolved.
func (c *RateCoordinator) RefreshExchangeRates(ctx context.Context) bool {
	gen, ok := c.exchange.begin()
	if !ok {
		c.dropped(domain.FeedExchangeETH)
		c.dropped(domain.FeedExchangeUSD)
		return false
	}

	go func() {
		defer c.exchange.finish(gen)

		legs := []struct {
			feed  string
			url   string
			apply func([]domain.Rate)
		}{
			{domain.FeedExchangeETH, c.cfg.ExchangeETHURL, c.cache.ReplaceETHRates},
			{domain.FeedExchangeUSD, c.cfg.ExchangeUSDURL, c.cache.ReplaceUSDRates},
		}

		var wg sync.WaitGroup
		errs := make([]error, len(legs))
		for i, leg := range legs {
			wg.Add(1)
			go func(i int, feed, url string, apply func([]domain.Rate)) {
				defer wg.Done()
				rates, err := fetchExchangeRates(ctx, c.fetcher, url)
				c.recorder.RecordFetch(feed, err)
				errs[i] = err
				if err != nil {
					logFetchFailure(c.logger, "Exchange rate fetch failed; keeping last known rates", err,
						slog.String("feed", feed))
					return
				}
				c.applier.Submit(func() {
					if c.superseded(&c.exchange, gen, feed) {
						return
					}
					apply(rates)
				})
			}(i, leg.feed, leg.url, leg.apply)
		}
		wg.Wait()

		if errs[0] != nil && errs[1] != nil {
			return
		}
		c.applier.Submit(func() {
			if c.exchange.current(gen) {
				c.notifier.Notify(domain.TopicExchangeRatesUpdated)
			}
		})
	}()
	return true
}

// RefreshProductionRates fetches the production quote table. Success and
// failure publish distinct topics.
func (c *RateCoordinator) RefreshProductionRates(ctx context.Context) bool {
	gen, ok := c.production.begin()
	if !ok {
		c.dropped(domain.FeedProduction)
		return false
	}

	go func() {
		defer c.production.finish(gen)

		rates, err := fetchProductionRates(ctx, c.fetcher, c.cfg.ProductionURL)
		c.recorder.RecordFetch(domain.FeedProduction, err)
		if err != nil {
			logFetchFailure(c.logger, "Production rate fetch failed; keeping last known rates", err)
			c.applier.Submit(func() {
				if c.production.current(gen) {
					c.notifier.Notify(domain.TopicProductionRatesFailed)
				}
			})
			return
		}

		c.applier.Submit(func() {
			if c.superseded(&c.production, gen, domain.FeedProduction) {
				return
			}
			c.cache.ReplaceCrossRates(rates)
			c.notifier.Notify(domain.TopicProductionRatesUpdated)
			c.logger.Debug("Production rates applied", slog.Int("pairs", len(rates)))
		})
	}()
	return true
}

// superseded reports whether a newer fetch of the same feed has begun since
// gen, in which case the result must not be applied.
func (c *RateCoordinator) superseded(g *feedGuard, gen uint64, feed string) bool {
	if g.current(gen) {
		return false
	}
	c.logger.Debug("Discarding superseded result", slog.String("feed", feed))
	return true
}

func (c *RateCoordinator) persistTracker(rows []domain.TrackerRate) {
	if c.store == nil {
		return
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := c.store.SetValue(trackerSnapshotKey, string(b)); err != nil {
		c.logger.Warn("Failed to persist tracker snapshot", slog.Any("error", err))
	}
}

func (c *RateCoordinator) dropped(feed string) {
	c.recorder.RecordDrop(feed)
	c.logger.Debug("Refresh dropped; previous fetch still in flight", slog.String("feed", feed))
}

type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, error) {}
func (nopRecorder) RecordDrop(string)         {}

package infra

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordFetch(t *testing.T) {
	m := NewMetrics()

	m.RecordFetch("tracker", nil)
	m.RecordFetch("tracker", nil)
	m.RecordFetch("tracker", errors.New("timeout"))
	m.RecordDrop("tracker")

	snap := m.Snapshot()
	if len(snap.Feeds) != 1 {
		t.Fatalf("Expected 1 feed, got %d", len(snap.Feeds))
	}

	f := snap.Feeds[0]
	if f.Success != 2 {
		t.Errorf("Expected 2 successes, got %d", f.Success)
	}
	if f.Failure != 1 {
		t.Errorf("Expected 1 failure, got %d", f.Failure)
	}
	if f.Drops != 1 {
		t.Errorf("Expected 1 drop, got %d", f.Drops)
	}
	if f.LastSuccess.IsZero() {
		t.Error("Expected last success time")
	}
}

func TestMetrics_SnapshotSorted(t *testing.T) {
	m := NewMetrics()
	m.RecordDrop("production")
	m.RecordDrop("exchange_eth")
	m.RecordDrop("gas_current")

	snap := m.Snapshot()
	for i := 1; i < len(snap.Feeds); i++ {
		if snap.Feeds[i-1].Feed > snap.Feeds[i].Feed {
			t.Fatalf("Feeds not sorted: %+v", snap.Feeds)
		}
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := NewMetrics()

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()

	m.RecordFetch("tracker", nil)
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if len(snap.Feeds) != 0 {
		t.Error("Expected no feeds after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}

func TestCollector_Exposition(t *testing.T) {
	m := NewMetrics()
	m.RecordFetch("gas_current", nil)
	m.RecordFetch("gas_current", errors.New("boom"))
	m.RecordDrop("gas_current")

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewCollector(m)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	expected := `
# HELP ratekeeper_feed_drops_total Refreshes dropped because a fetch was already in flight.
# TYPE ratekeeper_feed_drops_total counter
ratekeeper_feed_drops_total{feed="gas_current"} 1
# HELP ratekeeper_feed_fetch_total Feed fetches by outcome.
# TYPE ratekeeper_feed_fetch_total counter
ratekeeper_feed_fetch_total{feed="gas_current",result="failure"} 1
ratekeeper_feed_fetch_total{feed="gas_current",result="success"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ratekeeper_feed_fetch_total", "ratekeeper_feed_drops_total")
	if err != nil {
		t.Error(err)
	}
}

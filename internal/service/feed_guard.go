package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// feedGuard enforces at most one outstanding fetch per feed.
// Each begin hands out a generation; only the matching finish clears the
// flag, so a fetch that outlives reset() cannot release a newer fetch.
// A result may be applied only while its generation is the latest begun.
type feedGuard struct {
	mu       sync.Mutex
	inFlight bool
	gen      uint64
	latest   uint64
}

func (g *feedGuard) begin() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return 0, false
	}
	g.inFlight = true
	g.gen++
	g.latest = g.gen
	return g.gen, true
}

// current reports whether gen is still the most recently begun fetch.
// reset alone does not supersede it.
func (g *feedGuard) current(gen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.latest == gen
}

func (g *feedGuard) finish(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen == gen {
		g.inFlight = false
	}
}

func (g *feedGuard) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inFlight = false
	g.gen++
}

func (g *feedGuard) busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// runEvery calls fn on every tick until ctx is cancelled.
func runEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Refresh timer panic recovered", slog.String("feed", name), slog.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Refresh timer stopped", slog.String("feed", name))
			return
		case <-ticker.C:
			fn()
		}
	}
}

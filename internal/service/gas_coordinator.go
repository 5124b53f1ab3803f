package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"ratekeeper/internal/domain"
	"ratekeeper/pkg/units"
)

// Persisted gas tier keys. Values are decimal wei strings.
const (
	gasKeyDefault  = "gas.default"
	gasKeyLow      = "gas.low"
	gasKeyStandard = "gas.standard"
	gasKeyFast     = "gas.fast"
	gasKeyMax      = "gas.max"
)

// GasFeedConfig holds gas feed URLs and timings.
type GasFeedConfig struct {
	CurrentURL string
	MaxURL     string

	CurrentInterval time.Duration
	MaxInterval     time.Duration
	// StaleAfter is how long the current-price feed may fail before the
	// node is queried directly.
	StaleAfter time.Duration

	// Defaults seeds the tiers before anything is restored or fetched.
	Defaults *domain.GasPriceSet
}

func (c *GasFeedConfig) applyDefaults() {
	if c.CurrentInterval <= 0 {
		c.CurrentInterval = 30 * time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
}

// GasPriceCoordinator keeps the gas tiers fresh from the gas feeds, with the
// node as a degraded fallback.
type GasPriceCoordinator struct {
	fetcher  domain.FeedFetcher
	node     domain.GasNode
	applier  Applier
	notifier domain.Notifier
	recorder domain.FeedRecorder
	store    domain.KeyValueStore
	cfg      GasFeedConfig
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.RWMutex
	prices      domain.GasPriceSet
	lastSuccess time.Time

	current feedGuard
	max     feedGuard

	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewGasPriceCoordinator wires a coordinator. node, store and recorder may be nil.
func NewGasPriceCoordinator(
	fetcher domain.FeedFetcher,
	node domain.GasNode,
	applier Applier,
	notifier domain.Notifier,
	recorder domain.FeedRecorder,
	store domain.KeyValueStore,
	cfg GasFeedConfig,
) *GasPriceCoordinator {
	cfg.applyDefaults()
	if recorder == nil {
		recorder = nopRecorder{}
	}
	prices := domain.DefaultGasPriceSet()
	if cfg.Defaults != nil {
		prices = cfg.Defaults.Clone()
	}
	prices.Normalize()

	return &GasPriceCoordinator{
		fetcher:  fetcher,
		node:     node,
		applier:  applier,
		notifier: notifier,
		recorder: recorder,
		store:    store,
		cfg:      cfg,
		logger:   slog.Default().With("module", "gas_coordinator"),
		now:      time.Now,
		prices:   prices,
	}
}

// Prices returns a copy of the current tiers.
func (g *GasPriceCoordinator) Prices() domain.GasPriceSet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.prices.Clone()
}

func (g *GasPriceCoordinator) Default() *big.Int  { return g.Prices().Default }
func (g *GasPriceCoordinator) Low() *big.Int      { return g.Prices().Low }
func (g *GasPriceCoordinator) Standard() *big.Int { return g.Prices().Standard }
func (g *GasPriceCoordinator) Fast() *big.Int     { return g.Prices().Fast }
func (g *GasPriceCoordinator) Max() *big.Int      { return g.Prices().Max }

// SuperFast is derived from the current fast and max tiers on every call.
func (g *GasPriceCoordinator) SuperFast() *big.Int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.prices.SuperFast()
}

// LastSuccess returns when the current-price feed last succeeded.
func (g *GasPriceCoordinator) LastSuccess() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastSuccess
}

// Restore loads persisted tiers. Keys that are missing or do not parse keep
// their compiled-in value.
func (g *GasPriceCoordinator) Restore() {
	if g.store == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.prices.Clone()
	fields := []struct {
		key string
		dst **big.Int
	}{
		{gasKeyDefault, &next.Default},
		{gasKeyLow, &next.Low},
		{gasKeyStandard, &next.Standard},
		{gasKeyFast, &next.Fast},
		{gasKeyMax, &next.Max},
	}

	restored := 0
	for _, f := range fields {
		raw, found, err := g.store.GetValue(f.key)
		if err != nil || !found {
			continue
		}
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok || v.Sign() < 0 {
			continue
		}
		*f.dst = v
		restored++
	}

	next.Normalize()
	g.prices = next
	if restored > 0 {
		g.logger.Info("Gas tiers restored",
			slog.Int("keys", restored),
			slog.String("default_gwei", units.FormatGwei(next.Default)),
			slog.String("max_gwei", units.FormatGwei(next.Max)),
		)
	}
}

// Start performs one immediate fetch of each feed, then arms the timers.
func (g *GasPriceCoordinator) Start(ctx context.Context) error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if g.running {
		return nil
	}

	timerCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.running = true

	g.RefreshAll(ctx)

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		runEvery(timerCtx, g.logger, domain.FeedGasCurrent, g.cfg.CurrentInterval, func() { g.RefreshCurrent(ctx) })
	}()
	go func() {
		defer g.wg.Done()
		runEvery(timerCtx, g.logger, domain.FeedGasMax, g.cfg.MaxInterval, func() { g.RefreshMax(ctx) })
	}()

	g.logger.Info("Gas coordinator started",
		slog.Duration("current_interval", g.cfg.CurrentInterval),
		slog.Duration("max_interval", g.cfg.MaxInterval),
		slog.Duration("stale_after", g.cfg.StaleAfter),
	)
	return nil
}

// Stop cancels the timers and clears in-flight flags.
func (g *GasPriceCoordinator) Stop() {
	g.lifeMu.Lock()
	if !g.running {
		g.lifeMu.Unlock()
		return
	}
	g.cancel()
	g.running = false
	g.lifeMu.Unlock()

	g.wg.Wait()
	g.current.reset()
	g.max.reset()
	g.logger.Info("Gas coordinator stopped")
}

// RefreshAll triggers both gas feeds once.
func (g *GasPriceCoordinator) RefreshAll(ctx context.Context) {
	g.RefreshMax(ctx)
	g.RefreshCurrent(ctx)
}

// RefreshCurrent fetches the four current tiers. On failure, once the feed
// has been stale longer than StaleAfter, the node price is used instead.
func (g *GasPriceCoordinator) RefreshCurrent(ctx context.Context) bool {
	gen, ok := g.current.begin()
	if !ok {
		g.recorder.RecordDrop(domain.FeedGasCurrent)
		return false
	}

	go func() {
		defer g.current.finish(gen)

		tiers, err := fetchCurrentGas(ctx, g.fetcher, g.cfg.CurrentURL)
		g.recorder.RecordFetch(domain.FeedGasCurrent, err)
		if err == nil {
			g.applier.Submit(func() {
				if g.superseded(&g.current, gen, domain.FeedGasCurrent) {
					return
				}
				g.applyTiers(tiers, true)
				g.notifier.Notify(domain.TopicGasPriceUpdated)
			})
			return
		}

		logFetchFailure(g.logger, "Gas price fetch failed; keeping last known tiers", err)
		if !g.stale() {
			return
		}

		price, err := g.queryNode(ctx)
		g.recorder.RecordFetch(domain.FeedGasNode, err)
		if err != nil {
			logFetchFailure(g.logger, "Gas node fallback failed", err)
			return
		}

		g.applier.Submit(func() {
			if g.superseded(&g.current, gen, domain.FeedGasNode) {
				return
			}
			g.applyTiers(fallbackTiers(price), false)
			g.notifier.Notify(domain.TopicGasPriceUpdated)
			g.notifier.Notify(domain.TopicGasFallbackUsed)
		})
		g.logger.Warn("Gas tiers derived from node price",
			slog.String("node_gwei", units.FormatGwei(price)))
	}()
	return true
}

// RefreshMax fetches the max gas price and re-clamps every tier against it.
func (g *GasPriceCoordinator) RefreshMax(ctx context.Context) bool {
	gen, ok := g.max.begin()
	if !ok {
		g.recorder.RecordDrop(domain.FeedGasMax)
		return false
	}

	go func() {
		defer g.max.finish(gen)

		v, err := fetchMaxGas(ctx, g.fetcher, g.cfg.MaxURL)
		g.recorder.RecordFetch(domain.FeedGasMax, err)
		if err != nil {
			logFetchFailure(g.logger, "Max gas price fetch failed; keeping last known max", err)
			return
		}

		g.applier.Submit(func() {
			if g.superseded(&g.max, gen, domain.FeedGasMax) {
				return
			}
			g.mu.Lock()
			next := g.prices.Clone()
			next.Max = v
			next.Normalize()
			g.prices = next
			g.mu.Unlock()

			g.persist(next)
			g.notifier.Notify(domain.TopicMaxGasPriceUpdated)
			g.logger.Debug("Max gas price applied", slog.String("max_gwei", units.FormatGwei(v)))
		})
	}()
	return true
}

func (g *GasPriceCoordinator) superseded(guard *feedGuard, gen uint64, feed string) bool {
	if guard.current(gen) {
		return false
	}
	g.logger.Debug("Discarding superseded result", slog.String("feed", feed))
	return true
}

// applyTiers replaces the four non-max tiers atomically.
func (g *GasPriceCoordinator) applyTiers(t gasTiers, fromFeed bool) {
	g.mu.Lock()
	next := domain.GasPriceSet{
		Default:  t.Default,
		Low:      t.Low,
		Standard: t.Standard,
		Fast:     t.Fast,
		Max:      g.prices.Max,
	}
	next.Normalize()
	g.prices = next
	if fromFeed {
		g.lastSuccess = g.now()
	}
	g.mu.Unlock()

	g.persist(next)
}

func (g *GasPriceCoordinator) stale() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.now().Sub(g.lastSuccess) > g.cfg.StaleAfter
}

func (g *GasPriceCoordinator) queryNode(ctx context.Context) (*big.Int, error) {
	if g.node == nil {
		return nil, domain.ErrNoNode
	}
	price, err := g.node.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("node gas price %v: %w", price, domain.ErrDecode)
	}
	return price, nil
}

// fallbackTiers spreads the node price across the tiers: low is 10/12 of
// it and fast 12/10.
func fallbackTiers(price *big.Int) gasTiers {
	low := new(big.Int).Mul(price, big.NewInt(10))
	low.Quo(low, big.NewInt(12))
	fast := new(big.Int).Mul(price, big.NewInt(12))
	fast.Quo(fast, big.NewInt(10))
	return gasTiers{
		Default:  new(big.Int).Set(price),
		Low:      low,
		Standard: new(big.Int).Set(price),
		Fast:     fast,
	}
}

func (g *GasPriceCoordinator) persist(p domain.GasPriceSet) {
	if g.store == nil {
		return
	}
	values := []struct {
		key string
		v   *big.Int
	}{
		{gasKeyDefault, p.Default},
		{gasKeyLow, p.Low},
		{gasKeyStandard, p.Standard},
		{gasKeyFast, p.Fast},
		{gasKeyMax, p.Max},
	}
	for _, kv := range values {
		if err := g.store.SetValue(kv.key, kv.v.String()); err != nil {
			g.logger.Warn("Failed to persist gas tier", slog.String("key", kv.key), slog.Any("error", err))
			return
		}
	}
}

package service

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"ratekeeper/internal/domain"
	"ratekeeper/pkg/units"
)

// RateCache holds the merged view of every rate feed.
//
// Each source owns one layer that is replaced wholesale on its own refresh.
// tokenToETH and tokenToUSD are rebuilt from the tracker layer overlaid with
// the cached-exchange layers, so a failed refresh never clears anything.
type RateCache struct {
	mu sync.RWMutex

	tracker     map[string]domain.TrackerRate
	exchangeETH map[string]domain.Rate
	exchangeUSD map[string]domain.Rate
	crossRates  map[string]domain.Rate

	tokenToETH map[string]domain.Rate
	tokenToUSD map[string]domain.Rate

	updatedAt map[string]time.Time
}

// NewRateCache creates an empty cache.
func NewRateCache() *RateCache {
	return &RateCache{
		tracker:     make(map[string]domain.TrackerRate),
		exchangeETH: make(map[string]domain.Rate),
		exchangeUSD: make(map[string]domain.Rate),
		crossRates:  make(map[string]domain.Rate),
		tokenToETH:  make(map[string]domain.Rate),
		tokenToUSD:  make(map[string]domain.Rate),
		updatedAt:   make(map[string]time.Time),
	}
}

// ReplaceTrackerRates swaps the tracker layer.
func (c *RateCache) ReplaceTrackerRates(rates []domain.TrackerRate) {
	next := make(map[string]domain.TrackerRate, len(rates))
	for _, r := range rates {
		if r.Symbol == "" {
			continue
		}
		next[r.Symbol] = r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker = next
	c.updatedAt[domain.FeedTracker] = time.Now()
	c.rebuildLocked()
}

// ReplaceETHRates swaps the ETH-denominated exchange layer. Entries whose
// destination is not ETH are ignored.
func (c *RateCache) ReplaceETHRates(rates []domain.Rate) {
	next := indexBySource(rates, domain.ETH)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchangeETH = next
	c.updatedAt[domain.FeedExchangeETH] = time.Now()
	c.rebuildLocked()
}

// ReplaceUSDRates swaps the USD-denominated exchange layer.
func (c *RateCache) ReplaceUSDRates(rates []domain.Rate) {
	next := indexBySource(rates, domain.USD)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchangeUSD = next
	c.updatedAt[domain.FeedExchangeUSD] = time.Now()
	c.rebuildLocked()
}

// ReplaceCrossRates swaps the production quote table.
func (c *RateCache) ReplaceCrossRates(rates []domain.Rate) {
	next := make(map[string]domain.Rate, len(rates))
	for _, r := range rates {
		if r.Source == "" || r.Dest == "" || r.Value == nil {
			continue
		}
		next[domain.PairKey(r.Source, r.Dest)] = r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.crossRates = next
	c.updatedAt[domain.FeedProduction] = time.Now()
}

// Must be called with lock held
func (c *RateCache) rebuildLocked() {
	eth := make(map[string]domain.Rate, len(c.tracker)+len(c.exchangeETH))
	usd := make(map[string]domain.Rate, len(c.tracker)+len(c.exchangeUSD))

	for sym, tr := range c.tracker {
		eth[sym] = tr.ETHRate()
		usd[sym] = tr.USDRate()
	}
	for sym, r := range c.exchangeETH {
		eth[sym] = r
	}
	for sym, r := range c.exchangeUSD {
		usd[sym] = r
	}

	c.tokenToETH = eth
	c.tokenToUSD = usd
}

func indexBySource(rates []domain.Rate, dest string) map[string]domain.Rate {
	out := make(map[string]domain.Rate, len(rates))
	for _, r := range rates {
		if r.Source == "" || r.Dest != dest || r.Value == nil {
			continue
		}
		out[r.Source] = r
	}
	return out
}

// Rate returns the rate from→to, deriving it when no direct entry exists.
// ok=false means the pair is currently unpriceable.
func (c *RateCache) Rate(from, to string) (domain.Rate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLocked(from, to)
}

func (c *RateCache) rateLocked(from, to string) (domain.Rate, bool) {
	one := units.Pow10(domain.RateDecimals)

	if from == to {
		return domain.NewRate(from, to, one), true
	}

	if from == domain.ETH {
		// stored as "1 to = r ETH"; invert it
		r, ok := c.tokenToETH[to]
		if !ok {
			return domain.Rate{}, false
		}
		n := r.Normalized()
		if n.Sign() == 0 {
			return domain.NewRate(from, to, new(big.Int)), true
		}
		inv := new(big.Int).Mul(one, one)
		return domain.NewRate(from, to, inv.Quo(inv, n)), true
	}

	if to == domain.ETH {
		r, ok := c.tokenToETH[from]
		if !ok {
			return domain.Rate{}, false
		}
		return domain.NewRate(from, to, r.Normalized()), true
	}

	num, okFrom := c.usdLocked(from)
	den, okTo := c.usdLocked(to)
	if !okFrom || !okTo || den.Sign() == 0 {
		return domain.Rate{}, false
	}
	v := new(big.Int).Mul(num, one)
	return domain.NewRate(from, to, v.Quo(v, den)), true
}

// usdLocked returns the 18-decimal USD rate of symbol; USD itself is 1.
func (c *RateCache) usdLocked(symbol string) (*big.Int, bool) {
	if symbol == domain.USD {
		return units.Pow10(domain.RateDecimals), true
	}
	r, ok := c.tokenToUSD[symbol]
	if !ok {
		return nil, false
	}
	return r.Normalized(), true
}

// CachedProductionRate prefers the production quote table: a direct quote,
// then a two-hop quote through ETH, then the general cache.
// The result is expressed with domain.RateDecimals.
func (c *RateCache) CachedProductionRate(from, to string) (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if r, ok := c.crossRates[domain.PairKey(from, to)]; ok {
		return r.Normalized(), true
	}

	toETH, okA := c.crossLegLocked(from, domain.ETH)
	fromETH, okB := c.crossLegLocked(domain.ETH, to)
	if okA && okB {
		v := new(big.Int).Mul(toETH, fromETH)
		return v.Quo(v, units.Pow10(domain.RateDecimals)), true
	}

	r, ok := c.rateLocked(from, to)
	if !ok {
		return nil, false
	}
	return r.Normalized(), true
}

func (c *RateCache) crossLegLocked(from, to string) (*big.Int, bool) {
	if from == to {
		return units.Pow10(domain.RateDecimals), true
	}
	r, ok := c.crossRates[domain.PairKey(from, to)]
	if !ok {
		return nil, false
	}
	return r.Normalized(), true
}

// TrackerRate returns the tracker row for a symbol, including 24h change.
func (c *RateCache) TrackerRate(symbol string) (domain.TrackerRate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tr, ok := c.tracker[symbol]
	return tr, ok
}

// Change24h returns the tracker's 24h change for a symbol, in percent,
// against ETH and USD.
func (c *RateCache) Change24h(symbol string) (eth, usd float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tr, ok := c.tracker[symbol]
	if !ok {
		return 0, 0, false
	}
	return tr.Change24hETH, tr.Change24hUSD, true
}

// TrackerSnapshot returns the tracker layer sorted by symbol.
func (c *RateCache) TrackerSnapshot() []domain.TrackerRate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.TrackerRate, 0, len(c.tracker))
	for _, tr := range c.tracker {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Symbols returns every symbol with an ETH or USD rate, sorted.
func (c *RateCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(c.tokenToETH)+len(c.tokenToUSD))
	for s := range c.tokenToETH {
		seen[s] = struct{}{}
	}
	for s := range c.tokenToUSD {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LastUpdated returns when the given feed last replaced its layer.
func (c *RateCache) LastUpdated(feed string) time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt[feed]
}

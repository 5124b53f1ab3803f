package api

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ratekeeper/internal/domain"
	"ratekeeper/pkg/units"
)

// RateReader is the read side of the rate cache.
type RateReader interface {
	Rate(from, to string) (domain.Rate, bool)
	CachedProductionRate(from, to string) (*big.Int, bool)
	Change24h(symbol string) (eth, usd float64, ok bool)
	Symbols() []string
	LastUpdated(feed string) time.Time
}

// GasReader is the read side of the gas coordinator.
type GasReader interface {
	Prices() domain.GasPriceSet
	SuperFast() *big.Int
	LastSuccess() time.Time
}

// GasLimitEstimator estimates gas limits for a token pair.
type GasLimitEstimator interface {
	Estimate(from, to string) uint64
}

// Refresher triggers an out-of-band refresh of every feed.
type Refresher interface {
	RefreshAll(ctx context.Context)
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RateResponse is one priced pair.
type RateResponse struct {
	Source   string `json:"source"`
	Dest     string `json:"dest"`
	Rate     string `json:"rate"`
	Decimals int    `json:"decimals"`
	Display  string `json:"display"`
}

// Change24hResponse carries tracker 24h change for the source token.
type Change24hResponse struct {
	ETH float64 `json:"eth"`
	USD float64 `json:"usd"`
}

// PairResponse is the body of GET /v1/rates/:from/:to.
type PairResponse struct {
	RateResponse
	Change24h *Change24hResponse   `json:"change24h,omitempty"`
	UpdatedAt map[string]time.Time `json:"updatedAt,omitempty"`
}

// RateListResponse is the body of GET /v1/rates.
type RateListResponse struct {
	Quote     string               `json:"quote"`
	Data      []RateResponse       `json:"data"`
	UpdatedAt map[string]time.Time `json:"updatedAt,omitempty"`
}

// ProductionRateResponse is the body of GET /v1/production-rates/:from/:to.
type ProductionRateResponse struct {
	RateResponse
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// cacheFeeds are the layers Rate can draw from.
var cacheFeeds = []string{domain.FeedTracker, domain.FeedExchangeETH, domain.FeedExchangeUSD}

// GasTier is one gas tier in wei and gwei.
type GasTier struct {
	Wei  string `json:"wei"`
	Gwei string `json:"gwei"`
}

// GasResponse is the body of GET /v1/gas.
type GasResponse struct {
	Default     GasTier    `json:"default"`
	Low         GasTier    `json:"low"`
	Standard    GasTier    `json:"standard"`
	Fast        GasTier    `json:"fast"`
	SuperFast   GasTier    `json:"superFast"`
	Max         GasTier    `json:"max"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
}

// GasLimitResponse is the body of GET /v1/gas-limit.
type GasLimitResponse struct {
	From     string `json:"from"`
	To       string `json:"to"`
	GasLimit uint64 `json:"gasLimit"`
}

// DisplayResponse is the body of GET /v1/display.
type DisplayResponse struct {
	Display string `json:"display"`
}

// Handler serves the read-only query API.
type Handler struct {
	rates     RateReader
	gas       GasReader
	limits    GasLimitEstimator
	refreshes []Refresher
}

// NewHandler creates a handler. Refreshers are triggered by POST /v1/refresh.
func NewHandler(rates RateReader, gas GasReader, limits GasLimitEstimator, refreshes ...Refresher) *Handler {
	return &Handler{
		rates:     rates,
		gas:       gas,
		limits:    limits,
		refreshes: refreshes,
	}
}

func symbolParam(c *gin.Context, name string) string {
	return strings.ToUpper(strings.TrimSpace(c.Param(name)))
}

func symbolQuery(c *gin.Context, name string) string {
	return strings.ToUpper(strings.TrimSpace(c.Query(name)))
}

// updatedAt reports the last refresh of each feed that has refreshed at all.
func (h *Handler) updatedAt(feeds ...string) map[string]time.Time {
	out := make(map[string]time.Time, len(feeds))
	for _, f := range feeds {
		if ts := h.rates.LastUpdated(f); !ts.IsZero() {
			out[f] = ts
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toRateResponse(r domain.Rate) RateResponse {
	return RateResponse{
		Source:   r.Source,
		Dest:     r.Dest,
		Rate:     r.Value.String(),
		Decimals: r.Decimals,
		Display:  units.DisplayRate(r.Value, r.Decimals),
	}
}

// Health returns a simple "ok" status
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetRate returns the rate for one pair. An unpriceable pair is a 404, not
// a server error.
func (h *Handler) GetRate(c *gin.Context) {
	from, to := symbolParam(c, "from"), symbolParam(c, "to")

	r, ok := h.rates.Rate(from, to)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: domain.ErrNoRate.Error()})
		return
	}

	resp := PairResponse{RateResponse: toRateResponse(r), UpdatedAt: h.updatedAt(cacheFeeds...)}
	if eth, usd, ok := h.rates.Change24h(from); ok {
		resp.Change24h = &Change24hResponse{ETH: eth, USD: usd}
	}
	c.JSON(http.StatusOK, resp)
}

// ListRates returns every known symbol priced in the quote currency
// (query "quote", default ETH). Symbols without a rate are omitted.
func (h *Handler) ListRates(c *gin.Context) {
	quote := symbolQuery(c, "quote")
	if quote == "" {
		quote = domain.ETH
	}

	syms := h.rates.Symbols()
	data := make([]RateResponse, 0, len(syms))
	for _, sym := range syms {
		if sym == quote {
			continue
		}
		if r, ok := h.rates.Rate(sym, quote); ok {
			data = append(data, toRateResponse(r))
		}
	}
	c.JSON(http.StatusOK, RateListResponse{Quote: quote, Data: data, UpdatedAt: h.updatedAt(cacheFeeds...)})
}

// GetProductionRate returns the production rate for a pair.
func (h *Handler) GetProductionRate(c *gin.Context) {
	from, to := symbolParam(c, "from"), symbolParam(c, "to")

	v, ok := h.rates.CachedProductionRate(from, to)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: domain.ErrNoRate.Error()})
		return
	}
	resp := ProductionRateResponse{RateResponse: toRateResponse(domain.NewRate(from, to, v))}
	if ts := h.rates.LastUpdated(domain.FeedProduction); !ts.IsZero() {
		resp.UpdatedAt = &ts
	}
	c.JSON(http.StatusOK, resp)
}

func gasTier(v *big.Int) GasTier {
	return GasTier{Wei: v.String(), Gwei: units.FormatGwei(v)}
}

// GetGas returns every gas tier, including the derived super-fast tier.
func (h *Handler) GetGas(c *gin.Context) {
	p := h.gas.Prices()
	resp := GasResponse{
		Default:   gasTier(p.Default),
		Low:       gasTier(p.Low),
		Standard:  gasTier(p.Standard),
		Fast:      gasTier(p.Fast),
		SuperFast: gasTier(h.gas.SuperFast()),
		Max:       gasTier(p.Max),
	}
	if ts := h.gas.LastSuccess(); !ts.IsZero() {
		resp.LastSuccess = &ts
	}
	c.JSON(http.StatusOK, resp)
}

// GetGasLimit estimates the gas limit for ?from=&to=.
func (h *Handler) GetGasLimit(c *gin.Context) {
	from, to := symbolQuery(c, "from"), symbolQuery(c, "to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "from and to are required"})
		return
	}
	c.JSON(http.StatusOK, GasLimitResponse{From: from, To: to, GasLimit: h.limits.Estimate(from, to)})
}

// Display formats either ?amount=&decimals= (fixed-point integer) or
// ?value= (decimal string).
func (h *Handler) Display(c *gin.Context) {
	if v := c.Query("value"); v != "" {
		c.JSON(http.StatusOK, DisplayResponse{Display: units.DisplayRateString(v)})
		return
	}

	amount, ok := new(big.Int).SetString(c.Query("amount"), 10)
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must be an integer"})
		return
	}
	decimals := domain.RateDecimals
	if raw := c.Query("decimals"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 || d > 77 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid decimals"})
			return
		}
		decimals = d
	}
	c.JSON(http.StatusOK, DisplayResponse{Display: units.DisplayRate(amount, decimals)})
}

// Refresh triggers every coordinator once. Refreshes already in flight are
// dropped by the coordinators themselves.
func (h *Handler) Refresh(c *gin.Context) {
	ctx := context.WithoutCancel(c.Request.Context())
	for _, r := range h.refreshes {
		r.RefreshAll(ctx)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "refreshing"})
}

package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratekeeper/internal/domain"
	"ratekeeper/internal/service"
	"ratekeeper/pkg/units"
)

type fakeGas struct {
	prices domain.GasPriceSet
	last   time.Time
}

func (f *fakeGas) Prices() domain.GasPriceSet { return f.prices.Clone() }
func (f *fakeGas) SuperFast() *big.Int        { return f.prices.SuperFast() }
func (f *fakeGas) LastSuccess() time.Time     { return f.last }

type countingRefresher struct {
	calls atomic.Int32
}

func (r *countingRefresher) RefreshAll(context.Context) { r.calls.Add(1) }

func setupRouter(t *testing.T) (*gin.Engine, *countingRefresher) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cache := service.NewRateCache()
	cache.ReplaceTrackerRates([]domain.TrackerRate{
		{Symbol: "KNC", RateETH: 0.002, RateUSD: 4, Change24hETH: 1.5, Change24hUSD: -2},
		{Symbol: "DAI", RateETH: 0.0005, RateUSD: 1},
	})
	cache.ReplaceCrossRates([]domain.Rate{
		domain.NewRate("KNC", "DAI", units.FromFloat(3.9, 18)),
	})

	gas := &fakeGas{prices: domain.DefaultGasPriceSet()}
	refresher := &countingRefresher{}
	h := NewHandler(cache, gas, service.NewGasLimitPolicy(service.DefaultGasLimits()), refresher)
	return NewRouter(h, nil, nil), refresher
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Health(t *testing.T) {
	r, _ := setupRouter(t)
	w := serve(r, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandler_GetRate(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedRate   string
		expectedShown  string
	}{
		{
			name:           "token to ETH",
			path:           "/v1/rates/knc/eth",
			expectedStatus: http.StatusOK,
			expectedRate:   "2000000000000000",
			expectedShown:  "0.002000",
		},
		{
			name:           "ETH to token",
			path:           "/v1/rates/ETH/KNC",
			expectedStatus: http.StatusOK,
			expectedRate:   "500000000000000000000",
			expectedShown:  "500.0000",
		},
		{
			name:           "USD pivot",
			path:           "/v1/rates/KNC/DAI",
			expectedStatus: http.StatusOK,
			expectedRate:   "4000000000000000000",
			expectedShown:  "4.0000",
		},
		{
			name:           "unknown pair",
			path:           "/v1/rates/XYZ/DAI",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, tt.path)
			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, domain.ErrNoRate.Error(), resp.Error)
				return
			}

			var resp PairResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedRate, resp.Rate)
			assert.Equal(t, tt.expectedShown, resp.Display)
			assert.Equal(t, domain.RateDecimals, resp.Decimals)
		})
	}
}

func TestHandler_GetRateChange24h(t *testing.T) {
	r, _ := setupRouter(t)

	w := serve(r, http.MethodGet, "/v1/rates/KNC/USD")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PairResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Change24h)
	assert.Equal(t, 1.5, resp.Change24h.ETH)
	assert.Equal(t, -2.0, resp.Change24h.USD)
}

func TestHandler_ListRates(t *testing.T) {
	r, _ := setupRouter(t)

	w := serve(r, http.MethodGet, "/v1/rates?quote=usd")
	require.Equal(t, http.StatusOK, w.Code)

	var resp RateListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "USD", resp.Quote)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "DAI", resp.Data[0].Source)
	assert.Equal(t, "KNC", resp.Data[1].Source)

	assert.Contains(t, resp.UpdatedAt, domain.FeedTracker)
	assert.NotContains(t, resp.UpdatedAt, domain.FeedExchangeETH, "exchange layer never refreshed")
}

func TestHandler_GetProductionRate(t *testing.T) {
	r, _ := setupRouter(t)

	w := serve(r, http.MethodGet, "/v1/production-rates/KNC/DAI")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProductionRateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "3900000000000000000", resp.Rate)
	require.NotNil(t, resp.UpdatedAt)
	assert.WithinDuration(t, time.Now(), *resp.UpdatedAt, time.Minute)

	w = serve(r, http.MethodGet, "/v1/production-rates/MKR/XYZ")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_GetGas(t *testing.T) {
	r, _ := setupRouter(t)

	w := serve(r, http.MethodGet, "/v1/gas")
	require.Equal(t, http.StatusOK, w.Code)

	var resp GasResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, units.Gwei(10).String(), resp.Default.Wei)
	assert.Equal(t, "10", resp.Default.Gwei)
	assert.Equal(t, "30", resp.SuperFast.Gwei)
	assert.Equal(t, "100", resp.Max.Gwei)
	assert.Nil(t, resp.LastSuccess)
}

func TestHandler_GetGasLimit(t *testing.T) {
	r, _ := setupRouter(t)

	w := serve(r, http.MethodGet, "/v1/gas-limit?from=DAI&to=MKR")
	require.Equal(t, http.StatusOK, w.Code)

	var resp GasLimitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, uint64(850_000), resp.GasLimit)

	w = serve(r, http.MethodGet, "/v1/gas-limit?from=DAI")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Display(t *testing.T) {
	r, _ := setupRouter(t)

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expected       string
	}{
		{"zero", "amount=0&decimals=18", http.StatusOK, "0.0000"},
		{"small amount", "amount=123000000000000", http.StatusOK, "0.0001230"},
		{"decimal string", "value=0.000012345678", http.StatusOK, "0.00001234"},
		{"bad amount", "amount=abc", http.StatusBadRequest, ""},
		{"bad decimals", "amount=1&decimals=-3", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(r, http.MethodGet, "/v1/display?"+tt.query)
			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var resp DisplayResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expected, resp.Display)
		})
	}
}

func TestHandler_Refresh(t *testing.T) {
	r, refresher := setupRouter(t)

	w := serve(r, http.MethodPost, "/v1/refresh")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int32(1), refresher.calls.Load())
}

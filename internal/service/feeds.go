package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"ratekeeper/internal/domain"
	"ratekeeper/pkg/units"
)

// exchangeRatesResponse is the body of both cached-exchange-rate endpoints.
type exchangeRatesResponse struct {
	Data []struct {
		Source   string `json:"source"`
		Dest     string `json:"dest"`
		Rate     string `json:"rate"`
		Decimals int    `json:"decimals"`
	} `json:"data"`
}

// productionRatesResponse is the body of the production cross-rate endpoint.
type productionRatesResponse struct {
	Data []struct {
		Source string `json:"source"`
		Dest   string `json:"dest"`
		Rate   string `json:"rate"`
	} `json:"data"`
}

// currentGasResponse is the body of the current gas-price endpoint. Values are gwei.
type currentGasResponse struct {
	GasPrice struct {
		Default  string `json:"default"`
		Low      string `json:"low"`
		Standard string `json:"standard"`
		Fast     string `json:"fast"`
	} `json:"gasPrice"`
}

// maxGasResponse is the body of the max gas-price endpoint. Data is wei.
type maxGasResponse struct {
	Data string `json:"data"`
}

// fetchFailureLevel is Warn for failures the next tick may clear and Error
// for the rest (malformed payloads, bad requests).
func fetchFailureLevel(err error) slog.Level {
	if domain.IsRetriable(err) {
		return slog.LevelWarn
	}
	return slog.LevelError
}

func logFetchFailure(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.Any("error", err))
	logger.Log(context.Background(), fetchFailureLevel(err), msg, attrs...)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func fetchTrackerRates(ctx context.Context, f domain.FeedFetcher, url string) ([]domain.TrackerRate, error) {
	var rows []domain.TrackerRate
	if err := f.FetchJSON(ctx, url, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("tracker feed: %w", domain.ErrEmptyFeed)
	}
	for i := range rows {
		rows[i].Symbol = normalizeSymbol(rows[i].Symbol)
	}
	return rows, nil
}

func fetchExchangeRates(ctx context.Context, f domain.FeedFetcher, url string) ([]domain.Rate, error) {
	var resp exchangeRatesResponse
	if err := f.FetchJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("exchange feed: %w", domain.ErrEmptyFeed)
	}

	rates := make([]domain.Rate, 0, len(resp.Data))
	for _, item := range resp.Data {
		v, err := units.ParseFixed(item.Rate)
		if err != nil {
			return nil, fmt.Errorf("exchange feed %s/%s: %w: %v", item.Source, item.Dest, domain.ErrDecode, err)
		}
		decimals := item.Decimals
		if decimals <= 0 {
			decimals = domain.RateDecimals
		}
		rates = append(rates, domain.Rate{
			Source:   normalizeSymbol(item.Source),
			Dest:     normalizeSymbol(item.Dest),
			Value:    v,
			Decimals: decimals,
		})
	}
	return rates, nil
}

func fetchProductionRates(ctx context.Context, f domain.FeedFetcher, url string) ([]domain.Rate, error) {
	var resp productionRatesResponse
	if err := f.FetchJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("production feed: %w", domain.ErrEmptyFeed)
	}

	rates := make([]domain.Rate, 0, len(resp.Data))
	for _, item := range resp.Data {
		v, err := units.ParseFixed(item.Rate)
		if err != nil {
			return nil, fmt.Errorf("production feed %s/%s: %w: %v", item.Source, item.Dest, domain.ErrDecode, err)
		}
		rates = append(rates, domain.NewRate(normalizeSymbol(item.Source), normalizeSymbol(item.Dest), v))
	}
	return rates, nil
}

// gasTiers is the parsed current-price payload in wei.
type gasTiers struct {
	Default, Low, Standard, Fast *big.Int
}

func fetchCurrentGas(ctx context.Context, f domain.FeedFetcher, url string) (gasTiers, error) {
	var resp currentGasResponse
	if err := f.FetchJSON(ctx, url, &resp); err != nil {
		return gasTiers{}, err
	}

	var tiers gasTiers
	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"default", resp.GasPrice.Default, &tiers.Default},
		{"low", resp.GasPrice.Low, &tiers.Low},
		{"standard", resp.GasPrice.Standard, &tiers.Standard},
		{"fast", resp.GasPrice.Fast, &tiers.Fast},
	}
	for _, fl := range fields {
		v, err := units.ParseGwei(fl.raw)
		if err != nil {
			return gasTiers{}, fmt.Errorf("gas feed %s: %w: %v", fl.name, domain.ErrDecode, err)
		}
		*fl.dst = v
	}
	return tiers, nil
}

func fetchMaxGas(ctx context.Context, f domain.FeedFetcher, url string) (*big.Int, error) {
	var resp maxGasResponse
	if err := f.FetchJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(resp.Data), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("max gas feed %q: %w", resp.Data, domain.ErrDecode)
	}
	return v, nil
}

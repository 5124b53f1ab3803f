package domain

import (
	"math/big"

	"ratekeeper/pkg/units"
)

const (
	ETH = "ETH"
	USD = "USD"

	// RateDecimals is the precision every derived rate is expressed in.
	RateDecimals = 18
)

// Rate is a fixed-point quote: 1 Source = Value / 10^Decimals Dest.
type Rate struct {
	Source   string   `json:"source"`
	Dest     string   `json:"dest"`
	Value    *big.Int `json:"rate"`
	Decimals int      `json:"decimals"`
}

// PairKey builds the "SRC_DEST" key used by cross-rate tables.
func PairKey(from, to string) string {
	return from + "_" + to
}

// Normalized returns the value rescaled to RateDecimals.
func (r Rate) Normalized() *big.Int {
	return units.Rescale(r.Value, r.Decimals, RateDecimals)
}

// NewRate builds an 18-decimal rate.
func NewRate(source, dest string, value *big.Int) Rate {
	if value == nil {
		value = new(big.Int)
	}
	return Rate{Source: source, Dest: dest, Value: value, Decimals: RateDecimals}
}

// TrackerRate is one row of the tracker feed.
type TrackerRate struct {
	Symbol       string  `json:"symbol"`
	RateETH      float64 `json:"rateETH"`
	RateUSD      float64 `json:"rateUSD"`
	Change24hETH float64 `json:"change24hETH"`
	Change24hUSD float64 `json:"change24hUSD"`
}

// ETHRate converts the tracker quote to a fixed-point token→ETH rate.
func (t TrackerRate) ETHRate() Rate {
	return NewRate(t.Symbol, ETH, units.FromFloat(t.RateETH, RateDecimals))
}

// USDRate converts the tracker quote to a fixed-point token→USD rate.
func (t TrackerRate) USDRate() Rate {
	return NewRate(t.Symbol, USD, units.FromFloat(t.RateUSD, RateDecimals))
}

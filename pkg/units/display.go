package units

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	zeroDisplay       = "0.0000"
	significantDigits = 4
	fallbackDigits    = 5
	wideWindow        = 6
	narrowWindow      = 4
)

// DisplayRate renders a fixed-point amount for humans.
//
// Values >= 1 show 6 fractional digits when one of them is non-zero, else 4.
// Values < 1 show digits up to the 4th significant one, counted from the first
// non-zero fractional digit. Digits are truncated, never rounded.
func DisplayRate(amount *big.Int, decimals int) string {
	if amount == nil || amount.Sign() == 0 {
		return zeroDisplay
	}
	if decimals <= 0 {
		return amount.String()
	}

	full := decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(int32(decimals))
	sign := ""
	if strings.HasPrefix(full, "-") {
		sign, full = "-", full[1:]
	}
	intPart, frac, _ := strings.Cut(full, ".")

	if intPart != "0" {
		window := min(wideWindow, len(frac))
		if strings.Trim(frac[:window], "0") == "" {
			return sign + intPart + "." + frac[:min(narrowWindow, len(frac))]
		}
		return sign + intPart + "." + frac[:window]
	}
	return sign + "0." + significant(frac)
}

// DisplayRateString applies the significant-digit rule to an already
// formatted decimal string such as "0.000123456".
func DisplayRateString(s string) string {
	s = strings.TrimSpace(s)
	intPart, frac, ok := strings.Cut(s, ".")
	if !ok || frac == "" {
		return s
	}
	if intPart == "" {
		intPart = "0"
	}
	return intPart + "." + significant(frac)
}

func significant(frac string) string {
	first := strings.IndexFunc(frac, func(r rune) bool { return r != '0' })
	if first < 0 {
		// nothing significant in range
		return frac[:min(fallbackDigits, len(frac))]
	}
	return frac[:min(first+significantDigits, len(frac))]
}

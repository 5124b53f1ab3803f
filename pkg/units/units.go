package units

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
)

// Gwei returns n gwei expressed in wei.
func Gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}

// Pow10 returns 10^n for n >= 0.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// ParseGwei converts a decimal gwei string ("12.5") into wei, truncating
// anything below one wei.
func ParseGwei(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse gwei %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse gwei %q: negative value", s)
	}
	return d.Shift(9).BigInt(), nil
}

// FormatGwei renders a wei amount as gwei for logs and API output.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -9).String()
}

// ParseFixed parses an integer string that already carries its scale.
// Fractional digits, if a feed sends any, are truncated.
func ParseFixed(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse fixed-point %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("parse fixed-point %q: negative value", s)
	}
	return d.BigInt(), nil
}

// FromFloat scales a float quote to a fixed-point integer with the given
// number of decimals.
func FromFloat(f float64, decimals int) *big.Int {
	return decimal.NewFromFloat(f).Shift(int32(decimals)).BigInt()
}

// Rescale moves a fixed-point value from one decimal count to another.
func Rescale(v *big.Int, from, to int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	switch {
	case from == to:
		return new(big.Int).Set(v)
	case from < to:
		return new(big.Int).Mul(v, Pow10(to-from))
	default:
		return new(big.Int).Quo(v, Pow10(from-to))
	}
}

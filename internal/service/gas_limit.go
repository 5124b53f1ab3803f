package service

import "ratekeeper/internal/domain"

// TokenGas overrides the generic limits for one token.
type TokenGas struct {
	Leg      uint64 `yaml:"leg" json:"leg"`
	Transfer uint64 `yaml:"transfer" json:"transfer"`
	// Fixed forces the two-leg estimate even for same-token transfers.
	Fixed bool `yaml:"fixed" json:"fixed"`
}

// GasLimits is the lookup table behind GasLimitPolicy.
type GasLimits struct {
	TransferETH   uint64
	TransferToken uint64
	ExchangeLeg   uint64
	Tokens        map[string]TokenGas
}

// DefaultGasLimits returns the compiled-in table, including the tokens
// whose transfer hooks cost well above the generic leg.
func DefaultGasLimits() GasLimits {
	return GasLimits{
		TransferETH:   120_000,
		TransferToken: 180_000,
		ExchangeLeg:   330_000,
		Tokens: map[string]TokenGas{
			"DGX":  {Leg: 750_000, Transfer: 250_000, Fixed: true},
			"DAI":  {Leg: 450_000},
			"MKR":  {Leg: 400_000},
			"PRO":  {Leg: 400_000},
			"TUSD": {Leg: 450_000},
		},
	}
}

// GasLimitPolicy estimates gas limits for transfers and swaps.
type GasLimitPolicy struct {
	limits GasLimits
}

// NewGasLimitPolicy builds a policy. Zero generic limits fall back to the defaults.
func NewGasLimitPolicy(limits GasLimits) *GasLimitPolicy {
	def := DefaultGasLimits()
	if limits.TransferETH == 0 {
		limits.TransferETH = def.TransferETH
	}
	if limits.TransferToken == 0 {
		limits.TransferToken = def.TransferToken
	}
	if limits.ExchangeLeg == 0 {
		limits.ExchangeLeg = def.ExchangeLeg
	}
	tokens := make(map[string]TokenGas, len(limits.Tokens))
	for sym, tg := range limits.Tokens {
		tokens[normalizeSymbol(sym)] = tg
	}
	limits.Tokens = tokens
	return &GasLimitPolicy{limits: limits}
}

// Estimate returns the gas limit for moving from one token to another.
// Same-token moves are plain transfers unless the token is gas-fixed;
// everything else is priced as from→ETH plus ETH→to.
func (p *GasLimitPolicy) Estimate(from, to string) uint64 {
	from, to = normalizeSymbol(from), normalizeSymbol(to)
	if from == to && !p.limits.Tokens[from].Fixed {
		return p.TransferLimit(from)
	}
	return p.LegLimit(from) + p.LegLimit(to)
}

// LegLimit is the cost of exchanging symbol with ETH in either direction.
func (p *GasLimitPolicy) LegLimit(symbol string) uint64 {
	symbol = normalizeSymbol(symbol)
	if symbol == domain.ETH {
		return 0
	}
	if tg, ok := p.limits.Tokens[symbol]; ok && tg.Leg > 0 {
		return tg.Leg
	}
	return p.limits.ExchangeLeg
}

// TransferLimit is the cost of a plain transfer of symbol.
func (p *GasLimitPolicy) TransferLimit(symbol string) uint64 {
	symbol = normalizeSymbol(symbol)
	if symbol == domain.ETH {
		return p.limits.TransferETH
	}
	if tg, ok := p.limits.Tokens[symbol]; ok && tg.Transfer > 0 {
		return tg.Transfer
	}
	return p.limits.TransferToken
}

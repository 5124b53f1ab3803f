package domain

import (
	"math/big"

	"ratekeeper/pkg/units"
)

var (
	// SuperFastThreshold is the fast tier below which the feed is treated as degenerate.
	SuperFastThreshold = units.Gwei(10)
	// SuperFastFloor is the super-fast price used when fast is below the threshold.
	SuperFastFloor = units.Gwei(20)
)

// GasPriceSet holds the gas tiers in wei.
// Invariant after Normalize: Low <= Standard <= Default <= Fast <= Max.
type GasPriceSet struct {
	Default  *big.Int `json:"default"`
	Low      *big.Int `json:"low"`
	Standard *big.Int `json:"standard"`
	Fast     *big.Int `json:"fast"`
	Max      *big.Int `json:"max"`
}

// DefaultGasPriceSet is the compiled-in set used before anything is loaded.
func DefaultGasPriceSet() GasPriceSet {
	return GasPriceSet{
		Default:  units.Gwei(10),
		Low:      units.Gwei(5),
		Standard: units.Gwei(8),
		Fast:     units.Gwei(15),
		Max:      units.Gwei(100),
	}
}

// Clone returns a deep copy so callers cannot mutate shared big.Ints.
func (g GasPriceSet) Clone() GasPriceSet {
	return GasPriceSet{
		Default:  cloneInt(g.Default),
		Low:      cloneInt(g.Low),
		Standard: cloneInt(g.Standard),
		Fast:     cloneInt(g.Fast),
		Max:      cloneInt(g.Max),
	}
}

// Normalize clamps every tier to Max and restores tier ordering.
// Fast is raised to Default; Standard and Low are lowered beneath it.
func (g *GasPriceSet) Normalize() {
	g.Max = nonNegative(g.Max)
	g.Default = minInt(nonNegative(g.Default), g.Max)
	g.Low = minInt(nonNegative(g.Low), g.Max)
	g.Standard = minInt(nonNegative(g.Standard), g.Max)
	g.Fast = minInt(nonNegative(g.Fast), g.Max)

	if g.Fast.Cmp(g.Default) < 0 {
		g.Fast = cloneInt(g.Default)
	}
	if g.Standard.Cmp(g.Default) > 0 {
		g.Standard = cloneInt(g.Default)
	}
	if g.Low.Cmp(g.Standard) > 0 {
		g.Low = cloneInt(g.Standard)
	}
}

// Ordered reports whether the tier ordering invariant holds.
func (g GasPriceSet) Ordered() bool {
	tiers := []*big.Int{g.Low, g.Standard, g.Default, g.Fast, g.Max}
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1] == nil || tiers[i] == nil || tiers[i-1].Cmp(tiers[i]) > 0 {
			return false
		}
	}
	return true
}

// SuperFast derives the super-fast tier from Fast and Max.
func (g GasPriceSet) SuperFast() *big.Int {
	fast := nonNegative(g.Fast)
	ceiling := nonNegative(g.Max)
	if fast.Cmp(SuperFastThreshold) < 0 {
		return minInt(SuperFastFloor, ceiling)
	}
	return minInt(new(big.Int).Mul(fast, big.NewInt(2)), ceiling)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func nonNegative(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return new(big.Int)
	}
	return cloneInt(v)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) > 0 {
		return cloneInt(b)
	}
	return cloneInt(a)
}

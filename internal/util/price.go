// Package util provides common utility functions for price calculations.
package util

import (
	"math"

	"github.com/nopeig/nopebot/internal/broker"
)

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// MidpointOrMarket returns the ticker's bid/ask midpoint, falling back to the
// last market price when the midpoint is undefined. The result may still be
// NaN when the contract has no market data at all; callers must check.
func MidpointOrMarket(t *broker.Ticker) float64 {
	if mid := t.Midpoint(); !math.IsNaN(mid) {
		return mid
	}
	return t.MarketPrice()
}

// Package engine holds the pure threshold logic mapping the signal value and
// current exposure to enter/exit actions. No broker calls, no clock: the
// entry and exit tasks feed it fresh snapshots each tick.
package engine

import (
	"fmt"

	"github.com/nopeig/nopebot/internal/broker"
)

// Thresholds are the signal levels driving entries and exits.
type Thresholds struct {
	LongEnter  float64 // enter calls below this
	ShortEnter float64 // enter puts above this
	LongExit   float64 // exit calls above this
	ShortExit  float64 // exit puts below this
}

// Limits cap total exposure (held + pending buys) per right.
type Limits struct {
	CallLimit int
	PutLimit  int
}

// Engine evaluates the strategy's threshold rules.
type Engine struct {
	thresholds Thresholds
	limits     Limits
}

// New creates an engine with the given thresholds and exposure limits.
func New(thresholds Thresholds, limits Limits) *Engine {
	return &Engine{thresholds: thresholds, limits: limits}
}

// EntryCandidate maps a signal value to at most one entry action per tick.
// A deeply negative signal is a long (call) entry, a deeply positive one a
// short (put) entry; the checks are mutually exclusive, long side first.
func (e *Engine) EntryCandidate(value float64) (broker.Right, bool) {
	if value < e.thresholds.LongEnter {
		return broker.RightCall, true
	}
	if value > e.thresholds.ShortEnter {
		return broker.RightPut, true
	}
	return "", false
}

// AllowEntry gates a candidate entry on current exposure. quantity is the
// contract count the entry would add.
func (e *Engine) AllowEntry(right broker.Right, exposure, quantity int) (bool, string) {
	limit := e.Limit(right)
	if exposure+quantity > limit {
		return false, fmt.Sprintf("%s exposure %d + %d would exceed limit %d",
			right, exposure, quantity, limit)
	}
	return true, ""
}

// ShouldExit reports whether held positions of the right should be exited at
// the given signal value. Exit evaluation is independent of entry: a tick can
// enter one side and exit the other.
func (e *Engine) ShouldExit(right broker.Right, value float64) bool {
	if right == broker.RightCall {
		return value > e.thresholds.LongExit
	}
	return value < e.thresholds.ShortExit
}

// Limit returns the exposure limit for the right.
func (e *Engine) Limit(right broker.Right) int {
	if right == broker.RightCall {
		return e.limits.CallLimit
	}
	return e.limits.PutLimit
}

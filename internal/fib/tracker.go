// Package fib implements the Fibonacci retracement engine: per-position
// extrema tracking, retracement level computation, and the hedge decision
// policy. Everything here is pure computation over decimal values; no I/O.
package fib

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// Tracker maintains the highest and lowest observed price since entry.
// Highest only increases and lowest only decreases; a tick that is neither
// leaves the state unchanged.
type Tracker struct {
	highest decimal.Decimal
	lowest  decimal.Decimal
}

// NewTracker seeds a tracker with the entry price.
func NewTracker(entryPrice decimal.Decimal) *Tracker {
	return &Tracker{highest: entryPrice, lowest: entryPrice}
}

// RestoreTracker rebuilds a tracker from persisted extrema, falling back to
// the entry price when a side has never moved.
func RestoreTracker(entryPrice, highest, lowest decimal.Decimal) *Tracker {
	t := NewTracker(entryPrice)
	if highest.GreaterThan(t.highest) {
		t.highest = highest
	}
	if lowest.IsPositive() && lowest.LessThan(t.lowest) {
		t.lowest = lowest
	}
	return t
}

// Update feeds a price into the tracker and reports whether it established a
// new high or a new low. Non-positive prices are rejected without mutating
// state.
func (t *Tracker) Update(price decimal.Decimal) (newHigh, newLow bool, err error) {
	if !price.IsPositive() {
		return false, false, fmt.Errorf("%w: price %s is not positive", domain.ErrInvalidTick, price)
	}
	if price.GreaterThan(t.highest) {
		t.highest = price
		newHigh = true
	}
	if price.LessThan(t.lowest) {
		t.lowest = price
		newLow = true
	}
	return newHigh, newLow, nil
}

// Highest returns the highest price observed since entry.
func (t *Tracker) Highest() decimal.Decimal { return t.highest }

// Lowest returns the lowest price observed since entry.
func (t *Tracker) Lowest() decimal.Decimal { return t.lowest }

// Extremum returns the favorable extremum for the given side.
func (t *Tracker) Extremum(side domain.Side) decimal.Decimal {
	if side == domain.SideShort {
		return t.lowest
	}
	return t.highest
}

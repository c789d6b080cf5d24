package fib

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// LevelSet holds the three retracement level prices derived from an entry
// price and a favorable extremum.
type LevelSet struct {
	Price23 decimal.Decimal
	Price38 decimal.Decimal
	Price50 decimal.Decimal
}

// Price returns the price of the given level.
func (ls LevelSet) Price(level domain.FibLevel) decimal.Decimal {
	switch level {
	case domain.Level23:
		return ls.Price23
	case domain.Level38:
		return ls.Price38
	case domain.Level50:
		return ls.Price50
	}
	return decimal.Zero
}

// Gain returns the favorable move beyond entry for the given side: extremum
// minus entry for a long, entry minus extremum for a short. A non-positive
// gain means the extremum has not cleared entry and levels are undefined.
func Gain(side domain.Side, entry, extremum decimal.Decimal) decimal.Decimal {
	if side == domain.SideShort {
		return entry.Sub(extremum)
	}
	return extremum.Sub(entry)
}

// Levels computes the three retracement level prices. For a long, level N
// sits at extremum - gain*rN; for a short at extremum + gain*rN. It returns
// domain.ErrNoGain when the extremum has not moved favorably past entry;
// callers treat that as "no levels yet, nothing can be triggered".
func Levels(side domain.Side, entry, extremum, r23, r38, r50 decimal.Decimal) (LevelSet, error) {
	gain := Gain(side, entry, extremum)
	if !gain.IsPositive() {
		return LevelSet{}, fmt.Errorf("%w: entry %s extremum %s", domain.ErrNoGain, entry, extremum)
	}

	at := func(r decimal.Decimal) decimal.Decimal {
		if side == domain.SideShort {
			return extremum.Add(gain.Mul(r))
		}
		return extremum.Sub(gain.Mul(r))
	}
	return LevelSet{
		Price23: at(r23),
		Price38: at(r38),
		Price50: at(r50),
	}, nil
}

// Retracement computes the fraction by which the current price has reversed
// from the extremum back toward entry: 0 at the peak, 1 when fully back to
// entry, above 1 when price has crossed entry. The value is reported as-is,
// never clamped. Returns domain.ErrNoGain when the extremum has not cleared
// entry.
func Retracement(side domain.Side, entry, extremum, current decimal.Decimal) (decimal.Decimal, error) {
	gain := Gain(side, entry, extremum)
	if !gain.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: entry %s extremum %s", domain.ErrNoGain, entry, extremum)
	}
	if side == domain.SideShort {
		return current.Sub(extremum).Div(gain), nil
	}
	return extremum.Sub(current).Div(gain), nil
}

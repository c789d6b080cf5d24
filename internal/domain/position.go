package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// PositionStatus tracks a position through its hedging lifecycle.
// Transitions are forward-only: active -> hedged -> scaled; closed is
// terminal and reachable from any state via an explicit close.
type PositionStatus string

const (
	StatusActive PositionStatus = "active"
	StatusHedged PositionStatus = "hedged"
	StatusScaled PositionStatus = "scaled"
	StatusClosed PositionStatus = "closed"
)

// Valid reports whether the status is one of the known values.
func (s PositionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusHedged, StatusScaled, StatusClosed:
		return true
	}
	return false
}

// Position is a single open or closed trade tracked against its trading plan.
// Entry fields are immutable after creation; tracked fields are mutated
// exclusively by the position's state machine.
type Position struct {
	ID     string
	PlanID string

	Coin          string
	Side          Side
	EntryPrice    decimal.Decimal
	EntryQuantity decimal.Decimal
	EntryValueUSD decimal.Decimal
	EntryTime     time.Time

	Status PositionStatus

	// Extrema since entry. Seeded with the entry price.
	HighestPrice decimal.Decimal
	LowestPrice  decimal.Decimal
	CurrentPrice decimal.Decimal

	// Cached Fibonacci retracement level prices. Zero until a favorable
	// extremum beyond entry exists.
	Fib23Price decimal.Decimal
	Fib38Price decimal.Decimal
	Fib50Price decimal.Decimal

	// Idempotent per-level trigger flags. Triggering a deeper level marks
	// all shallower levels as triggered too.
	Triggered23 bool
	Triggered38 bool
	Triggered50 bool

	UnrealizedPnLUSD decimal.Decimal
	RealizedPnLUSD   decimal.Decimal

	ExitPrice    decimal.Decimal
	ExitQuantity decimal.Decimal
	ExitTime     *time.Time

	// LastTickTime is the timestamp of the last applied tick; older ticks
	// are rejected as stale.
	LastTickTime time.Time

	// Dirty is set when in-memory state is ahead of the store after a
	// failed save. In-memory state stays authoritative.
	Dirty bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsClosed reports whether the position is terminal.
func (p *Position) IsClosed() bool {
	return p.Status == StatusClosed
}

// HasLevels reports whether Fibonacci levels have been computed, i.e. a
// favorable extremum beyond entry has been observed.
func (p *Position) HasLevels() bool {
	return !p.Fib23Price.IsZero()
}

// Extremum returns the favorable extremum for the position's side: the
// highest price since entry for a long, the lowest for a short.
func (p *Position) Extremum() decimal.Decimal {
	if p.Side == SideShort {
		return p.LowestPrice
	}
	return p.HighestPrice
}

// UnrealizedPnL computes the unrealized P&L at the given price.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(price).Mul(p.EntryQuantity)
	}
	return price.Sub(p.EntryPrice).Mul(p.EntryQuantity)
}

// Triggered reports whether the given level has already fired for this
// position.
func (p *Position) Triggered(level FibLevel) bool {
	switch level {
	case Level23:
		return p.Triggered23
	case Level38:
		return p.Triggered38
	case Level50:
		return p.Triggered50
	}
	return false
}

// MarkTriggered records the level and every shallower level as triggered.
func (p *Position) MarkTriggered(level FibLevel) {
	switch level {
	case Level50:
		p.Triggered50 = true
		fallthrough
	case Level38:
		p.Triggered38 = true
		fallthrough
	case Level23:
		p.Triggered23 = true
	}
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FibLevel identifies one of the three configured retracement levels.
type FibLevel int

const (
	LevelNone FibLevel = 0
	Level23   FibLevel = 23
	Level38   FibLevel = 38
	Level50   FibLevel = 50
)

// Deeper reports whether l is a deeper retracement than other.
func (l FibLevel) Deeper(other FibLevel) bool {
	return l > other
}

// Action is the recommendation produced by the hedge decision policy.
type Action string

const (
	ActionHold  Action = "hold"
	ActionHedge Action = "hedge"
	ActionScale Action = "scale"
)

// TriggerEvent is the immutable record that a position crossed a Fibonacci
// level for the first time. It is persisted and pushed to notification
// collaborators; never mutated once emitted.
type TriggerEvent struct {
	ID         string
	PositionID string
	Coin       string
	Side       Side
	Level      FibLevel
	Action     Action

	// Price at the crossing tick and the retracement fraction it produced.
	Price       decimal.Decimal
	Retracement decimal.Decimal

	// HedgeAmountUSD is the suggested offset size (hedge_ratio x position
	// value) when Action is hedge; zero otherwise.
	HedgeAmountUSD decimal.Decimal

	Timestamp time.Time
}

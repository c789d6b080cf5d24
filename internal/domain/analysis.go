package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FibAnalysis is the read model served for a position's Fibonacci state:
// levels, retracement, trigger flags, and the policy's current
// recommendation.
type FibAnalysis struct {
	PositionID string
	Coin       string
	Side       Side
	Status     PositionStatus

	EntryPrice   decimal.Decimal
	CurrentPrice decimal.Decimal
	HighestPrice decimal.Decimal
	LowestPrice  decimal.Decimal

	Level23Price decimal.Decimal
	Level38Price decimal.Decimal
	Level50Price decimal.Decimal

	// Gain fractions relative to entry; zero when no tick has been applied.
	CurrentGainPct decimal.Decimal
	PeakGainPct    decimal.Decimal

	// Retracement fraction from the favorable extremum; zero when the
	// extremum has not cleared entry.
	CurrentRetracementPct decimal.Decimal

	Triggered23 bool
	Triggered38 bool
	Triggered50 bool

	RecommendedAction Action
	HedgeSuggested    bool
	ScaleSuggested    bool

	AsOf time.Time
}

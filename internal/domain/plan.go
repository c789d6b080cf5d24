package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradingPlan is the per-coin configuration for the Fibonacci hedging
// strategy. It owns zero or more positions and is read-only from the engine's
// perspective.
type TradingPlan struct {
	ID       string
	Coin     string
	Strategy string

	// Retracement thresholds as fractions in (0,1), strictly ascending.
	Retracement23 decimal.Decimal
	Retracement38 decimal.Decimal
	Retracement50 decimal.Decimal

	MaxDrawdownPct decimal.Decimal
	StopLossPct    decimal.Decimal
	TakeProfitPct  *decimal.Decimal

	PositionSizeUSD  decimal.Decimal
	MaxPositionCount int

	// HedgeRatio is the fraction of the position hedged at the first
	// trigger.
	HedgeRatio     decimal.Decimal
	ScalingEnabled bool

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultPlan returns a plan seeded with the strategy defaults for the given
// coin. The caller still sets ID, sizing and timestamps.
func DefaultPlan(coin string) TradingPlan {
	return TradingPlan{
		Coin:             coin,
		Strategy:         "fibonacci_hedging",
		Retracement23:    decimal.NewFromFloat(0.23),
		Retracement38:    decimal.NewFromFloat(0.38),
		Retracement50:    decimal.NewFromFloat(0.50),
		MaxDrawdownPct:   decimal.NewFromFloat(0.23),
		StopLossPct:      decimal.NewFromFloat(0.05),
		MaxPositionCount: 1,
		HedgeRatio:       decimal.NewFromFloat(0.5),
		ScalingEnabled:   true,
		IsActive:         true,
	}
}

var one = decimal.NewFromInt(1)

// Validate checks the plan's construction invariants. A violation is a
// configuration error; it is never silently corrected.
func (p TradingPlan) Validate() error {
	if p.Coin == "" {
		return fmt.Errorf("%w: coin is required", ErrPlanConfig)
	}
	for name, v := range map[string]decimal.Decimal{
		"retracement_23": p.Retracement23,
		"retracement_38": p.Retracement38,
		"retracement_50": p.Retracement50,
		"max_drawdown":   p.MaxDrawdownPct,
		"stop_loss":      p.StopLossPct,
		"hedge_ratio":    p.HedgeRatio,
	} {
		if !v.IsPositive() || v.GreaterThanOrEqual(one) {
			return fmt.Errorf("%w: %s must be in (0,1), got %s", ErrPlanConfig, name, v)
		}
	}
	if p.TakeProfitPct != nil {
		if !p.TakeProfitPct.IsPositive() || p.TakeProfitPct.GreaterThanOrEqual(one) {
			return fmt.Errorf("%w: take_profit must be in (0,1), got %s", ErrPlanConfig, p.TakeProfitPct)
		}
	}
	if !(p.Retracement23.LessThan(p.Retracement38) && p.Retracement38.LessThan(p.Retracement50)) {
		return fmt.Errorf("%w: retracement levels must be strictly ascending: %s < %s < %s",
			ErrPlanConfig, p.Retracement23, p.Retracement38, p.Retracement50)
	}
	if !p.PositionSizeUSD.IsPositive() {
		return fmt.Errorf("%w: position_size_usd must be positive", ErrPlanConfig)
	}
	if p.MaxPositionCount < 1 {
		return fmt.Errorf("%w: max_position_count must be at least 1", ErrPlanConfig)
	}
	return nil
}

// PlanStats summarizes the performance of one plan's positions.
type PlanStats struct {
	PlanID string
	Coin   string

	TotalPositions  int
	ActivePositions int
	ClosedPositions int

	TotalPnLUSD           decimal.Decimal
	TotalRealizedPnLUSD   decimal.Decimal
	TotalUnrealizedPnLUSD decimal.Decimal
	WinRatePct            decimal.Decimal
	CurrentExposureUSD    decimal.Decimal

	LastUpdated time.Time
}

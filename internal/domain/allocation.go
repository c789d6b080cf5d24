package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioAllocation sets the target capital split for one coin.
type PortfolioAllocation struct {
	ID   string
	Coin string

	TargetAllocationPct decimal.Decimal
	MaxAllocationPct    decimal.Decimal
	MinAllocationPct    decimal.Decimal
	CashReservePct      decimal.Decimal

	SpotSavingsEnabled bool
	SpotSavingsPct     decimal.Decimal

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks allocation bounds: all fractions in [0,1] and
// min <= target <= max.
func (a PortfolioAllocation) Validate() error {
	if a.Coin == "" {
		return fmt.Errorf("%w: coin is required", ErrPlanConfig)
	}
	for name, v := range map[string]decimal.Decimal{
		"target_allocation": a.TargetAllocationPct,
		"max_allocation":    a.MaxAllocationPct,
		"min_allocation":    a.MinAllocationPct,
		"cash_reserve":      a.CashReservePct,
		"spot_savings":      a.SpotSavingsPct,
	} {
		if v.IsNegative() || v.GreaterThan(one) {
			return fmt.Errorf("%w: %s must be in [0,1], got %s", ErrPlanConfig, name, v)
		}
	}
	if a.TargetAllocationPct.LessThan(a.MinAllocationPct) || a.TargetAllocationPct.GreaterThan(a.MaxAllocationPct) {
		return fmt.Errorf("%w: target allocation %s outside [%s, %s]",
			ErrPlanConfig, a.TargetAllocationPct, a.MinAllocationPct, a.MaxAllocationPct)
	}
	return nil
}

// PortfolioSummary aggregates exposure and P&L across all plans.
type PortfolioSummary struct {
	TotalPositions        int
	ActivePositions       int
	TotalExposureUSD      decimal.Decimal
	TotalUnrealizedPnLUSD decimal.Decimal
	TotalRealizedPnLUSD   decimal.Decimal
	ByCoin                map[string]CoinExposure
	AsOf                  time.Time
}

// CoinExposure is the per-coin slice of the portfolio summary.
type CoinExposure struct {
	Coin             string
	Positions        int
	ExposureUSD      decimal.Decimal
	UnrealizedPnLUSD decimal.Decimal
	RealizedPnLUSD   decimal.Decimal
}

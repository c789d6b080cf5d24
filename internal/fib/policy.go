package fib

import (
	"github.com/shopspring/decimal"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

// Decision is the outcome of evaluating a position's retracement against the
// plan's thresholds.
type Decision struct {
	Action domain.Action
	Level  domain.FibLevel

	// HedgeAmountUSD is hedge_ratio x entry value when Action is hedge.
	HedgeAmountUSD decimal.Decimal

	// Advisory is set when a deeper level crossed but scaling is disabled
	// on the plan; the level is consumed and logged, no action taken.
	Advisory bool
}

// Hold is the no-op decision.
func Hold() Decision {
	return Decision{Action: domain.ActionHold, Level: domain.LevelNone}
}

// Evaluate maps the current retracement fraction onto the deepest untriggered
// level it has crossed, per the plan configuration. Boundaries are inclusive:
// retracement exactly at a threshold counts as crossed. At most one level is
// returned per call; the state machine marks it and every shallower level as
// triggered, so re-evaluating with the same retracement and updated flags
// yields hold.
func Evaluate(pos *domain.Position, plan *domain.TradingPlan, retracement decimal.Decimal) Decision {
	level := deepestCrossed(pos, plan, retracement)
	if level == domain.LevelNone {
		return Hold()
	}

	switch level {
	case domain.Level23:
		return Decision{
			Action:         domain.ActionHedge,
			Level:          level,
			HedgeAmountUSD: plan.HedgeRatio.Mul(pos.EntryValueUSD),
		}
	default: // Level38, Level50
		if !plan.ScalingEnabled {
			// Deeper levels never auto-scale on a scaling-disabled plan.
			return Decision{Action: domain.ActionHold, Level: level, Advisory: true}
		}
		return Decision{Action: domain.ActionScale, Level: level}
	}
}

// deepestCrossed returns the deepest level whose threshold the retracement
// has reached and which has not yet been triggered for this position.
func deepestCrossed(pos *domain.Position, plan *domain.TradingPlan, retracement decimal.Decimal) domain.FibLevel {
	switch {
	case !pos.Triggered50 && retracement.GreaterThanOrEqual(plan.Retracement50):
		return domain.Level50
	case !pos.Triggered38 && retracement.GreaterThanOrEqual(plan.Retracement38):
		return domain.Level38
	case !pos.Triggered23 && retracement.GreaterThanOrEqual(plan.Retracement23):
		return domain.Level23
	}
	return domain.LevelNone
}

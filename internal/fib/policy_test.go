package fib

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

func testPlan(scaling bool) domain.TradingPlan {
	plan := domain.DefaultPlan("BTC")
	plan.ID = "plan-1"
	plan.PositionSizeUSD = d("1000")
	plan.ScalingEnabled = scaling
	return plan
}

func testPosition() domain.Position {
	return domain.Position{
		ID:            "pos-1",
		PlanID:        "plan-1",
		Coin:          "BTC",
		Side:          domain.SideLong,
		EntryPrice:    d("100"),
		EntryQuantity: d("10"),
		EntryValueUSD: d("1000"),
		Status:        domain.StatusActive,
	}
}

func TestEvaluateDecisionTable(t *testing.T) {
	cases := []struct {
		name        string
		retracement string
		scaling     bool
		wantAction  domain.Action
		wantLevel   domain.FibLevel
		advisory    bool
	}{
		{"below 23", "0.22", true, domain.ActionHold, domain.LevelNone, false},
		{"exactly 23 inclusive", "0.23", true, domain.ActionHedge, domain.Level23, false},
		{"between 23 and 38", "0.30", true, domain.ActionHedge, domain.Level23, false},
		{"exactly 38 inclusive", "0.38", true, domain.ActionScale, domain.Level38, false},
		{"between 38 and 50", "0.45", true, domain.ActionScale, domain.Level38, false},
		{"exactly 50 inclusive", "0.50", true, domain.ActionScale, domain.Level50, false},
		{"deep past 50", "1.10", true, domain.ActionScale, domain.Level50, false},
		{"scaling disabled at 38", "0.40", false, domain.ActionHold, domain.Level38, true},
		{"scaling disabled at 50", "0.60", false, domain.ActionHold, domain.Level50, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := testPosition()
			plan := testPlan(tc.scaling)

			dec := Evaluate(&pos, &plan, d(tc.retracement))
			assert.Equal(t, tc.wantAction, dec.Action)
			assert.Equal(t, tc.wantLevel, dec.Level)
			assert.Equal(t, tc.advisory, dec.Advisory)
		})
	}
}

func TestEvaluateHedgeAmount(t *testing.T) {
	pos := testPosition()
	plan := testPlan(true)

	dec := Evaluate(&pos, &plan, d("0.25"))
	assert.Equal(t, domain.ActionHedge, dec.Action)
	// hedge_ratio 0.5 x entry value 1000
	assert.True(t, dec.HedgeAmountUSD.Equal(d("500")), "got %s", dec.HedgeAmountUSD)
}

func TestEvaluateIdempotent(t *testing.T) {
	pos := testPosition()
	plan := testPlan(true)

	dec := Evaluate(&pos, &plan, d("0.40"))
	assert.Equal(t, domain.Level38, dec.Level)
	pos.MarkTriggered(dec.Level)

	// Same retracement with the level now marked: hold, never re-fires.
	dec = Evaluate(&pos, &plan, d("0.40"))
	assert.Equal(t, domain.ActionHold, dec.Action)
	assert.Equal(t, domain.LevelNone, dec.Level)
}

func TestEvaluateDeepestUntriggeredOnly(t *testing.T) {
	pos := testPosition()
	plan := testPlan(true)

	// Jump straight past 23 and 38: only 38 fires.
	dec := Evaluate(&pos, &plan, d("0.40"))
	assert.Equal(t, domain.Level38, dec.Level)
	pos.MarkTriggered(dec.Level)

	// 23 is marked as triggered alongside 38 and never fires on its own.
	assert.True(t, pos.Triggered23)
	assert.True(t, pos.Triggered38)
	assert.False(t, pos.Triggered50)

	// Retracement deepens past 50: the remaining level fires.
	dec = Evaluate(&pos, &plan, d("0.55"))
	assert.Equal(t, domain.Level50, dec.Level)
	assert.Equal(t, domain.ActionScale, dec.Action)
}

func TestMarkTriggeredMonotonic(t *testing.T) {
	pos := testPosition()
	pos.MarkTriggered(domain.Level50)
	assert.True(t, pos.Triggered23)
	assert.True(t, pos.Triggered38)
	assert.True(t, pos.Triggered50)

	pos = testPosition()
	pos.MarkTriggered(domain.Level38)
	assert.True(t, pos.Triggered23)
	assert.True(t, pos.Triggered38)
	assert.False(t, pos.Triggered50)

	pos = testPosition()
	pos.MarkTriggered(domain.Level23)
	assert.True(t, pos.Triggered23)
	assert.False(t, pos.Triggered38)
}

func TestEvaluateCustomThresholds(t *testing.T) {
	pos := testPosition()
	plan := testPlan(true)
	plan.Retracement23 = decimal.RequireFromString("0.10")
	plan.Retracement38 = decimal.RequireFromString("0.20")
	plan.Retracement50 = decimal.RequireFromString("0.30")

	dec := Evaluate(&pos, &plan, d("0.15"))
	assert.Equal(t, domain.Level23, dec.Level)
	assert.Equal(t, domain.ActionHedge, dec.Action)
}

package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func validPlan() TradingPlan {
	plan := DefaultPlan("BTC")
	plan.ID = "plan-1"
	plan.PositionSizeUSD = d("1000")
	return plan
}

func TestPlanValidate(t *testing.T) {
	require.NoError(t, validPlan().Validate())
}

func TestPlanValidateAscendingLevels(t *testing.T) {
	cases := []struct {
		name          string
		r23, r38, r50 string
	}{
		{"descending", "0.50", "0.38", "0.23"},
		{"equal 23 and 38", "0.38", "0.38", "0.50"},
		{"38 above 50", "0.23", "0.60", "0.50"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := validPlan()
			plan.Retracement23 = d(tc.r23)
			plan.Retracement38 = d(tc.r38)
			plan.Retracement50 = d(tc.r50)
			assert.ErrorIs(t, plan.Validate(), ErrPlanConfig)
		})
	}
}

func TestPlanValidateBounds(t *testing.T) {
	plan := validPlan()
	plan.HedgeRatio = d("1")
	assert.ErrorIs(t, plan.Validate(), ErrPlanConfig)

	plan = validPlan()
	plan.StopLossPct = d("0")
	assert.ErrorIs(t, plan.Validate(), ErrPlanConfig)

	plan = validPlan()
	plan.PositionSizeUSD = d("0")
	assert.ErrorIs(t, plan.Validate(), ErrPlanConfig)

	plan = validPlan()
	plan.MaxPositionCount = 0
	assert.ErrorIs(t, plan.Validate(), ErrPlanConfig)

	plan = validPlan()
	tp := d("1.5")
	plan.TakeProfitPct = &tp
	assert.ErrorIs(t, plan.Validate(), ErrPlanConfig)

	plan = validPlan()
	tp = d("0.10")
	plan.TakeProfitPct = &tp
	assert.NoError(t, plan.Validate())
}

func TestPositionPatchApply(t *testing.T) {
	now := time.Unix(100, 0).UTC()
	pos := Position{
		ID:           "pos-1",
		Status:       StatusActive,
		CurrentPrice: d("100"),
		HighestPrice: d("100"),
	}

	status := StatusHedged
	price := d("130")
	patch := PositionPatch{
		Status:       &status,
		CurrentPrice: &price,
		ExitTime:     &now,
	}

	got := patch.Apply(pos)
	assert.Equal(t, StatusHedged, got.Status)
	assert.True(t, got.CurrentPrice.Equal(d("130")))
	require.NotNil(t, got.ExitTime)
	assert.Equal(t, now, *got.ExitTime)
	// Untouched fields survive.
	assert.True(t, got.HighestPrice.Equal(d("100")))
	// Source position is not mutated.
	assert.Equal(t, StatusActive, pos.Status)
	assert.True(t, pos.CurrentPrice.Equal(d("100")))
}

func TestPositionPatchIsZero(t *testing.T) {
	assert.True(t, PositionPatch{}.IsZero())
	s := StatusClosed
	assert.False(t, PositionPatch{Status: &s}.IsZero())
}

func TestTickValidate(t *testing.T) {
	valid := Tick{Coin: "BTC", Price: d("100"), Timestamp: time.Unix(1, 0)}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Coin = "  "
	assert.ErrorIs(t, bad.Validate(), ErrInvalidTick)

	bad = valid
	bad.Price = d("0")
	assert.ErrorIs(t, bad.Validate(), ErrInvalidTick)

	bad = valid
	bad.Timestamp = time.Time{}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidTick)
}

func TestUnrealizedPnL(t *testing.T) {
	long := Position{Side: SideLong, EntryPrice: d("100"), EntryQuantity: d("2")}
	assert.True(t, long.UnrealizedPnL(d("110")).Equal(d("20")))

	short := Position{Side: SideShort, EntryPrice: d("100"), EntryQuantity: d("2")}
	assert.True(t, short.UnrealizedPnL(d("90")).Equal(d("20")))
	assert.True(t, short.UnrealizedPnL(d("110")).Equal(d("-20")))
}

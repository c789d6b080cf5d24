package engine

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPlan(scaling bool) domain.TradingPlan {
	plan := domain.DefaultPlan("BTC")
	plan.ID = "plan-1"
	plan.PositionSizeUSD = d("1000")
	plan.ScalingEnabled = scaling
	return plan
}

func newTestPosition(side domain.Side) domain.Position {
	return domain.Position{
		ID:            "pos-1",
		PlanID:        "plan-1",
		Coin:          "BTC",
		Side:          side,
		EntryPrice:    d("100"),
		EntryQuantity: d("1"),
		EntryValueUSD: d("100"),
		EntryTime:     time.Unix(0, 0).UTC(),
		Status:        domain.StatusActive,
	}
}

func tick(price string, sec int64) domain.Tick {
	return domain.Tick{Coin: "BTC", Price: d(price), Timestamp: time.Unix(sec, 0).UTC()}
}

func mustMachine(t *testing.T, pos domain.Position, plan domain.TradingPlan) *Machine {
	t.Helper()
	m, err := NewMachine(pos, plan, discardLogger())
	require.NoError(t, err)
	return m
}

func TestLongRetracementScenario(t *testing.T) {
	// Long entry at 100, qty 1. Price runs to 150 then retraces to 130:
	// retracement (150-130)/50 = 0.40 crosses both 23% and 38% in one tick,
	// so a single trigger fires at 38%, both levels end up marked, and the
	// position moves to hedged.
	m := mustMachine(t, newTestPosition(domain.SideLong), newTestPlan(true))

	res, err := m.ApplyTick(tick("150", 1))
	require.NoError(t, err)
	assert.True(t, res.NewExtremum)
	assert.Nil(t, res.Trigger)
	assert.True(t, res.Position.Fib23Price.Equal(d("138.5")), "got %s", res.Position.Fib23Price)
	assert.True(t, res.Position.Fib38Price.Equal(d("131")))
	assert.True(t, res.Position.Fib50Price.Equal(d("125")))

	res, err = m.ApplyTick(tick("130", 2))
	require.NoError(t, err)
	require.NotNil(t, res.Trigger)
	assert.Equal(t, domain.Level38, res.Trigger.Level)
	assert.Equal(t, domain.ActionScale, res.Trigger.Action)
	assert.True(t, res.Trigger.Retracement.Equal(d("0.4")))
	assert.Equal(t, domain.StatusHedged, res.Position.Status)
	assert.True(t, res.Position.Triggered23)
	assert.True(t, res.Position.Triggered38)
	assert.False(t, res.Position.Triggered50)

	// Unrealized P&L at 130 for 1 unit from entry 100.
	assert.True(t, res.Position.UnrealizedPnLUSD.Equal(d("30")), "got %s", res.Position.UnrealizedPnLUSD)
}

func TestShortRetracementScenario(t *testing.T) {
	// Short entry at 100. Price falls to 80 (gain 20, level23 at 84.6) then
	// rises to 90: retracement (90-80)/20 = 0.50 fires the 50% level
	// directly. Single-step-per-tick: the status advances one step to
	// hedged; all three levels are marked triggered.
	m := mustMachine(t, newTestPosition(domain.SideShort), newTestPlan(true))

	res, err := m.ApplyTick(tick("80", 1))
	require.NoError(t, err)
	assert.True(t, res.NewExtremum)
	assert.True(t, res.Position.Fib23Price.Equal(d("84.6")), "got %s", res.Position.Fib23Price)

	res, err = m.ApplyTick(tick("90", 2))
	require.NoError(t, err)
	require.NotNil(t, res.Trigger)
	assert.Equal(t, domain.Level50, res.Trigger.Level)
	assert.Equal(t, domain.ActionScale, res.Trigger.Action)
	assert.Equal(t, domain.StatusHedged, res.Position.Status)
	assert.True(t, res.Position.Triggered23)
	assert.True(t, res.Position.Triggered38)
	assert.True(t, res.Position.Triggered50)

	// Short P&L at 90 from entry 100.
	assert.True(t, res.Position.UnrealizedPnLUSD.Equal(d("10")))
}

func TestHedgedToScaledOnDeeperTrigger(t *testing.T) {
	m := mustMachine(t, newTestPosition(domain.SideLong), newTestPlan(true))

	_, err := m.ApplyTick(tick("150", 1))
	require.NoError(t, err)

	// 23% crossed: hedge, active -> hedged.
	res, err := m.ApplyTick(tick("138", 2))
	require.NoError(t, err)
	require.NotNil(t, res.Trigger)
	assert.Equal(t, domain.Level23, res.Trigger.Level)
	assert.Equal(t, domain.ActionHedge, res.Trigger.Action)
	assert.True(t, res.Trigger.HedgeAmountUSD.Equal(d("50")), "got %s", res.Trigger.HedgeAmountUSD)
	assert.Equal(t, domain.StatusHedged, res.Position.Status)

	// 38% crossed next: scale, hedged -> scaled.
	res, err = m.ApplyTick(tick("131", 3))
	require.NoError(t, err)
	require.NotNil(t, res.Trigger)
	assert.Equal(t, domain.Level38, res.Trigger.Level)
	assert.Equal(t, domain.StatusScaled, res.Position.Status)

	// 50% crossed: trigger fires but scaled is the deepest level-driven state.
	res, err = m.ApplyTick(tick("125", 4))
	require.NoError(t, err)
	require.NotNil(t, res.Trigger)
	assert.Equal(t, domain.Level50, res.Trigger.Level)
	assert.Equal(t, domain.StatusScaled, res.Position.Status)
}

func TestNoTriggerWithoutGain(t *testing.T) {
	m := mustMachine(t, newTestPosition(domain.SideLong), newTestPlan(true))

	// Price goes straight down from entry: no favorable extremum, no levels,
	// nothing to trigger, but price and P&L still update.
	res, err := m.ApplyTick(tick("90", 1))
	require.NoError(t, err)
	assert.Nil(t, res.Trigger)
	assert.False(t, res.Position.HasLevels())
	assert.Equal(t, domain.StatusActive, res.Position.Status)
	assert.True(t, res.Position.UnrealizedPnLUSD.Equal(d("-10")))
}

func TestScalingDisabledAdvisory(t *testing.T) {
	m := mustMachine(t, newTestPosition(domain.SideLong), newTestPlan(false))

	_, err := m.ApplyTick(tick("150", 1))
	require.NoError(t, err)

	// Deep retracement with scaling disabled: the level is consumed with an
	// advisory, no trigger event, no state change.
	res, err := m.ApplyTick(tick("125", 2))
	require.NoError(t, err)
	assert.Nil(t, res.Trigger)
	assert.Equal(t, domain.StatusActive, res.Position.Status)
	assert.True(t, res.Position.Triggered50)
}

func TestStaleTickRejected(t *testing.T) {
	m := mustMachine(t, newTestPosition(domain.SideLong), newTestPlan(true))

	res, err := m.ApplyTick(tick("110", 10))
	require.NoError(t, err)
	before := res.Position

	// An older tick with a different price leaves state unchanged.
	_, err = m.ApplyTick(tick("140", 5))
	assert.ErrorIs(t, err, domain.ErrStaleTick)

	after := m.Snapshot()
	assert.True(t, after.CurrentPrice.Equal(before.CurrentPrice))
	assert.True(t, after.HighestPrice.Equal(before.HighestPrice))
	assert.Equal(t, before.LastTickTime, after.LastTickTime)
}

func TestInvalidTickRejected(t *testing.T) {
	m := mustMachine(t, newTestPosition(domain.SideLong), newTestPlan(true))

	// Coin mismatch.
	_, err := m.ApplyTick(domain.Tick{Coin: "ETH", Price: d("100"), Timestamp: time.Unix(1, 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidTick)

	// Non-positive price.
	_, err = m.ApplyTick(domain.Tick{Coin: "BTC", Price: d("-1"), Timestamp: time.Unix(1, 0)})
	assert.ErrorIs(t, err, domain.ErrInvalidTick)

	snap := m.Snapshot()
	assert.True(t, snap.CurrentPrice.IsZero())
}

func TestCloseIsTerminal(t *testing.T) {
	m := mustMachine(t, newTestPosition(domain.SideLong), newTestPlan(true))

	_, err := m.ApplyTick(tick("120", 1))
	require.NoError(t, err)

	pos, err := m.Close(d("120"), d("1"), time.Unix(2, 0).UTC())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, pos.Status)
	assert.True(t, pos.RealizedPnLUSD.Equal(d("20")))
	assert.True(t, pos.UnrealizedPnLUSD.IsZero())
	require.NotNil(t, pos.ExitTime)

	// A second close is rejected, not silently ignored.
	_, err = m.Close(d("125"), d("1"), time.Unix(3, 0).UTC())
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)

	// Ticks after close leave the position closed.
	_, err = m.ApplyTick(tick("200", 4))
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	assert.Equal(t, domain.StatusClosed, m.Snapshot().Status)
}

func TestCloseShortRealizedPnL(t *testing.T) {
	m := mustMachine(t, newTestPosition(domain.SideShort), newTestPlan(true))

	pos, err := m.Close(d("90"), d("1"), time.Unix(1, 0).UTC())
	require.NoError(t, err)
	assert.True(t, pos.RealizedPnLUSD.Equal(d("10")))
}

func TestWarmStartRestoresState(t *testing.T) {
	// A position persisted mid-flight: peak 150 recorded, 23% already
	// triggered, hedged. The rebuilt machine must not re-fire 23% and must
	// pick up where the extrema left off.
	pos := newTestPosition(domain.SideLong)
	pos.Status = domain.StatusHedged
	pos.HighestPrice = d("150")
	pos.LowestPrice = d("100")
	pos.CurrentPrice = d("138")
	pos.Fib23Price = d("138.5")
	pos.Fib38Price = d("131")
	pos.Fib50Price = d("125")
	pos.Triggered23 = true
	pos.LastTickTime = time.Unix(10, 0).UTC()

	m := mustMachine(t, pos, newTestPlan(true))

	// Price inside the already-triggered band: no new trigger.
	res, err := m.ApplyTick(tick("137", 11))
	require.NoError(t, err)
	assert.Nil(t, res.Trigger)

	// Deeper retracement fires the next level.
	res, err = m.ApplyTick(tick("131", 12))
	require.NoError(t, err)
	require.NotNil(t, res.Trigger)
	assert.Equal(t, domain.Level38, res.Trigger.Level)
	assert.Equal(t, domain.StatusScaled, res.Position.Status)
}

func TestNewMachineValidation(t *testing.T) {
	plan := newTestPlan(true)

	pos := newTestPosition(domain.SideLong)
	pos.EntryPrice = decimal.Zero
	_, err := NewMachine(pos, plan, discardLogger())
	assert.Error(t, err)

	pos = newTestPosition(domain.SideLong)
	pos.EntryQuantity = decimal.Zero
	_, err = NewMachine(pos, plan, discardLogger())
	assert.Error(t, err)

	pos = newTestPosition(domain.SideLong)
	pos.Side = "sideways"
	_, err = NewMachine(pos, plan, discardLogger())
	assert.Error(t, err)
}

package fib

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTrackerSeededWithEntry(t *testing.T) {
	tr := NewTracker(d("100"))
	assert.True(t, tr.Highest().Equal(d("100")))
	assert.True(t, tr.Lowest().Equal(d("100")))
}

func TestTrackerMonotonicHighs(t *testing.T) {
	tr := NewTracker(d("100"))

	prices := []string{"101", "105", "110", "150"}
	prev := d("100")
	for _, p := range prices {
		newHigh, newLow, err := tr.Update(d(p))
		require.NoError(t, err)
		assert.True(t, newHigh, "price %s should be a new high", p)
		assert.False(t, newLow)
		assert.True(t, tr.Highest().GreaterThanOrEqual(prev))
		prev = tr.Highest()
	}

	// A worse price never moves the extremum.
	newHigh, newLow, err := tr.Update(d("120"))
	require.NoError(t, err)
	assert.False(t, newHigh)
	assert.False(t, newLow)
	assert.True(t, tr.Highest().Equal(d("150")))
}

func TestTrackerMonotonicLows(t *testing.T) {
	tr := NewTracker(d("100"))

	for _, p := range []string{"95", "90", "80"} {
		newHigh, newLow, err := tr.Update(d(p))
		require.NoError(t, err)
		assert.False(t, newHigh)
		assert.True(t, newLow, "price %s should be a new low", p)
	}
	assert.True(t, tr.Lowest().Equal(d("80")))

	_, newLow, err := tr.Update(d("85"))
	require.NoError(t, err)
	assert.False(t, newLow)
	assert.True(t, tr.Lowest().Equal(d("80")))
}

func TestTrackerUnchangedTick(t *testing.T) {
	tr := NewTracker(d("100"))
	newHigh, newLow, err := tr.Update(d("100"))
	require.NoError(t, err)
	assert.False(t, newHigh)
	assert.False(t, newLow)
}

func TestTrackerRejectsNonPositive(t *testing.T) {
	tr := NewTracker(d("100"))

	for _, p := range []string{"0", "-1"} {
		_, _, err := tr.Update(d(p))
		assert.ErrorIs(t, err, domain.ErrInvalidTick, "price %s", p)
	}
	// State untouched after rejected ticks.
	assert.True(t, tr.Highest().Equal(d("100")))
	assert.True(t, tr.Lowest().Equal(d("100")))
}

func TestRestoreTracker(t *testing.T) {
	tr := RestoreTracker(d("100"), d("150"), d("95"))
	assert.True(t, tr.Highest().Equal(d("150")))
	assert.True(t, tr.Lowest().Equal(d("95")))

	// Zero persisted extrema fall back to entry.
	tr = RestoreTracker(d("100"), decimal.Zero, decimal.Zero)
	assert.True(t, tr.Highest().Equal(d("100")))
	assert.True(t, tr.Lowest().Equal(d("100")))
}

func TestTrackerExtremumBySide(t *testing.T) {
	tr := NewTracker(d("100"))
	_, _, err := tr.Update(d("150"))
	require.NoError(t, err)
	_, _, err = tr.Update(d("90"))
	require.NoError(t, err)

	assert.True(t, tr.Extremum(domain.SideLong).Equal(d("150")))
	assert.True(t, tr.Extremum(domain.SideShort).Equal(d("90")))
}

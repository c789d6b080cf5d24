package fib

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colemanlowe/fibhedge/internal/domain"
)

var (
	r23 = decimal.RequireFromString("0.23")
	r38 = decimal.RequireFromString("0.38")
	r50 = decimal.RequireFromString("0.50")
)

func TestLevelsLong(t *testing.T) {
	// Entry 100, peak 150: gain 50.
	levels, err := Levels(domain.SideLong, d("100"), d("150"), r23, r38, r50)
	require.NoError(t, err)

	assert.True(t, levels.Price23.Equal(d("138.5")), "got %s", levels.Price23)
	assert.True(t, levels.Price38.Equal(d("131")), "got %s", levels.Price38)
	assert.True(t, levels.Price50.Equal(d("125")), "got %s", levels.Price50)
}

func TestLevelsShort(t *testing.T) {
	// Entry 100, trough 80: gain 20.
	levels, err := Levels(domain.SideShort, d("100"), d("80"), r23, r38, r50)
	require.NoError(t, err)

	assert.True(t, levels.Price23.Equal(d("84.6")), "got %s", levels.Price23)
	assert.True(t, levels.Price38.Equal(d("87.6")), "got %s", levels.Price38)
	assert.True(t, levels.Price50.Equal(d("90")), "got %s", levels.Price50)
}

func TestLevelsOrdering(t *testing.T) {
	// For every favorable gain the levels lie strictly between entry and the
	// extremum, deeper levels closer to entry.
	cases := []struct {
		name            string
		side            domain.Side
		entry, extremum string
	}{
		{"long small gain", domain.SideLong, "100", "100.01"},
		{"long large gain", domain.SideLong, "100", "1000"},
		{"short small gain", domain.SideShort, "100", "99.99"},
		{"short large gain", domain.SideShort, "1000", "100"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			levels, err := Levels(tc.side, d(tc.entry), d(tc.extremum), r23, r38, r50)
			require.NoError(t, err)

			entry, extremum := d(tc.entry), d(tc.extremum)
			if tc.side == domain.SideLong {
				// entry < level50 < level38 < level23 < extremum
				assert.True(t, entry.LessThan(levels.Price50))
				assert.True(t, levels.Price50.LessThan(levels.Price38))
				assert.True(t, levels.Price38.LessThan(levels.Price23))
				assert.True(t, levels.Price23.LessThan(extremum))
			} else {
				assert.True(t, extremum.LessThan(levels.Price23))
				assert.True(t, levels.Price23.LessThan(levels.Price38))
				assert.True(t, levels.Price38.LessThan(levels.Price50))
				assert.True(t, levels.Price50.LessThan(entry))
			}
		})
	}
}

func TestLevelsNoGain(t *testing.T) {
	cases := []struct {
		name            string
		side            domain.Side
		entry, extremum string
	}{
		{"long at entry", domain.SideLong, "100", "100"},
		{"long below entry", domain.SideLong, "100", "95"},
		{"short at entry", domain.SideShort, "100", "100"},
		{"short above entry", domain.SideShort, "100", "105"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Levels(tc.side, d(tc.entry), d(tc.extremum), r23, r38, r50)
			assert.ErrorIs(t, err, domain.ErrNoGain)
		})
	}
}

func TestRetracementLong(t *testing.T) {
	// Peak 150 from entry 100: at 130 the price has given back 20 of 50.
	ret, err := Retracement(domain.SideLong, d("100"), d("150"), d("130"))
	require.NoError(t, err)
	assert.True(t, ret.Equal(d("0.4")), "got %s", ret)

	// At the peak: zero.
	ret, err = Retracement(domain.SideLong, d("100"), d("150"), d("150"))
	require.NoError(t, err)
	assert.True(t, ret.IsZero())

	// Fully back to entry: 1.
	ret, err = Retracement(domain.SideLong, d("100"), d("150"), d("100"))
	require.NoError(t, err)
	assert.True(t, ret.Equal(d("1")))

	// Below entry: above 1, reported as-is, never clamped.
	ret, err = Retracement(domain.SideLong, d("100"), d("150"), d("90"))
	require.NoError(t, err)
	assert.True(t, ret.Equal(d("1.2")), "got %s", ret)
}

func TestRetracementShort(t *testing.T) {
	// Trough 80 from entry 100: at 90 the price has given back 10 of 20.
	ret, err := Retracement(domain.SideShort, d("100"), d("80"), d("90"))
	require.NoError(t, err)
	assert.True(t, ret.Equal(d("0.5")), "got %s", ret)
}

func TestRetracementNoGain(t *testing.T) {
	_, err := Retracement(domain.SideLong, d("100"), d("100"), d("100"))
	assert.ErrorIs(t, err, domain.ErrNoGain)
}

func TestGain(t *testing.T) {
	assert.True(t, Gain(domain.SideLong, d("100"), d("150")).Equal(d("50")))
	assert.True(t, Gain(domain.SideShort, d("100"), d("80")).Equal(d("20")))
	assert.True(t, Gain(domain.SideLong, d("100"), d("90")).IsNegative())
}

package tp_sl

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"positionguard/src/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func c(start time.Time, o, h, l, cl string) model.Candle {
	return model.Candle{
		Ticker: "INFY",
		Start:  start,
		Open:   d(o),
		High:   d(h),
		Low:    d(l),
		Close:  d(cl),
		Volume: d("1"),
	}
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, d(want).Equal(got), "want %s, got %s", want, got.String())
}

func TestCandidateFromCandle(t *testing.T) {
	candle := c(time.Time{}, "100", "104", "95", "101")
	requireDec(t, "95", CandidateFromCandle(model.DirectionLong, candle))
	requireDec(t, "104", CandidateFromCandle(model.DirectionShort, candle))
}

func TestVolatilityStop(t *testing.T) {
	requireDec(t, "95.2", VolatilityStop(model.DirectionLong, d("100"), d("4"), d("1.2")))
	requireDec(t, "104.8", VolatilityStop(model.DirectionShort, d("100"), d("4"), d("1.2")))
}

func TestTrailingFloor(t *testing.T) {
	cases := []struct {
		name   string
		dir    model.Direction
		entry  string
		best   string
		want   string
		exists bool
	}{
		{"long in profit", model.DirectionLong, "100", "110", "107.8", true},
		{"long at entry", model.DirectionLong, "100", "100", "0", false},
		{"long underwater", model.DirectionLong, "100", "98", "0", false},
		{"short in profit", model.DirectionShort, "100", "90", "91.8", true},
		{"short underwater", model.DirectionShort, "100", "101", "0", false},
		{"no best yet", model.DirectionLong, "100", "0", "0", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := TrailingFloor(tc.dir, d(tc.entry), d(tc.best), d("2"))
			require.Equal(t, tc.exists, ok)
			requireDec(t, tc.want, got)
		})
	}
}

func TestCombineStopsPicksMoreProtective(t *testing.T) {
	requireDec(t, "97", CombineStops(model.DirectionLong, d("95"), d("97")))
	requireDec(t, "103", CombineStops(model.DirectionShort, d("105"), d("103")))
}

func TestIsBreached(t *testing.T) {
	require.True(t, IsBreached(model.DirectionLong, d("95"), d("95")))
	require.True(t, IsBreached(model.DirectionLong, d("94.9"), d("95")))
	require.False(t, IsBreached(model.DirectionLong, d("95.05"), d("95")))

	require.True(t, IsBreached(model.DirectionShort, d("105"), d("105")))
	require.False(t, IsBreached(model.DirectionShort, d("104.95"), d("105")))
}

func TestIsImprovement(t *testing.T) {
	require.True(t, IsImprovement(model.DirectionLong, d("95"), d("92")))
	require.False(t, IsImprovement(model.DirectionLong, d("92"), d("92")))
	require.False(t, IsImprovement(model.DirectionLong, d("91"), d("92")))

	require.True(t, IsImprovement(model.DirectionShort, d("103"), d("105")))
	require.False(t, IsImprovement(model.DirectionShort, d("106"), d("105")))
}

func atrCandles() []model.Candle {
	t0 := time.Date(2025, 3, 4, 9, 15, 0, 0, time.UTC)
	return []model.Candle{
		c(t0, "99", "101", "98", "100"),
		c(t0.Add(15*time.Minute), "100", "102", "98", "101"),  // TR 4
		c(t0.Add(30*time.Minute), "101", "103", "100", "102"), // TR 3
		c(t0.Add(45*time.Minute), "102", "104", "99", "100"),  // TR 5
	}
}

func TestATR(t *testing.T) {
	atr, ok := ATR(atrCandles(), 3)
	require.True(t, ok)
	requireDec(t, "4", atr)

	// gap down: true range uses the previous close
	gap := append(atrCandles(), c(time.Time{}, "90", "91", "89", "90"))
	atr, ok = ATR(gap, 1)
	require.True(t, ok)
	requireDec(t, "11", atr)

	_, ok = ATR(atrCandles(), 4)
	require.False(t, ok)
	_, ok = ATR(nil, 0)
	require.False(t, ok)
}

func TestRoundToTick(t *testing.T) {
	requireDec(t, "95", RoundToTick(model.DirectionLong, d("95.03"), d("0.05")))
	requireDec(t, "95.05", RoundToTick(model.DirectionShort, d("95.03"), d("0.05")))
	requireDec(t, "95.05", RoundToTick(model.DirectionLong, d("95.05"), d("0.05")))
	requireDec(t, "95.03", RoundToTick(model.DirectionLong, d("95.03"), decimal.Zero))
}

func TestUnrealizedReturnPct(t *testing.T) {
	requireDec(t, "11", UnrealizedReturnPct(model.DirectionLong, d("100"), d("111")))
	requireDec(t, "-5", UnrealizedReturnPct(model.DirectionLong, d("100"), d("95")))
	requireDec(t, "10", UnrealizedReturnPct(model.DirectionShort, d("100"), d("90")))
	requireDec(t, "0", UnrealizedReturnPct(model.DirectionShort, decimal.Zero, d("90")))
}

func TestBestPriceAfter(t *testing.T) {
	best, moved := BestPriceAfter(model.DirectionLong, d("100"), d("105"))
	require.True(t, moved)
	requireDec(t, "105", best)

	best, moved = BestPriceAfter(model.DirectionLong, d("105"), d("101"))
	require.False(t, moved)
	requireDec(t, "105", best)

	best, moved = BestPriceAfter(model.DirectionShort, d("100"), d("97"))
	require.True(t, moved)
	requireDec(t, "97", best)

	best, moved = BestPriceAfter(model.DirectionShort, decimal.Zero, d("97"))
	require.True(t, moved)
	requireDec(t, "97", best)
}

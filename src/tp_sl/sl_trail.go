package tp_sl

import (
	"github.com/shopspring/decimal"

	"positionguard/src/model"
)

var hundred = decimal.NewFromInt(100)

// CandidateFromCandle is the structural stop: the previous completed
// candle's low for a LONG, its high for a SHORT.
func CandidateFromCandle(dir model.Direction, c model.Candle) decimal.Decimal {
	if dir == model.DirectionShort {
		return c.High
	}
	return c.Low
}

// VolatilityStop is the fallback stop when no candle is available:
// price -/+ multiplier*ATR.
func VolatilityStop(dir model.Direction, price, atr, multiplier decimal.Decimal) decimal.Decimal {
	dist := atr.Mul(multiplier)
	if dir == model.DirectionShort {
		return price.Add(dist)
	}
	return price.Sub(dist)
}

// TrailingFloor keeps marginPct behind the best price seen. It only exists
// once the best price is in profit relative to entry.
func TrailingFloor(dir model.Direction, entry, best, marginPct decimal.Decimal) (decimal.Decimal, bool) {
	if best.IsZero() || !marginPct.IsPositive() {
		return decimal.Zero, false
	}
	m := marginPct.Div(hundred)
	switch dir {
	case model.DirectionLong:
		if !best.GreaterThan(entry) {
			return decimal.Zero, false
		}
		return best.Mul(decimal.NewFromInt(1).Sub(m)), true
	case model.DirectionShort:
		if !best.LessThan(entry) {
			return decimal.Zero, false
		}
		return best.Mul(decimal.NewFromInt(1).Add(m)), true
	}
	return decimal.Zero, false
}

// CombineStops returns the more protective level: the higher stop for a
// LONG, the lower for a SHORT.
func CombineStops(dir model.Direction, a, b decimal.Decimal) decimal.Decimal {
	if dir == model.DirectionShort {
		return decimal.Min(a, b)
	}
	return decimal.Max(a, b)
}

// IsBreached reports whether price has already crossed the stop.
func IsBreached(dir model.Direction, price, stop decimal.Decimal) bool {
	if dir == model.DirectionShort {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

// IsImprovement reports whether candidate tightens the existing stop.
// Stops only ratchet: up for a LONG, down for a SHORT.
func IsImprovement(dir model.Direction, candidate, existing decimal.Decimal) bool {
	if dir == model.DirectionShort {
		return candidate.LessThan(existing)
	}
	return candidate.GreaterThan(existing)
}

// ATR is the mean true range of the last period candles. It needs
// period+1 candles (the first only supplies a previous close).
func ATR(candles []model.Candle, period int) (decimal.Decimal, bool) {
	if period <= 0 || len(candles) < period+1 {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for i := len(candles) - period; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := decimal.Max(
			high.Sub(low),
			high.Sub(prevClose).Abs(),
			low.Sub(prevClose).Abs(),
		)
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), true
}

// RoundToTick snaps a stop onto the tick grid away from the market:
// LONG stops round down, SHORT stops round up.
func RoundToTick(dir model.Direction, price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	steps := price.Div(tick)
	if dir == model.DirectionShort {
		steps = steps.Ceil()
	} else {
		steps = steps.Floor()
	}
	return steps.Mul(tick)
}

// UnrealizedReturnPct is the open return in percent of the entry price.
func UnrealizedReturnPct(dir model.Direction, entry, price decimal.Decimal) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	diff := price.Sub(entry)
	if dir == model.DirectionShort {
		diff = entry.Sub(price)
	}
	return diff.Div(entry).Mul(hundred)
}

// BestPriceAfter moves the high-water mark (LONG) or low-water mark (SHORT).
func BestPriceAfter(dir model.Direction, best, price decimal.Decimal) (decimal.Decimal, bool) {
	if best.IsZero() {
		return price, true
	}
	if dir == model.DirectionShort {
		if price.LessThan(best) {
			return price, true
		}
		return best, false
	}
	if price.GreaterThan(best) {
		return price, true
	}
	return best, false
}

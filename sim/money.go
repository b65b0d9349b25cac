package sim

import "github.com/shopspring/decimal"

// Money is always int64 minor units. Only rates are fractional; every
// rate × amount product is computed exactly in decimal and floored.

var one = decimal.NewFromInt(1)

// floorMul returns floor(amount × rate).
func floorMul(amount int64, rate decimal.Decimal) int64 {
	if amount == 0 || rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}

// floorBps returns floor(amount × bps / 10000).
func floorBps(amount int64, bps decimal.Decimal) int64 {
	if amount == 0 || bps.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(bps).Shift(-4).Floor().IntPart()
}

// haircutValue returns floor(collateral × (1 − haircut)).
func haircutValue(collateral int64, haircut decimal.Decimal) int64 {
	if collateral <= 0 {
		return 0
	}
	return floorMul(collateral, one.Sub(haircut))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// haircutDecimal converts a configured haircut fraction.
func haircutDecimal(h float64) decimal.Decimal {
	return decimal.NewFromFloat(h)
}

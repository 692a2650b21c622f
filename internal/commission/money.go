package commission

import (
	"math"

	"github.com/shopspring/decimal"
)

// Amounts are persisted as int64 thousandths of the currency unit ("mills"),
// which holds every value Compute can produce without loss.

func ToMills(d decimal.Decimal) int64 {
	return d.Shift(Scale).Truncate(0).IntPart()
}

func FromMills(mills int64) decimal.Decimal {
	return decimal.New(mills, -Scale)
}

// FromFloat converts a gateway or form amount. Non-finite and negative values
// are rejected.
func FromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	return decimal.NewFromFloat(v).Truncate(Scale), nil
}

// Float renders mills for transports that only carry float64.
func Float(mills int64) float64 {
	return FromMills(mills).InexactFloat64()
}

// Package commission splits a settled payment between the platform operator
// and the reseller that owns the access point.
package commission

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/captiva/internal/apperr"
)

// Scale is the number of decimal places kept for every share.
const Scale = 3

var (
	DefaultPercentage = decimal.NewFromInt(10)

	ErrInvalidAmount = apperr.Validation("invalid_amount")
)

var (
	minPercentage = decimal.Zero
	maxPercentage = decimal.NewFromInt(100)
)

// Split is the result of dividing an amount. Platform+Reseller == Amount.
type Split struct {
	Amount     decimal.Decimal
	Percentage decimal.Decimal
	Platform   decimal.Decimal
	Reseller   decimal.Decimal
}

// NormalizePercentage clamps a configured percentage to [0,100]. A missing
// value falls back to DefaultPercentage.
func NormalizePercentage(p decimal.NullDecimal) decimal.Decimal {
	return NormalizePercentageOr(p, DefaultPercentage)
}

// NormalizePercentageOr is NormalizePercentage with an operator-supplied fallback.
func NormalizePercentageOr(p decimal.NullDecimal, fallback decimal.Decimal) decimal.Decimal {
	if !p.Valid {
		p = decimal.NewNullDecimal(fallback)
	}
	switch {
	case p.Decimal.LessThan(minPercentage):
		return minPercentage
	case p.Decimal.GreaterThan(maxPercentage):
		return maxPercentage
	default:
		return p.Decimal
	}
}

// Compute splits amount. The platform share is amount*percentage/100
// truncated to Scale places; the reseller receives the remainder.
func Compute(amount decimal.Decimal, percentage decimal.NullDecimal) (Split, error) {
	return compute(amount, NormalizePercentage(percentage))
}

// ComputeWithDefault is Compute with an operator-supplied fallback percentage.
func ComputeWithDefault(amount decimal.Decimal, percentage decimal.NullDecimal, fallback decimal.Decimal) (Split, error) {
	return compute(amount, NormalizePercentageOr(percentage, NormalizePercentage(decimal.NewNullDecimal(fallback))))
}

func compute(amount, pct decimal.Decimal) (Split, error) {
	if amount.IsNegative() {
		return Split{}, ErrInvalidAmount
	}
	amount = amount.Truncate(Scale)

	platform := amount.Mul(pct).Shift(-2).Truncate(Scale)
	reseller := amount.Sub(platform)

	return Split{
		Amount:     amount,
		Percentage: pct,
		Platform:   platform,
		Reseller:   reseller,
	}, nil
}

// PlatformMills and ResellerMills return the shares in thousandths.
func (s Split) PlatformMills() int64 { return ToMills(s.Platform) }

func (s Split) ResellerMills() int64 { return ToMills(s.Reseller) }

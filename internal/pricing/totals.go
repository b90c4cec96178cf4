package pricing

import (
	"github.com/fjod/gig_cart/internal/domain"
	"github.com/shopspring/decimal"
)

// PlatformFeeRate is the fixed marketplace surcharge (9.98%) applied to the subtotal.
var PlatformFeeRate = decimal.RequireFromString("0.0998")

const moneyPlaces = 2

// CalculateTotals derives subtotal, fee and total from the line items.
// The fee is the only rounded figure: round2 half-up, applied once.
func CalculateTotals(items []domain.CartLineItem) domain.Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.UnitPrice)
	}

	fee := RoundHalfUp(subtotal.Mul(PlatformFeeRate), moneyPlaces)

	return domain.Totals{
		Subtotal: subtotal,
		Fee:      fee,
		Total:    subtotal.Add(fee),
	}
}

// RoundHalfUp rounds d to places, with ties going towards positive infinity.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

var half = decimal.New(5, -1)

// Format renders an amount with exactly two fractional digits for display.
func Format(d decimal.Decimal) string {
	return d.StringFixed(moneyPlaces)
}

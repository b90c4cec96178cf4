package pricing

import (
	"github.com/fjod/gig_cart/internal/domain"
	"github.com/shopspring/decimal"
)

// Selection is the booking mode requested for one professional.
// Hours is only meaningful for hourly bookings.
type Selection struct {
	Mode  domain.BookingMode
	Hours int
}

func ValidateSelection(sel Selection) error {
	if !sel.Mode.Valid() {
		return domain.Validationf("unknown booking mode %q", sel.Mode)
	}
	if sel.Mode == domain.BookingModeHourly && sel.Hours <= 0 {
		return domain.Validationf("hours must be a positive integer, got %d", sel.Hours)
	}
	return nil
}

// UnitPrice applies the rate schedule of p to sel. Rates are kept at full
// precision; rounding happens only in display formatting and on the fee.
func UnitPrice(p domain.Professional, sel Selection) (decimal.Decimal, error) {
	if err := ValidateSelection(sel); err != nil {
		return decimal.Zero, err
	}

	var price decimal.Decimal
	switch sel.Mode {
	case domain.BookingModeFullEvent:
		price = p.EventRateOrZero()
	case domain.BookingModeHourly:
		price = p.HourlyRateOrZero().Mul(decimal.NewFromInt(int64(sel.Hours)))
	}

	if price.IsNegative() {
		return decimal.Zero, domain.Validationf("professional %s has a negative %s rate", p.ID, sel.Mode)
	}
	return price, nil
}

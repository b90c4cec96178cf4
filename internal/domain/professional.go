package domain

import "github.com/shopspring/decimal"

// Professional is the read-only rate schedule of a bookable professional.
// A missing rate means the booking mode is unavailable and prices as zero.
type Professional struct {
	ID          string              `json:"id"`
	DisplayName string              `json:"display_name"`
	Category    string              `json:"category"`
	HourlyRate  decimal.NullDecimal `json:"hourly_rate"`
	EventRate   decimal.NullDecimal `json:"event_rate"`
}

func (p Professional) HourlyRateOrZero() decimal.Decimal {
	if !p.HourlyRate.Valid {
		return decimal.Zero
	}
	return p.HourlyRate.Decimal
}

func (p Professional) EventRateOrZero() decimal.Decimal {
	if !p.EventRate.Valid {
		return decimal.Zero
	}
	return p.EventRate.Decimal
}

// Package directory resolves professionals and their published rates.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrProfessionalNotFound = errors.New("professional not found")
	// ErrInvalidRateSchedule marks a catalog entry whose rates cannot be charged:
	// negative, or finer than whole cents.
	ErrInvalidRateSchedule = errors.New("invalid rate schedule")
)

type ProfessionalDirectory interface {
	GetProfessional(ctx context.Context, id string) (*domain.Professional, error)
}

// StaticDirectory serves a fixed set of professionals from memory.
type StaticDirectory struct {
	professionals map[string]domain.Professional
}

func NewStaticDirectory(professionals ...domain.Professional) *StaticDirectory {
	d := &StaticDirectory{professionals: make(map[string]domain.Professional, len(professionals))}
	for _, p := range professionals {
		d.professionals[p.ID] = p
	}
	return d
}

func (d *StaticDirectory) GetProfessional(ctx context.Context, id string) (*domain.Professional, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := d.professionals[id]
	if !ok {
		return nil, ErrProfessionalNotFound
	}
	if err := validateRates(p); err != nil {
		return nil, err
	}
	return &p, nil
}

func validateRates(p domain.Professional) error {
	rates := []struct {
		name string
		rate decimal.NullDecimal
	}{
		{"hourly", p.HourlyRate},
		{"event", p.EventRate},
	}
	for _, r := range rates {
		if !r.rate.Valid {
			continue
		}
		if r.rate.Decimal.IsNegative() || !r.rate.Decimal.Equal(r.rate.Decimal.Round(2)) {
			return fmt.Errorf("professional %s %s rate %s: %w", p.ID, r.name, r.rate.Decimal, ErrInvalidRateSchedule)
		}
	}
	return nil
}

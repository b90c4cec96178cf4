package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartSnapshot represents the full cart state at checkout time.
// It holds its own copy of the line items, so later changes to the
// persisted cart do not leak into it.
type CartSnapshot struct {
	CartID      string          `json:"cart_id"`
	UserID      string          `json:"user_id"`
	Items       []CartLineItem  `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Fee         decimal.Decimal `json:"fee"`
	Total       decimal.Decimal `json:"total"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

func NewCartSnapshot(cart *Cart, totals Totals, submittedAt time.Time) *CartSnapshot {
	frozen := cart.Clone()
	return &CartSnapshot{
		CartID:      frozen.ID,
		UserID:      frozen.UserID,
		Items:       frozen.Items,
		Subtotal:    totals.Subtotal,
		Fee:         totals.Fee,
		Total:       totals.Total,
		SubmittedAt: submittedAt,
	}
}

func (s *CartSnapshot) Clone() *CartSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Items = make([]CartLineItem, len(s.Items))
	for i, item := range s.Items {
		out.Items[i] = item.clone()
	}
	return &out
}

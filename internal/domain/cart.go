package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingMode string

const (
	BookingModeHourly    BookingMode = "hourly"
	BookingModeFullEvent BookingMode = "full_event"
)

func (m BookingMode) Valid() bool {
	return m == BookingModeHourly || m == BookingModeFullEvent
}

func (m BookingMode) String() string {
	return string(m)
}

// EventMeta is free-form event information attached to a booking.
type EventMeta struct {
	Name     string `json:"name,omitempty"`
	Date     string `json:"date,omitempty"`
	Location string `json:"location,omitempty"`
}

type CartLineItem struct {
	ID             string          `json:"id"`
	CartID         string          `json:"cart_id"`
	ProfessionalID string          `json:"professional_id"`
	Mode           BookingMode     `json:"mode"`
	Hours          int             `json:"hours,omitempty"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Event          *EventMeta      `json:"event,omitempty"`
	AddedAt        time.Time       `json:"added_at"`
}

func (i CartLineItem) clone() CartLineItem {
	if i.Event != nil {
		ev := *i.Event
		i.Event = &ev
	}
	return i
}

// Cart owns the line items of one user. Totals are not part of the record;
// they are derived from Items every time they are needed.
type Cart struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Items     []CartLineItem `json:"items"`
	Status    CartStatus     `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func NewDraftCart(id, userID string, now time.Time) *Cart {
	return &Cart{
		ID:        id,
		UserID:    userID,
		Items:     []CartLineItem{},
		Status:    CartStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (c *Cart) IsDraft() bool {
	return c.Status == CartStatusDraft
}

func (c *Cart) HasProfessional(professionalID string) bool {
	for _, item := range c.Items {
		if item.ProfessionalID == professionalID {
			return true
		}
	}
	return false
}

func (c *Cart) FindItem(lineItemID string) (CartLineItem, bool) {
	for _, item := range c.Items {
		if item.ID == lineItemID {
			return item, true
		}
	}
	return CartLineItem{}, false
}

// Clone returns a deep copy that shares no memory with c.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	out := *c
	out.Items = make([]CartLineItem, len(c.Items))
	for i, item := range c.Items {
		out.Items[i] = item.clone()
	}
	return &out
}

// Totals are the derived monetary figures of a set of line items.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Fee      decimal.Decimal `json:"fee"`
	Total    decimal.Decimal `json:"total"`
}

package publisher

import (
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/fjod/gig_cart/internal/pricing"
)

const EventTypeCartSubmitted = "cart.submitted"

type SubmittedLineItem struct {
	LineItemID     string            `json:"line_item_id"`
	ProfessionalID string            `json:"professional_id"`
	Mode           string            `json:"mode"`
	Hours          int               `json:"hours,omitempty"`
	UnitPrice      string            `json:"unit_price"`
	Event          *domain.EventMeta `json:"event,omitempty"`
}

// CartSubmittedEvent is what the checkout collaborator receives for every
// submitted cart. Amounts are decimal strings with two fractional digits.
type CartSubmittedEvent struct {
	EventType   string              `json:"event_type"`
	CartID      string              `json:"cart_id"`
	UserID      string              `json:"user_id"`
	Items       []SubmittedLineItem `json:"items"`
	Subtotal    string              `json:"subtotal"`
	Fee         string              `json:"fee"`
	Total       string              `json:"total"`
	SubmittedAt time.Time           `json:"submitted_at"`
}

func NewCartSubmittedEvent(s *domain.CartSnapshot) CartSubmittedEvent {
	items := make([]SubmittedLineItem, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, SubmittedLineItem{
			LineItemID:     item.ID,
			ProfessionalID: item.ProfessionalID,
			Mode:           item.Mode.String(),
			Hours:          item.Hours,
			UnitPrice:      pricing.Format(item.UnitPrice),
			Event:          item.Event,
		})
	}
	return CartSubmittedEvent{
		EventType:   EventTypeCartSubmitted,
		CartID:      s.CartID,
		UserID:      s.UserID,
		Items:       items,
		Subtotal:    pricing.Format(s.Subtotal),
		Fee:         pricing.Format(s.Fee),
		Total:       pricing.Format(s.Total),
		SubmittedAt: s.SubmittedAt,
	}
}

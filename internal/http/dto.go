package http

import (
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/fjod/gig_cart/internal/pricing"
	"github.com/fjod/gig_cart/internal/service"
)

type EventDTO struct {
	Name     string `json:"name,omitempty"`
	Date     string `json:"date,omitempty"`
	Location string `json:"location,omitempty"`
}

type AddItemRequestDTO struct {
	ProfessionalID string    `json:"professional_id"`
	Mode           string    `json:"mode"`
	Hours          int       `json:"hours,omitempty"`
	Event          *EventDTO `json:"event,omitempty"`
}

type LineItemResponse struct {
	ID             string    `json:"id"`
	ProfessionalID string    `json:"professional_id"`
	Mode           string    `json:"mode"`
	Hours          int       `json:"hours,omitempty"`
	UnitPrice      string    `json:"unit_price"`
	Event          *EventDTO `json:"event,omitempty"`
	AddedAt        time.Time `json:"added_at"`
}

type CartResponse struct {
	CartID    string             `json:"cart_id"`
	UserID    string             `json:"user_id"`
	Status    string             `json:"status"`
	Items     []LineItemResponse `json:"items"`
	Subtotal  string             `json:"subtotal"`
	Fee       string             `json:"fee"`
	Total     string             `json:"total"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type SubmitResponse struct {
	CartID      string             `json:"cart_id"`
	UserID      string             `json:"user_id"`
	Status      string             `json:"status"`
	Items       []LineItemResponse `json:"items"`
	Subtotal    string             `json:"subtotal"`
	Fee         string             `json:"fee"`
	Total       string             `json:"total"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (d AddItemRequestDTO) toRequest() service.AddItemRequest {
	req := service.AddItemRequest{
		ProfessionalID: d.ProfessionalID,
		Mode:           domain.BookingMode(d.Mode),
		Hours:          d.Hours,
	}
	if d.Event != nil {
		req.Event = &domain.EventMeta{Name: d.Event.Name, Date: d.Event.Date, Location: d.Event.Location}
	}
	return req
}

func toLineItems(items []domain.CartLineItem) []LineItemResponse {
	out := make([]LineItemResponse, 0, len(items))
	for _, item := range items {
		resp := LineItemResponse{
			ID:             item.ID,
			ProfessionalID: item.ProfessionalID,
			Mode:           item.Mode.String(),
			Hours:          item.Hours,
			UnitPrice:      pricing.Format(item.UnitPrice),
			AddedAt:        item.AddedAt,
		}
		if item.Event != nil {
			resp.Event = &EventDTO{Name: item.Event.Name, Date: item.Event.Date, Location: item.Event.Location}
		}
		out = append(out, resp)
	}
	return out
}

func toCartResponse(v *service.CartView) CartResponse {
	return CartResponse{
		CartID:    v.Cart.ID,
		UserID:    v.Cart.UserID,
		Status:    v.Cart.Status.String(),
		Items:     toLineItems(v.Cart.Items),
		Subtotal:  pricing.Format(v.Totals.Subtotal),
		Fee:       pricing.Format(v.Totals.Fee),
		Total:     pricing.Format(v.Totals.Total),
		UpdatedAt: v.Cart.UpdatedAt,
	}
}

func toSubmitResponse(s *domain.CartSnapshot) SubmitResponse {
	return SubmitResponse{
		CartID:      s.CartID,
		UserID:      s.UserID,
		Status:      domain.CartStatusSubmitted.String(),
		Items:       toLineItems(s.Items),
		Subtotal:    pricing.Format(s.Subtotal),
		Fee:         pricing.Format(s.Fee),
		Total:       pricing.Format(s.Total),
		SubmittedAt: s.SubmittedAt,
	}
}

package repository

import (
	"context"
	"errors"

	"github.com/fjod/gig_cart/internal/domain"
)

var ErrCartNotFound = errors.New("cart not found")

// CartRepository is the persistence gateway for carts and their line items.
// Implementations enforce the (cart, professional) uniqueness themselves and
// report a violation as domain.ErrDuplicateBooking.
type CartRepository interface {
	// GetOrCreateDraft returns the user's Draft cart, creating it when none exists.
	GetOrCreateDraft(ctx context.Context, userID string) (*domain.Cart, error)
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	InsertLineItem(ctx context.Context, cartID string, item domain.CartLineItem) error
	// DeleteLineItem is a no-op when the item is already gone.
	DeleteLineItem(ctx context.Context, cartID, lineItemID string) error
	DeleteLineItems(ctx context.Context, cartID string) error
	// Submit moves the cart from Draft to Submitted and stores the snapshot as
	// an unpublished checkout event, in one atomic step.
	Submit(ctx context.Context, cartID string, snapshot *domain.CartSnapshot) error
	PendingSubmissions(ctx context.Context, limit int) ([]*domain.CartSnapshot, error)
	MarkSubmissionPublished(ctx context.Context, cartID string) error
}

// IndexCreator is implemented by stores that need their indexes installed
// before serving traffic.
type IndexCreator interface {
	CreateIndexes(ctx context.Context) error
}

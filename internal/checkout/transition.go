// Package checkout moves a Draft cart to Submitted and freezes what was bought.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/fjod/gig_cart/internal/pricing"
)

// Submitter persists the status change together with the frozen snapshot.
type Submitter interface {
	Submit(ctx context.Context, cartID string, snapshot *domain.CartSnapshot) error
}

type Transition struct {
	store Submitter
	now   func() time.Time
}

func NewTransition(store Submitter) *Transition {
	return &Transition{store: store, now: time.Now}
}

// Submit validates the cart can leave Draft, prices it one last time and
// hands the snapshot to the store. The returned snapshot shares no memory
// with cart or with what the store keeps.
func (t *Transition) Submit(ctx context.Context, cart *domain.Cart) (*domain.CartSnapshot, error) {
	if !domain.CanTransitionTo(cart.Status, domain.CartStatusSubmitted) {
		return nil, fmt.Errorf("submit cart %s in status %s: %w", cart.ID, cart.Status, domain.ErrInvalidState)
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("submit cart %s: %w", cart.ID, domain.ErrEmptyCart)
	}

	snapshot := domain.NewCartSnapshot(cart, pricing.CalculateTotals(cart.Items), t.now().UTC())
	if err := t.store.Submit(ctx, cart.ID, snapshot.Clone()); err != nil {
		return nil, err
	}
	return snapshot, nil
}

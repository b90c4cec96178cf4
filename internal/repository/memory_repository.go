package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/google/uuid"
)

type submission struct {
	snapshot  *domain.CartSnapshot
	published bool
}

// MemoryRepository implements CartRepository with in-memory storage
type MemoryRepository struct {
	mu          sync.RWMutex
	carts       map[string]*domain.Cart // cartID -> cart record, items kept separately
	draftByUser map[string]string       // userID -> cartID of the Draft cart
	items       map[string][]domain.CartLineItem
	submissions map[string]*submission
	now         func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		carts:       make(map[string]*domain.Cart),
		draftByUser: make(map[string]string),
		items:       make(map[string][]domain.CartLineItem),
		submissions: make(map[string]*submission),
		now:         time.Now,
	}
}

func (m *MemoryRepository) GetOrCreateDraft(ctx context.Context, userID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.draftByUser[userID]; ok {
		return m.cartLocked(id), nil
	}

	cart := domain.NewDraftCart(uuid.NewString(), userID, m.now())
	m.carts[cart.ID] = cart
	m.draftByUser[userID] = cart.ID
	return m.cartLocked(cart.ID), nil
}

func (m *MemoryRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.carts[cartID]; !ok {
		return nil, ErrCartNotFound
	}
	return m.cartLocked(cartID), nil
}

// cartLocked returns a copy of the cart with its items attached. Caller holds mu.
func (m *MemoryRepository) cartLocked(cartID string) *domain.Cart {
	cart := *m.carts[cartID]
	cart.Items = m.items[cartID]
	return cart.Clone()
}

func (m *MemoryRepository) InsertLineItem(ctx context.Context, cartID string, item domain.CartLineItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, err := m.draftLocked(cartID)
	if err != nil {
		return err
	}
	for _, existing := range m.items[cartID] {
		if existing.ProfessionalID == item.ProfessionalID {
			return domain.ErrDuplicateBooking
		}
	}

	item.CartID = cartID
	m.items[cartID] = append(m.items[cartID], item)
	cart.UpdatedAt = m.now()
	return nil
}

func (m *MemoryRepository) DeleteLineItem(ctx context.Context, cartID, lineItemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, err := m.draftLocked(cartID)
	if err != nil {
		return err
	}
	items := m.items[cartID]
	for i, item := range items {
		if item.ID == lineItemID {
			m.items[cartID] = append(items[:i:i], items[i+1:]...)
			cart.UpdatedAt = m.now()
			return nil
		}
	}
	return nil
}

func (m *MemoryRepository) DeleteLineItems(ctx context.Context, cartID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, err := m.draftLocked(cartID)
	if err != nil {
		return err
	}
	delete(m.items, cartID)
	cart.UpdatedAt = m.now()
	return nil
}

// draftLocked returns the stored cart if it exists and is a draft. Caller holds mu.
func (m *MemoryRepository) draftLocked(cartID string) (*domain.Cart, error) {
	cart, ok := m.carts[cartID]
	if !ok {
		return nil, ErrCartNotFound
	}
	if !cart.IsDraft() {
		return nil, domain.ErrInvalidState
	}
	return cart, nil
}

func (m *MemoryRepository) Submit(ctx context.Context, cartID string, snapshot *domain.CartSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cart, ok := m.carts[cartID]
	if !ok {
		return ErrCartNotFound
	}
	if !domain.CanTransitionTo(cart.Status, domain.CartStatusSubmitted) {
		return domain.ErrInvalidState
	}

	cart.Status = domain.CartStatusSubmitted
	cart.UpdatedAt = m.now()
	delete(m.draftByUser, cart.UserID)
	m.submissions[cartID] = &submission{snapshot: snapshot.Clone()}
	return nil
}

func (m *MemoryRepository) PendingSubmissions(ctx context.Context, limit int) ([]*domain.CartSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := make([]*domain.CartSnapshot, 0)
	for _, sub := range m.submissions {
		if !sub.published {
			pending = append(pending, sub.snapshot.Clone())
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].SubmittedAt.Before(pending[j].SubmittedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *MemoryRepository) MarkSubmissionPublished(ctx context.Context, cartID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.submissions[cartID]
	if !ok {
		return ErrCartNotFound
	}
	sub.published = true
	return nil
}

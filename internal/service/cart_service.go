package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/gig_cart/internal/cache"
	"github.com/fjod/gig_cart/internal/checkout"
	"github.com/fjod/gig_cart/internal/directory"
	"github.com/fjod/gig_cart/internal/domain"
	"github.com/fjod/gig_cart/internal/pricing"
	"github.com/fjod/gig_cart/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CartView is a cart together with the totals derived from its items.
type CartView struct {
	Cart   *domain.Cart
	Totals domain.Totals
}

type AddItemRequest struct {
	ProfessionalID string
	Mode           domain.BookingMode
	Hours          int
	Event          *domain.EventMeta
}

// CartService is the only writer of carts. Every operation on one cart runs
// under that cart's lock; the store's uniqueness constraint backs it up
// across processes.
type CartService struct {
	repo      repository.CartRepository
	directory directory.ProfessionalDirectory
	cache     cache.CartCache
	checkout  *checkout.Transition
	logger    *zap.Logger

	sfg         singleflight.Group // Prevents cache stampede
	loadTimeout time.Duration
	locks       *keyedMutex
	now         func() time.Time
	newID       func() string
}

func NewCartService(
	repo repository.CartRepository,
	dir directory.ProfessionalDirectory,
	cartCache cache.CartCache,
	logger *zap.Logger,
) *CartService {
	if cartCache == nil {
		cartCache = cache.NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CartService{
		repo:      repo,
		directory: dir,
		cache:     cartCache,
		checkout:  checkout.NewTransition(repo),
		logger:    logger,
		locks:     newKeyedMutex(),
		now:       time.Now,

		loadTimeout: defaultLoadTimeout,
		newID:     uuid.NewString,
	}
}

// Load returns the user's Draft cart, creating it on first access.
func (s *CartService) Load(ctx context.Context, userID string) (*CartView, error) {
	if userID == "" {
		return nil, domain.Validationf("user id is required")
	}

	// The shared read outlives any single caller; each caller only stops waiting.
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		cart, err := s.cache.Get(ctx, userID)
		if err == nil && cart.IsDraft() {
			return cart, nil // cart is in cache
		}
		if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		for attempt := 0; ; attempt++ {
			cart, err := s.loadDraft(ctx, userID)
			switch {
			case err == nil:
				return cart, nil
			case !errors.Is(err, errDraftSubmitted):
				return nil, err
			case attempt == maxLoadAttempts-1:
				return nil, domain.NewPersistenceError("load cart", err)
			}
		}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return s.view(res.Val.(*domain.Cart)), nil
	}
}

// errDraftSubmitted reports a draft that was checked out between being found
// and being re-read.
var errDraftSubmitted = errors.New("draft submitted during load")

const (
	maxLoadAttempts    = 3
	defaultLoadTimeout = 10 * time.Second
)

func (s *CartService) loadDraft(ctx context.Context, userID string) (*domain.Cart, error) {
	draft, err := s.repo.GetOrCreateDraft(ctx, userID)
	if err != nil {
		return nil, gatewayError("load cart", err)
	}

	// Re-read under the cart lock so a mutation that finished in between
	// cannot be overwritten in the cache by this older read.
	unlock := s.locks.Lock(draft.ID)
	defer unlock()

	fresh, err := s.repo.GetCart(ctx, draft.ID)
	if err != nil {
		return nil, gatewayError("load cart", err)
	}
	if !fresh.IsDraft() {
		return nil, fmt.Errorf("load cart %s: %w", fresh.ID, errDraftSubmitted)
	}
	s.storeInCache(ctx, fresh)
	return fresh, nil
}

// AddItem prices the selection and books the professional into the cart.
func (s *CartService) AddItem(ctx context.Context, cartID string, req AddItemRequest) (*CartView, error) {
	if req.ProfessionalID == "" {
		return nil, domain.Validationf("professional id is required")
	}
	sel := pricing.Selection{Mode: req.Mode, Hours: req.Hours}
	if err := pricing.ValidateSelection(sel); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(cartID)
	defer unlock()

	cart, err := s.editableCart(ctx, "add item", cartID)
	if err != nil {
		return nil, err
	}
	if cart.HasProfessional(req.ProfessionalID) {
		return nil, fmt.Errorf("add professional %s to cart %s: %w", req.ProfessionalID, cartID, domain.ErrDuplicateBooking)
	}

	pro, err := s.directory.GetProfessional(ctx, req.ProfessionalID)
	if err != nil {
		if errors.Is(err, directory.ErrProfessionalNotFound) {
			return nil, fmt.Errorf("professional %s: %w", req.ProfessionalID, domain.ErrNotFound)
		}
		if errors.Is(err, directory.ErrInvalidRateSchedule) {
			return nil, domain.Validationf("professional %s cannot be booked: %v", req.ProfessionalID, err)
		}
		return nil, domain.NewPersistenceError("lookup professional", err)
	}

	price, err := pricing.UnitPrice(*pro, sel)
	if err != nil {
		return nil, err
	}

	item := domain.CartLineItem{
		ID:             s.newID(),
		CartID:         cart.ID,
		ProfessionalID: pro.ID,
		Mode:           req.Mode,
		UnitPrice:      price,
		Event:          normalizeEvent(req.Event),
		AddedAt:        s.now().UTC(),
	}
	if req.Mode == domain.BookingModeHourly {
		item.Hours = req.Hours
	}

	if err := s.repo.InsertLineItem(ctx, cart.ID, item); err != nil {
		return nil, gatewayError("add item", err)
	}

	cart.Items = append(cart.Items, item)
	cart.UpdatedAt = item.AddedAt
	s.invalidateCache(cart.UserID)

	s.logger.Debug("line item added",
		zap.String("cart_id", cart.ID),
		zap.String("professional_id", pro.ID),
		zap.String("mode", item.Mode.String()),
		zap.String("unit_price", pricing.Format(price)))
	return s.view(cart), nil
}

// RemoveItem drops a line item. An item that is already gone is not an error.
func (s *CartService) RemoveItem(ctx context.Context, cartID, lineItemID string) (*CartView, error) {
	unlock := s.locks.Lock(cartID)
	defer unlock()

	cart, err := s.editableCart(ctx, "remove item", cartID)
	if err != nil {
		return nil, err
	}
	if _, ok := cart.FindItem(lineItemID); !ok {
		return s.view(cart), nil
	}

	if err := s.repo.DeleteLineItem(ctx, cart.ID, lineItemID); err != nil {
		return nil, gatewayError("remove item", err)
	}

	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ID != lineItemID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
	cart.UpdatedAt = s.now().UTC()
	s.invalidateCache(cart.UserID)
	return s.view(cart), nil
}

// Clear removes every line item but keeps the Draft record.
func (s *CartService) Clear(ctx context.Context, cartID string) (*CartView, error) {
	unlock := s.locks.Lock(cartID)
	defer unlock()

	cart, err := s.editableCart(ctx, "clear cart", cartID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteLineItems(ctx, cart.ID); err != nil {
		return nil, gatewayError("clear cart", err)
	}

	cart.Items = []domain.CartLineItem{}
	cart.UpdatedAt = s.now().UTC()
	s.invalidateCache(cart.UserID)
	return s.view(cart), nil
}

// Submit runs the checkout transition and returns the frozen snapshot that is
// also queued for the checkout collaborator.
func (s *CartService) Submit(ctx context.Context, cartID string) (*domain.CartSnapshot, error) {
	unlock := s.locks.Lock(cartID)
	defer unlock()

	cart, err := s.repo.GetCart(ctx, cartID)
	if err != nil {
		return nil, gatewayError("submit cart", err)
	}

	snapshot, err := s.checkout.Submit(ctx, cart)
	if err != nil {
		return nil, gatewayError("submit cart", err)
	}
	s.invalidateCache(cart.UserID)

	s.logger.Info("cart submitted",
		zap.String("cart_id", snapshot.CartID),
		zap.String("user_id", snapshot.UserID),
		zap.Int("items", len(snapshot.Items)),
		zap.String("total", pricing.Format(snapshot.Total)))
	return snapshot, nil
}

// Forget drops any cached copy of the user's cart.
func (s *CartService) Forget(userID string) {
	s.invalidateCache(userID)
}

func (s *CartService) editableCart(ctx context.Context, op, cartID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, cartID)
	if err != nil {
		return nil, gatewayError(op, err)
	}
	if !cart.IsDraft() {
		return nil, fmt.Errorf("%s: cart %s is %s: %w", op, cartID, cart.Status, domain.ErrInvalidState)
	}
	return cart, nil
}

func (s *CartService) view(cart *domain.Cart) *CartView {
	c := cart.Clone()
	return &CartView{Cart: c, Totals: pricing.CalculateTotals(c.Items)}
}

func (s *CartService) storeInCache(ctx context.Context, cart *domain.Cart) {
	if err := s.cache.Set(ctx, cart.UserID, cart); err != nil {
		s.logger.Warn("cache set failed", zap.String("user_id", cart.UserID), zap.Error(err))
	}
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func normalizeEvent(ev *domain.EventMeta) *domain.EventMeta {
	if ev == nil || (ev.Name == "" && ev.Date == "" && ev.Location == "") {
		return nil
	}
	cp := *ev
	return &cp
}

// gatewayError classifies a store failure. Domain outcomes pass through;
// anything else is an I/O failure the caller may retry.
func gatewayError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
		return fmt.Errorf("%s: cart: %w", op, domain.ErrNotFound)
	case errors.Is(err, domain.ErrDuplicateBooking),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrPersistence),
		errors.Is(err, context.Canceled):
		return err
	default:
		return domain.NewPersistenceError(op, err)
	}
}

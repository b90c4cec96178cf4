// Package session gives a presentation layer an explicitly opened and closed
// view of one user's cart. Operations run in the background and their results
// land through a sequence guard, so a late or out-of-order response never
// overwrites newer state and nothing is applied after Close.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/fjod/gig_cart/internal/guard"
	"github.com/fjod/gig_cart/internal/service"
	"go.uber.org/zap"
)

// Store is the cart service as seen by a session.
type Store interface {
	Load(ctx context.Context, userID string) (*service.CartView, error)
	AddItem(ctx context.Context, cartID string, req service.AddItemRequest) (*service.CartView, error)
	RemoveItem(ctx context.Context, cartID, lineItemID string) (*service.CartView, error)
	Clear(ctx context.Context, cartID string) (*service.CartView, error)
	Submit(ctx context.Context, cartID string) (*domain.CartSnapshot, error)
}

// State is what the presentation layer renders.
type State struct {
	// Cart is the latest Draft cart, nil before the first load and right
	// after a successful submit.
	Cart *service.CartView
	// Submitted holds the snapshot of the last successful checkout.
	Submitted *domain.CartSnapshot
	// Err is the outcome of the most recently applied operation.
	Err error
}

const maxResyncs = 3

type CartSession struct {
	userID  string
	store   Store
	logger  *zap.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	state  *guard.State[State]
	wg     sync.WaitGroup
}

type Option func(*CartSession)

func WithLogger(l *zap.Logger) Option {
	return func(s *CartSession) { s.logger = l }
}

// WithTimeout bounds each background operation.
func WithTimeout(d time.Duration) Option {
	return func(s *CartSession) { s.timeout = d }
}

// Open starts a session bound to parent. Cancelling parent has the same
// effect as Close.
func Open(parent context.Context, userID string, store Store, opts ...Option) *CartSession {
	s := &CartSession{
		userID:  userID,
		store:   store,
		logger:  zap.NewNop(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.state = guard.New(s.ctx, State{},
		guard.WithName("cart:"+userID),
		guard.WithLogger(s.logger))
	return s
}

// Close tears the session down. Operations still in flight finish against
// the store but their results are discarded.
func (s *CartSession) Close() {
	s.cancel()
}

// Wait blocks until every background operation has returned.
func (s *CartSession) Wait() {
	s.wg.Wait()
}

func (s *CartSession) State() State {
	st, _ := s.state.Get()
	return st
}

// OnChange registers fn to run after every applied update.
func (s *CartSession) OnChange(fn func(State)) {
	s.state.OnApply(fn)
}

func (s *CartSession) Load() <-chan error {
	return s.run(func(ctx context.Context, _ State) (State, error) {
		view, err := s.store.Load(ctx, s.userID)
		return State{Cart: view}, err
	})
}

func (s *CartSession) AddItem(req service.AddItemRequest) <-chan error {
	return s.mutate(func(ctx context.Context, cartID string) (*service.CartView, error) {
		return s.store.AddItem(ctx, cartID, req)
	})
}

func (s *CartSession) RemoveItem(lineItemID string) <-chan error {
	return s.mutate(func(ctx context.Context, cartID string) (*service.CartView, error) {
		return s.store.RemoveItem(ctx, cartID, lineItemID)
	})
}

func (s *CartSession) Clear() <-chan error {
	return s.mutate(s.store.Clear)
}

func (s *CartSession) Submit() <-chan error {
	return s.run(func(ctx context.Context, cur State) (State, error) {
		cartID, err := s.cartID(ctx, cur)
		if err != nil {
			return State{}, err
		}
		snapshot, err := s.store.Submit(ctx, cartID)
		if err != nil {
			return State{}, err
		}
		return State{Submitted: snapshot}, nil
	})
}

func (s *CartSession) mutate(op func(ctx context.Context, cartID string) (*service.CartView, error)) <-chan error {
	return s.run(func(ctx context.Context, cur State) (State, error) {
		cartID, err := s.cartID(ctx, cur)
		if err != nil {
			return State{}, err
		}
		view, err := op(ctx, cartID)
		return State{Cart: view}, err
	})
}

// cartID picks the cart to act on, loading the draft when none is known yet.
func (s *CartSession) cartID(ctx context.Context, cur State) (string, error) {
	if cur.Cart != nil {
		return cur.Cart.Cart.ID, nil
	}
	view, err := s.store.Load(ctx, s.userID)
	if err != nil {
		return "", err
	}
	return view.Cart.ID, nil
}

// run issues a sequence number now, performs op in the background and applies
// its result through the guard. The returned channel yields op's error once
// the result has been applied or dropped.
func (s *CartSession) run(op func(ctx context.Context, cur State) (State, error)) <-chan error {
	set := s.state.Issue()
	cur := s.State()
	done := make(chan error, 1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)

		// Store calls are not aborted by Close; only their results are.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.timeout)
		defer cancel()

		next, err := op(ctx, cur)
		applied := set(guard.Func(func(prev State) State {
			if err != nil {
				prev.Err = err
				return prev
			}
			if next.Submitted != nil {
				return State{Submitted: next.Submitted}
			}
			return State{Cart: next.Cart, Submitted: prev.Submitted}
		}))
		if !applied && err == nil {
			s.resync(ctx, next.Submitted)
		}
		done <- err
	}()
	return done
}

// resync reloads the cart after a successful write lost the sequence race.
// The dropped write may have committed after the one that won, so the view
// already applied can be missing it.
func (s *CartSession) resync(ctx context.Context, submitted *domain.CartSnapshot) {
	for attempt := 0; attempt < maxResyncs && s.ctx.Err() == nil; attempt++ {
		s.logger.Debug("stale write result dropped, reloading cart",
			zap.String("user_id", s.userID),
			zap.Int("attempt", attempt+1))
		set := s.state.Issue()
		view, err := s.store.Load(ctx, s.userID)
		if err != nil {
			s.logger.Warn("cart reload failed", zap.String("user_id", s.userID), zap.Error(err))
			return
		}
		if set(guard.Func(func(prev State) State {
			snap := submitted
			if snap == nil {
				snap = prev.Submitted
			}
			return State{Cart: view, Submitted: snap}
		})) {
			return
		}
	}
}

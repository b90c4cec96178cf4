// Package guard applies results of asynchronous work to shared state only
// while the owning context is alive, and only in issue order.
//
// Every update is tagged with a sequence number when it is issued. An update
// that completes after a newer one has already been applied is dropped, so a
// slow request can never overwrite the result of a faster, later request.
// Once the owning context is done every update is dropped. Drops are expected
// and are logged at debug level only.
package guard

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Update is either a replacement value or a function of the current value.
type Update[T any] struct {
	value T
	fn    func(T) T
}

func Value[T any](v T) Update[T] {
	return Update[T]{value: v}
}

func Func[T any](fn func(T) T) Update[T] {
	return Update[T]{fn: fn}
}

func (u Update[T]) resolve(current T) T {
	if u.fn != nil {
		return u.fn(current)
	}
	return u.value
}

// Setter applies one update under the sequence number it was issued with.
// It reports whether the update was applied.
type Setter[T any] func(Update[T]) bool

type State[T any] struct {
	ctx    context.Context
	name   string
	logger *zap.Logger

	mu      sync.Mutex
	value   T
	issued  uint64
	applied uint64
	onApply func(T)
}

type Option func(*options)

type options struct {
	name   string
	logger *zap.Logger
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// New binds a state to ctx. Cancelling ctx is the teardown signal.
func New[T any](ctx context.Context, initial T, opts ...Option) *State[T] {
	o := options{name: "state", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return &State[T]{
		ctx:    ctx,
		name:   o.name,
		logger: o.logger,
		value:  initial,
	}
}

// OnApply registers fn to be called, under the state lock, after each applied update.
func (s *State[T]) OnApply(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onApply = fn
}

// Issue reserves the next sequence number and returns a setter bound to it.
// Call Issue when the asynchronous operation starts, not when it finishes.
func (s *State[T]) Issue() Setter[T] {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	return func(u Update[T]) bool {
		return s.apply(seq, u)
	}
}

func (s *State[T]) apply(seq uint64, u Update[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		s.logger.Debug("update dropped after teardown",
			zap.String("state", s.name), zap.Uint64("seq", seq))
		return false
	}
	if seq <= s.applied {
		s.logger.Debug("stale update dropped",
			zap.String("state", s.name), zap.Uint64("seq", seq), zap.Uint64("applied", s.applied))
		return false
	}

	s.value = u.resolve(s.value)
	s.applied = seq
	if s.onApply != nil {
		s.onApply(s.value)
	}
	return true
}

// Get returns the current value and the sequence number that produced it.
func (s *State[T]) Get() (T, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.applied
}

func (s *State[T]) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Alive reports whether the owning context has not been torn down.
func (s *State[T]) Alive() bool {
	return s.ctx.Err() == nil
}

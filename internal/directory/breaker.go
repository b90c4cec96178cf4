package directory

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// BreakerDirectory fails fast while the wrapped directory keeps erroring.
// Unknown professionals are a valid answer and never trip it.
type BreakerDirectory struct {
	next ProfessionalDirectory
	cb   *gobreaker.CircuitBreaker[*domain.Professional]
}

func NewBreakerDirectory(next ProfessionalDirectory, settings BreakerSettings, logger *zap.Logger) *BreakerDirectory {
	if settings.Name == "" {
		settings.Name = "professional-directory"
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker[*domain.Professional](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrProfessionalNotFound) ||
				errors.Is(err, ErrInvalidRateSchedule) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerDirectory{next: next, cb: cb}
}

func (d *BreakerDirectory) GetProfessional(ctx context.Context, id string) (*domain.Professional, error) {
	return d.cb.Execute(func() (*domain.Professional, error) {
		return d.next.GetProfessional(ctx, id)
	})
}

func (d *BreakerDirectory) State() gobreaker.State {
	return d.cb.State()
}

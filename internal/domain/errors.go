package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrDuplicateBooking = errors.New("professional already in cart")
	ErrInvalidState     = errors.New("cart is not editable")
	ErrEmptyCart        = errors.New("cart is empty, nothing to checkout")
	ErrPersistence      = errors.New("persistence failure")
)

// PersistenceError wraps an I/O failure reported by the persistence gateway.
// It matches ErrPersistence and unwraps to the driver error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the caller may retry the operation without new user input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// UserMessage maps an error to the message shown to the person using the cart.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "some booking details are invalid, please review them"
	case errors.Is(err, ErrNotFound):
		return "this professional is no longer available"
	case errors.Is(err, ErrDuplicateBooking):
		return "this professional is already in your cart"
	case errors.Is(err, ErrInvalidState):
		return "this cart was already submitted and can no longer be changed"
	case errors.Is(err, ErrEmptyCart):
		return "add at least one professional before checking out"
	case errors.Is(err, ErrPersistence):
		return "we could not reach the cart right now, please try again"
	default:
		return "something went wrong with your cart"
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/fjod/gig_cart/internal/logger"
	"github.com/fjod/gig_cart/internal/service"
)

// CartStore is the subset of the cart service the handlers call.
type CartStore interface {
	Load(ctx context.Context, userID string) (*service.CartView, error)
	AddItem(ctx context.Context, cartID string, req service.AddItemRequest) (*service.CartView, error)
	RemoveItem(ctx context.Context, cartID, lineItemID string) (*service.CartView, error)
	Clear(ctx context.Context, cartID string) (*service.CartView, error)
	Submit(ctx context.Context, cartID string) (*domain.CartSnapshot, error)
}

type CartHandler struct {
	carts   CartStore
	logger  *zap.Logger
	timeout time.Duration
}

func NewCartHandler(carts CartStore, timeout time.Duration, l *zap.Logger) *CartHandler {
	if l == nil {
		l = zap.NewNop()
	}
	return &CartHandler{carts: carts, logger: l, timeout: timeout}
}

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.carts.Load(ctx, userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var body AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_argument", "Invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.withDraft(ctx, userID, func(cartID string) (*service.CartView, error) {
		return h.carts.AddItem(ctx, cartID, body.toRequest())
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartResponse(view))
}

// RemoveItem handles DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		respondError(w, http.StatusBadRequest, "invalid_argument", "item_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.withDraft(ctx, userID, func(cartID string) (*service.CartView, error) {
		return h.carts.RemoveItem(ctx, cartID, itemID)
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// ClearCart handles DELETE /api/v1/cart/items
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.withDraft(ctx, userID, func(cartID string) (*service.CartView, error) {
		return h.carts.Clear(ctx, cartID)
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// Checkout handles POST /api/v1/cart/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	view, err := h.carts.Load(ctx, userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	snapshot, err := h.carts.Submit(ctx, view.Cart.ID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, toSubmitResponse(snapshot))
}

// withDraft resolves the caller's draft cart and runs op against it.
// A cart id is never taken from the request, so a user can only touch
// their own draft.
func (h *CartHandler) withDraft(ctx context.Context, userID string, op func(cartID string) (*service.CartView, error)) (*service.CartView, error) {
	view, err := h.carts.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return op(view.Cart.ID)
}

func (h *CartHandler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthenticated", "User not authenticated")
		return "", false
	}
	return userID, true
}

func (h *CartHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.WithContext(r.Context(), h.logger).Error("cart request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	respondError(w, status, code, domain.UserMessage(err))
}

const retryAfterSeconds = 1

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrDuplicateBooking):
		return http.StatusConflict, "already_in_cart"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "cart_not_editable"
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusUnprocessableEntity, "empty_cart"
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

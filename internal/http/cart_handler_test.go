package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fjod/gig_cart/internal/directory"
	"github.com/fjod/gig_cart/internal/domain"
	"github.com/fjod/gig_cart/internal/repository"
	"github.com/fjod/gig_cart/internal/service"
)

func setupRouter(t *testing.T) http.Handler {
	t.Helper()
	dir := directory.NewStaticDirectory(
		domain.Professional{
			ID:        "pro-sound",
			EventRate: decimal.NewNullDecimal(decimal.RequireFromString("1000.00")),
		},
		domain.Professional{
			ID:         "pro-light",
			HourlyRate: decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
		},
	)
	logger := zaptest.NewLogger(t)
	svc := service.NewCartService(repository.NewMemoryRepository(), dir, nil, logger)
	return NewRouter(NewCartHandler(svc, 5*time.Second, logger), 5*time.Second, logger)
}

func doRequest(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) CartResponse {
	t.Helper()
	var resp CartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestGetCart_CreatesEmptyDraft(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/cart", "user-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decodeCart(t, rec)
	assert.NotEmpty(t, resp.CartID)
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "draft", resp.Status)
	assert.Empty(t, resp.Items)
	assert.Equal(t, "0.00", resp.Subtotal)
	assert.Equal(t, "0.00", resp.Fee)
	assert.Equal(t, "0.00", resp.Total)
}

func TestGetCart_Unauthenticated(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/cart", "", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, rec).Code)
}

func TestAddItem_ComputesTotals(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1",
		`{"professional_id":"pro-sound","mode":"full_event","event":{"name":"Gala","date":"2026-12-31"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1",
		`{"professional_id":"pro-light","mode":"hourly","hours":4}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeCart(t, rec)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "pro-sound", resp.Items[0].ProfessionalID)
	assert.Equal(t, "1000.00", resp.Items[0].UnitPrice)
	require.NotNil(t, resp.Items[0].Event)
	assert.Equal(t, "Gala", resp.Items[0].Event.Name)
	assert.Equal(t, "400.00", resp.Items[1].UnitPrice)
	assert.Equal(t, 4, resp.Items[1].Hours)
	assert.Equal(t, "1400.00", resp.Subtotal)
	assert.Equal(t, "139.72", resp.Fee)
	assert.Equal(t, "1539.72", resp.Total)
}

func TestAddItem_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed json", `{"professional_id":`, http.StatusBadRequest, "invalid_argument"},
		{"missing hours", `{"professional_id":"pro-light","mode":"hourly"}`, http.StatusBadRequest, "invalid_argument"},
		{"unknown mode", `{"professional_id":"pro-light","mode":"weekly"}`, http.StatusBadRequest, "invalid_argument"},
		{"unknown professional", `{"professional_id":"pro-ghost","mode":"full_event"}`, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupRouter(t)
			rec := doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAddItem_DuplicateProfessional(t *testing.T) {
	h := setupRouter(t)
	body := `{"professional_id":"pro-sound","mode":"full_event"}`

	require.Equal(t, http.StatusCreated, doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1", body).Code)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "already_in_cart", resp.Code)
	assert.Equal(t, "this professional is already in your cart", resp.Error)
}

func TestRemoveItemAndClear(t *testing.T) {
	h := setupRouter(t)
	doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1", `{"professional_id":"pro-sound","mode":"full_event"}`)
	rec := doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1", `{"professional_id":"pro-light","mode":"hourly","hours":2}`)
	resp := decodeCart(t, rec)
	require.Len(t, resp.Items, 2)

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/cart/items/"+resp.Items[0].ID, "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeCart(t, rec)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "pro-light", resp.Items[0].ProfessionalID)
	assert.Equal(t, "200.00", resp.Subtotal)

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/cart/items/does-not-exist", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeCart(t, rec).Items, 1)

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/cart/items", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeCart(t, rec)
	assert.Empty(t, resp.Items)
	assert.Equal(t, "0.00", resp.Total)
}

func TestCheckout(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/cart/checkout", "user-1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "empty_cart", decodeError(t, rec).Code)

	rec = doRequest(t, h, http.MethodPost, "/api/v1/cart/items", "user-1", `{"professional_id":"pro-sound","mode":"full_event"}`)
	draftID := decodeCart(t, rec).CartID

	rec = doRequest(t, h, http.MethodPost, "/api/v1/cart/checkout", "user-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted SubmitResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&submitted))
	assert.Equal(t, draftID, submitted.CartID)
	assert.Equal(t, "submitted", submitted.Status)
	assert.Equal(t, "1000.00", submitted.Subtotal)
	assert.Equal(t, "99.80", submitted.Fee)
	assert.Equal(t, "1099.80", submitted.Total)
	assert.False(t, submitted.SubmittedAt.IsZero())

	// the next read opens a fresh draft
	rec = doRequest(t, h, http.MethodGet, "/api/v1/cart", "user-1", "")
	fresh := decodeCart(t, rec)
	assert.NotEqual(t, draftID, fresh.CartID)
	assert.Empty(t, fresh.Items)
}

type stubStore struct {
	err error
}

func (s *stubStore) Load(context.Context, string) (*service.CartView, error) { return nil, s.err }
func (s *stubStore) AddItem(context.Context, string, service.AddItemRequest) (*service.CartView, error) {
	return nil, s.err
}
func (s *stubStore) RemoveItem(context.Context, string, string) (*service.CartView, error) {
	return nil, s.err
}
func (s *stubStore) Clear(context.Context, string) (*service.CartView, error) { return nil, s.err }
func (s *stubStore) Submit(context.Context, string) (*domain.CartSnapshot, error) {
	return nil, s.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"persistence", domain.NewPersistenceError("load cart", errors.New("connection refused")), http.StatusServiceUnavailable, "service_unavailable"},
		{"invalid state", domain.ErrInvalidState, http.StatusConflict, "cart_not_editable"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := zaptest.NewLogger(t)
			h := NewRouter(NewCartHandler(&stubStore{err: tt.err}, time.Second, logger), time.Second, logger)

			rec := doRequest(t, h, http.MethodGet, "/api/v1/cart", "user-1", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, domain.UserMessage(tt.err), resp.Error)
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "1", rec.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := setupRouter(t)

	rec := doRequest(t, h, http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

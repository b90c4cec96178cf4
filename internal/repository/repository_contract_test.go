package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLineItem(professionalID string, price string) domain.CartLineItem {
	return domain.CartLineItem{
		ID:             uuid.NewString(),
		ProfessionalID: professionalID,
		Mode:           domain.BookingModeFullEvent,
		UnitPrice:      decimal.RequireFromString(price),
		Event:          &domain.EventMeta{Name: "Launch party", Date: "2026-11-20", Location: "Hall B"},
		AddedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
}

// runRepositoryContract exercises the behaviour every CartRepository must share.
func runRepositoryContract(t *testing.T, repo CartRepository) {
	ctx := context.Background()

	t.Run("GetOrCreateDraft is idempotent per user", func(t *testing.T) {
		first, err := repo.GetOrCreateDraft(ctx, "user-idem")
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusDraft, first.Status)
		assert.Empty(t, first.Items)

		second, err := repo.GetOrCreateDraft(ctx, "user-idem")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		other, err := repo.GetOrCreateDraft(ctx, "user-other")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("GetCart unknown id", func(t *testing.T) {
		_, err := repo.GetCart(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrCartNotFound)
	})

	t.Run("insert, duplicate and ordering", func(t *testing.T) {
		cart, err := repo.GetOrCreateDraft(ctx, "user-insert")
		require.NoError(t, err)

		first := newLineItem("pro-sound", "1000.00")
		require.NoError(t, repo.InsertLineItem(ctx, cart.ID, first))

		hourly := newLineItem("pro-light", "400.00")
		hourly.Mode = domain.BookingModeHourly
		hourly.Hours = 4
		hourly.Event = nil
		hourly.AddedAt = first.AddedAt.Add(time.Second)
		require.NoError(t, repo.InsertLineItem(ctx, cart.ID, hourly))

		dup := newLineItem("pro-sound", "1.00")
		err = repo.InsertLineItem(ctx, cart.ID, dup)
		assert.ErrorIs(t, err, domain.ErrDuplicateBooking)

		got, err := repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, first.ID, got.Items[0].ID)
		assert.Equal(t, cart.ID, got.Items[0].CartID)
		assert.True(t, got.Items[0].UnitPrice.Equal(first.UnitPrice))
		require.NotNil(t, got.Items[0].Event)
		assert.Equal(t, "Hall B", got.Items[0].Event.Location)

		assert.Equal(t, hourly.ID, got.Items[1].ID)
		assert.Equal(t, domain.BookingModeHourly, got.Items[1].Mode)
		assert.Equal(t, 4, got.Items[1].Hours)
		assert.Nil(t, got.Items[1].Event)
	})

	t.Run("insert into unknown cart", func(t *testing.T) {
		err := repo.InsertLineItem(ctx, uuid.NewString(), newLineItem("pro-x", "1.00"))
		assert.ErrorIs(t, err, ErrCartNotFound)
	})

	t.Run("delete one and delete all", func(t *testing.T) {
		cart, err := repo.GetOrCreateDraft(ctx, "user-delete")
		require.NoError(t, err)

		a := newLineItem("pro-a", "10.00")
		b := newLineItem("pro-b", "20.00")
		b.AddedAt = a.AddedAt.Add(time.Second)
		require.NoError(t, repo.InsertLineItem(ctx, cart.ID, a))
		require.NoError(t, repo.InsertLineItem(ctx, cart.ID, b))

		require.NoError(t, repo.DeleteLineItem(ctx, cart.ID, a.ID))
		// already gone
		require.NoError(t, repo.DeleteLineItem(ctx, cart.ID, a.ID))
		require.NoError(t, repo.DeleteLineItem(ctx, cart.ID, uuid.NewString()))

		got, err := repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, b.ID, got.Items[0].ID)

		// removed professional can be booked again
		require.NoError(t, repo.InsertLineItem(ctx, cart.ID, newLineItem("pro-a", "10.00")))

		require.NoError(t, repo.DeleteLineItems(ctx, cart.ID))
		got, err = repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Items)
	})

	t.Run("submit lifecycle", func(t *testing.T) {
		cart, err := repo.GetOrCreateDraft(ctx, "user-submit")
		require.NoError(t, err)
		item := newLineItem("pro-dj", "1000.00")
		require.NoError(t, repo.InsertLineItem(ctx, cart.ID, item))

		cart, err = repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		snap := domain.NewCartSnapshot(cart, domain.Totals{
			Subtotal: decimal.RequireFromString("1000.00"),
			Fee:      decimal.RequireFromString("99.80"),
			Total:    decimal.RequireFromString("1099.80"),
		}, time.Now().UTC())

		require.NoError(t, repo.Submit(ctx, cart.ID, snap))

		submitted, err := repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CartStatusSubmitted, submitted.Status)
		assert.Len(t, submitted.Items, 1)

		assert.ErrorIs(t, repo.Submit(ctx, cart.ID, snap), domain.ErrInvalidState)
		assert.ErrorIs(t, repo.InsertLineItem(ctx, cart.ID, newLineItem("pro-vj", "5.00")), domain.ErrInvalidState)
		assert.ErrorIs(t, repo.Submit(ctx, uuid.NewString(), snap), ErrCartNotFound)

		assert.ErrorIs(t, repo.DeleteLineItem(ctx, cart.ID, item.ID), domain.ErrInvalidState)
		assert.ErrorIs(t, repo.DeleteLineItems(ctx, cart.ID), domain.ErrInvalidState)
		assert.ErrorIs(t, repo.DeleteLineItem(ctx, uuid.NewString(), item.ID), ErrCartNotFound)
		assert.ErrorIs(t, repo.DeleteLineItems(ctx, uuid.NewString()), ErrCartNotFound)
		frozen, err := repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, frozen.Items, 1, "submitted items must survive refused deletes")
		assert.Equal(t, item.ID, frozen.Items[0].ID)

		fresh, err := repo.GetOrCreateDraft(ctx, "user-submit")
		require.NoError(t, err)
		assert.NotEqual(t, cart.ID, fresh.ID)
		assert.Equal(t, domain.CartStatusDraft, fresh.Status)
		assert.Empty(t, fresh.Items)

		pending, err := repo.PendingSubmissions(ctx, 100)
		require.NoError(t, err)
		var found *domain.CartSnapshot
		for _, p := range pending {
			if p.CartID == cart.ID {
				found = p
			}
		}
		require.NotNil(t, found, "submitted cart should be pending publication")
		assert.Equal(t, "user-submit", found.UserID)
		assert.True(t, found.Total.Equal(decimal.RequireFromString("1099.80")))
		require.Len(t, found.Items, 1)
		assert.Equal(t, item.ID, found.Items[0].ID)

		require.NoError(t, repo.MarkSubmissionPublished(ctx, cart.ID))
		pending, err = repo.PendingSubmissions(ctx, 100)
		require.NoError(t, err)
		for _, p := range pending {
			assert.NotEqual(t, cart.ID, p.CartID)
		}
	})

	t.Run("concurrent draft creation yields one cart", func(t *testing.T) {
		const workers = 10
		ids := make([]string, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cart, err := repo.GetOrCreateDraft(ctx, "user-race")
				if assert.NoError(t, err) {
					ids[i] = cart.ID
				}
			}(i)
		}
		wg.Wait()
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("concurrent inserts of one professional keep one line", func(t *testing.T) {
		cart, err := repo.GetOrCreateDraft(ctx, "user-race-items")
		require.NoError(t, err)

		const workers = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.InsertLineItem(ctx, cart.ID, newLineItem("pro-popular", "50.00"))
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, domain.ErrDuplicateBooking)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		got, err := repo.GetCart(ctx, cart.ID)
		require.NoError(t, err)
		assert.Len(t, got.Items, 1)
	})
}

package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLiteDirectory(t *testing.T) *SQLiteDirectory {
	dir, err := NewSQLiteDirectory(":memory:")
	require.NoError(t, err)
	require.NoError(t, dir.RunMigrations("./migrations"))
	t.Cleanup(func() { dir.Close() })
	return dir
}

func TestSQLiteDirectory_GetProfessional(t *testing.T) {
	dir := setupSQLiteDirectory(t)

	p, err := dir.GetProfessional(context.Background(), "pro-sound-001")
	require.NoError(t, err)
	assert.Equal(t, "Mara Quinn", p.DisplayName)
	assert.Equal(t, "sound_engineer", p.Category)
	require.True(t, p.HourlyRate.Valid)
	assert.True(t, p.HourlyRate.Decimal.Equal(decimal.RequireFromString("100")))
	require.True(t, p.EventRate.Valid)
	assert.True(t, p.EventRate.Decimal.Equal(decimal.RequireFromString("1000")))
}

func TestSQLiteDirectory_AbsentRates(t *testing.T) {
	dir := setupSQLiteDirectory(t)

	video, err := dir.GetProfessional(context.Background(), "pro-video-001")
	require.NoError(t, err)
	assert.True(t, video.HourlyRate.Valid)
	assert.False(t, video.EventRate.Valid)

	dj, err := dir.GetProfessional(context.Background(), "pro-dj-001")
	require.NoError(t, err)
	assert.False(t, dj.HourlyRate.Valid)
	assert.True(t, dj.HourlyRateOrZero().IsZero())
}

func TestSQLiteDirectory_NotFound(t *testing.T) {
	dir := setupSQLiteDirectory(t)

	_, err := dir.GetProfessional(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrProfessionalNotFound)
}

func TestSQLiteDirectory_CancelledContext(t *testing.T) {
	dir := setupSQLiteDirectory(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dir.GetProfessional(ctx, "pro-sound-001")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrProfessionalNotFound)
}

func TestSQLiteDirectory_RejectsUnchargeableRates(t *testing.T) {
	dir := setupSQLiteDirectory(t)
	_, err := dir.db.Exec(`INSERT INTO professionals (id, display_name, category, hourly_rate, event_rate) VALUES
		('pro-sub-cent', 'Fine Grained', 'dj', '12.345', NULL),
		('pro-negative', 'Owes You', 'dj', NULL, '-10.00'),
		('pro-trailing', 'Trailing Zeros', 'dj', '12.3400', '99.9')`)
	require.NoError(t, err)

	_, err = dir.GetProfessional(context.Background(), "pro-sub-cent")
	assert.ErrorIs(t, err, ErrInvalidRateSchedule)
	assert.Contains(t, err.Error(), "hourly rate 12.345")

	_, err = dir.GetProfessional(context.Background(), "pro-negative")
	assert.ErrorIs(t, err, ErrInvalidRateSchedule)

	// extra zeros are still whole cents
	p, err := dir.GetProfessional(context.Background(), "pro-trailing")
	require.NoError(t, err)
	assert.Equal(t, "12.34", p.HourlyRate.Decimal.StringFixed(2))
}

func TestStaticDirectory_RejectsUnchargeableRates(t *testing.T) {
	dir := NewStaticDirectory(domain.Professional{
		ID:        "p1",
		EventRate: decimal.NewNullDecimal(decimal.RequireFromString("0.001")),
	})

	_, err := dir.GetProfessional(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrInvalidRateSchedule)
}

func TestStaticDirectory(t *testing.T) {
	dir := NewStaticDirectory(domain.Professional{ID: "p1", DisplayName: "One"})

	p, err := dir.GetProfessional(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "One", p.DisplayName)

	p.DisplayName = "mutated"
	again, err := dir.GetProfessional(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "One", again.DisplayName)

	_, err = dir.GetProfessional(context.Background(), "p2")
	assert.ErrorIs(t, err, ErrProfessionalNotFound)
}

// flakyDirectory fails every call until healed.
type flakyDirectory struct {
	mu     sync.Mutex
	calls  int
	broken bool
}

func (f *flakyDirectory) GetProfessional(ctx context.Context, id string) (*domain.Professional, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.broken {
		return nil, errors.New("connection refused")
	}
	switch id {
	case "missing":
		return nil, ErrProfessionalNotFound
	case "sub-cent":
		return nil, ErrInvalidRateSchedule
	}
	return &domain.Professional{ID: id}, nil
}

func (f *flakyDirectory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyDirectory) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = false
}

func TestBreakerDirectory_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyDirectory{broken: true}
	dir := NewBreakerDirectory(next, BreakerSettings{MaxFailures: 3, OpenTimeout: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := dir.GetProfessional(ctx, "p1")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, dir.State())

	_, err := dir.GetProfessional(ctx, "p1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, next.Calls(), "open breaker must not reach the directory")

	next.Heal()
	require.Eventually(t, func() bool {
		_, err := dir.GetProfessional(ctx, "p1")
		return err == nil
	}, time.Second, 20*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, dir.State())
}

func TestBreakerDirectory_NotFoundDoesNotTrip(t *testing.T) {
	next := &flakyDirectory{}
	dir := NewBreakerDirectory(next, BreakerSettings{MaxFailures: 2}, nil)

	for i := 0; i < 5; i++ {
		_, err := dir.GetProfessional(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrProfessionalNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, dir.State())
}

func TestBreakerDirectory_InvalidRatesDoNotTrip(t *testing.T) {
	next := &flakyDirectory{}
	dir := NewBreakerDirectory(next, BreakerSettings{MaxFailures: 2}, nil)

	for i := 0; i < 5; i++ {
		_, err := dir.GetProfessional(context.Background(), "sub-cent")
		assert.ErrorIs(t, err, ErrInvalidRateSchedule)
	}
	assert.Equal(t, gobreaker.StateClosed, dir.State())
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation  = "23505"
	pqInvalidTextInput = "22P02"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

func (c *Credentials) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.DBName)
}

type PostgresRepository struct {
	db *sql.DB
}

var _ CartRepository = (*PostgresRepository)(nil)

func NewPostgresRepository(ctx context.Context, cred *Credentials) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", cred.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.PingContext(ctx); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "cart_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func (r *PostgresRepository) GetOrCreateDraft(ctx context.Context, userID string) (*domain.Cart, error) {
	insert := `INSERT INTO carts (id, user_id, status, created_at, updated_at)
	           VALUES ($1, $2, 'draft', NOW(), NOW())
	           ON CONFLICT (user_id) WHERE status = 'draft' DO NOTHING`
	if _, err := r.db.ExecContext(ctx, insert, uuid.NewString(), userID); err != nil {
		return nil, fmt.Errorf("insert draft cart: %w", err)
	}

	query := `SELECT id, user_id, status, created_at, updated_at
	          FROM carts WHERE user_id = $1 AND status = 'draft'`

	var cart domain.Cart
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query draft cart: %w", err)
	}

	if cart.Items, err = r.lineItems(ctx, cart.ID); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *PostgresRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	query := `SELECT id, user_id, status, created_at, updated_at
	          FROM carts WHERE id = $1`

	var cart domain.Cart
	err := r.db.QueryRowContext(ctx, query, cartID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.Status,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) || pqCode(err) == pqInvalidTextInput {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart by id: %w", err)
	}

	if cart.Items, err = r.lineItems(ctx, cart.ID); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *PostgresRepository) lineItems(ctx context.Context, cartID string) ([]domain.CartLineItem, error) {
	query := `SELECT id, cart_id, professional_id, mode, hours, unit_price,
	                 event_name, event_date, event_location, added_at
	          FROM cart_line_items WHERE cart_id = $1 ORDER BY added_at, id`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartLineItem, 0)
	for rows.Next() {
		var (
			item                      domain.CartLineItem
			hours                     sql.NullInt64
			eventName, eventDate, loc sql.NullString
		)
		if err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProfessionalID,
			&item.Mode,
			&hours,
			&item.UnitPrice,
			&eventName,
			&eventDate,
			&loc,
			&item.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("scan line item row: %w", err)
		}
		item.Hours = int(hours.Int64)
		if eventName.Valid || eventDate.Valid || loc.Valid {
			item.Event = &domain.EventMeta{Name: eventName.String, Date: eventDate.String, Location: loc.String}
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

func (r *PostgresRepository) InsertLineItem(ctx context.Context, cartID string, item domain.CartLineItem) error {
	// The UPDATE both checks the cart is a draft and row-locks it against a
	// concurrent Submit for the duration of the statement.
	query := `WITH draft AS (
	              UPDATE carts SET updated_at = NOW()
	              WHERE id = $2 AND status = 'draft'
	              RETURNING id
	          )
	          INSERT INTO cart_line_items (id, cart_id, professional_id, mode, hours, unit_price,
	                                       event_name, event_date, event_location, added_at)
	          SELECT $1::uuid, draft.id, $3::text, $4::text, $5::integer, $6::numeric,
	                 $7::text, $8::text, $9::text, COALESCE($10::timestamptz, NOW())
	          FROM draft`

	var hours sql.NullInt64
	if item.Hours > 0 {
		hours = sql.NullInt64{Int64: int64(item.Hours), Valid: true}
	}
	var eventName, eventDate, loc sql.NullString
	if item.Event != nil {
		eventName = nullString(item.Event.Name)
		eventDate = nullString(item.Event.Date)
		loc = nullString(item.Event.Location)
	}
	var addedAt sql.NullTime
	if !item.AddedAt.IsZero() {
		addedAt = sql.NullTime{Time: item.AddedAt, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		item.ID,
		cartID,
		item.ProfessionalID,
		item.Mode.String(),
		hours,
		item.UnitPrice,
		eventName,
		eventDate,
		loc,
		addedAt,
	)
	if err != nil {
		switch pqCode(err) {
		case pqUniqueViolation:
			return domain.ErrDuplicateBooking
		case pqInvalidTextInput:
			return ErrCartNotFound
		}
		return fmt.Errorf("insert line item: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert line item: %w", err)
	}
	if n == 0 {
		return r.notDraftError(ctx, cartID)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// DeleteLineItem removes one item of a draft cart. The draft CTE row-locks the
// cart, so a concurrent Submit either runs first and the delete is refused, or
// waits until the delete commits.
func (r *PostgresRepository) DeleteLineItem(ctx context.Context, cartID, lineItemID string) error {
	query := `WITH draft AS (
	              UPDATE carts SET updated_at = NOW()
	              WHERE id = $1 AND status = 'draft'
	              RETURNING id
	          ), removed AS (
	              DELETE FROM cart_line_items
	              WHERE cart_id IN (SELECT id FROM draft) AND id::text = $2
	              RETURNING id
	          )
	          SELECT COUNT(*) FROM draft`
	return r.deleteFromDraft(ctx, "delete line item", cartID, query, cartID, lineItemID)
}

func (r *PostgresRepository) DeleteLineItems(ctx context.Context, cartID string) error {
	query := `WITH draft AS (
	              UPDATE carts SET updated_at = NOW()
	              WHERE id = $1 AND status = 'draft'
	              RETURNING id
	          ), removed AS (
	              DELETE FROM cart_line_items
	              WHERE cart_id IN (SELECT id FROM draft)
	              RETURNING id
	          )
	          SELECT COUNT(*) FROM draft`
	return r.deleteFromDraft(ctx, "delete line items", cartID, query, cartID)
}

func (r *PostgresRepository) deleteFromDraft(ctx context.Context, op, cartID, query string, args ...any) error {
	var drafts int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&drafts); err != nil {
		if pqCode(err) == pqInvalidTextInput {
			return ErrCartNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if drafts == 0 {
		return r.notDraftError(ctx, cartID)
	}
	return nil
}

func (r *PostgresRepository) Submit(ctx context.Context, cartID string, snapshot *domain.CartSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE carts SET status = 'submitted', updated_at = NOW() WHERE id = $1 AND status = 'draft'`,
		cartID)
	if err != nil {
		if pqCode(err) == pqInvalidTextInput {
			return ErrCartNotFound
		}
		return fmt.Errorf("update cart status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update cart status: %w", err)
	}
	if n == 0 {
		_ = tx.Rollback()
		return r.notDraftError(ctx, cartID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cart_submissions (cart_id, snapshot, submitted_at) VALUES ($1, $2, $3)`,
		cartID, string(payload), snapshot.SubmittedAt); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submit tx: %w", err)
	}
	return nil
}

func (r *PostgresRepository) notDraftError(ctx context.Context, cartID string) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1)`, cartID).Scan(&exists)
	if err != nil {
		if pqCode(err) == pqInvalidTextInput {
			return ErrCartNotFound
		}
		return fmt.Errorf("query cart existence: %w", err)
	}
	if !exists {
		return ErrCartNotFound
	}
	return domain.ErrInvalidState
}

func (r *PostgresRepository) PendingSubmissions(ctx context.Context, limit int) ([]*domain.CartSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT snapshot FROM cart_submissions
	          WHERE NOT published
	          ORDER BY submitted_at
	          LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending submissions: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*domain.CartSnapshot, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		var snap domain.CartSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		snapshots = append(snapshots, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return snapshots, nil
}

func (r *PostgresRepository) MarkSubmissionPublished(ctx context.Context, cartID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE cart_submissions SET published = TRUE, published_at = NOW() WHERE cart_id = $1`,
		cartID)
	if err != nil {
		if pqCode(err) == pqInvalidTextInput {
			return ErrCartNotFound
		}
		return fmt.Errorf("mark submission published: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark submission published: %w", err)
	}
	if n == 0 {
		return ErrCartNotFound
	}
	return nil
}

package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjod/gig_cart/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

// SQLiteDirectory reads the professional catalog from a SQLite database.
type SQLiteDirectory struct {
	db *sql.DB
}

func NewSQLiteDirectory(dbPath string) (*SQLiteDirectory, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open professional catalog: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across queries
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping professional catalog: %w", err)
	}

	return &SQLiteDirectory{db: db}, nil
}

func (d *SQLiteDirectory) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(d.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("catalog migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("load catalog migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply catalog migrations: %w", err)
	}

	return nil
}

func (d *SQLiteDirectory) GetProfessional(ctx context.Context, id string) (*domain.Professional, error) {
	query := `
		SELECT id, display_name, category, hourly_rate, event_rate
		FROM professionals
		WHERE id = ?
	`

	p := &domain.Professional{}
	err := d.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.DisplayName,
		&p.Category,
		&p.HourlyRate,
		&p.EventRate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfessionalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query professional %s: %w", id, err)
	}
	if err := validateRates(*p); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}

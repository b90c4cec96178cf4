package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) (*PostgresRepository, *Credentials) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gig_cart"),
		postgres.WithUsername("cart"),
		postgres.WithPassword("cart"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cred := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "cart",
		Password:          "cart",
		DBName:            "gig_cart",
		MigrationsDirPath: "./migrations",
	}
	repo, err := NewPostgresRepository(ctx, cred)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	require.NoError(t, repo.RunMigrations(cred))
	return repo, cred
}

func TestPostgresRepository_Contract(t *testing.T) {
	repo, _ := startPostgres(t)
	runRepositoryContract(t, repo)
}

func TestPostgresRepository_MigrationsRerun(t *testing.T) {
	repo, cred := startPostgres(t)
	assert.NoError(t, repo.RunMigrations(cred))
}

func TestPostgresRepository_MalformedIDsAreNotFound(t *testing.T) {
	repo, _ := startPostgres(t)
	ctx := context.Background()

	_, err := repo.GetCart(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrCartNotFound)
	assert.ErrorIs(t, repo.InsertLineItem(ctx, "not-a-uuid", newLineItem("pro-x", "1.00")), ErrCartNotFound)
}

func TestPostgresRepository_UnitPriceKeepsPrecision(t *testing.T) {
	repo, _ := startPostgres(t)
	ctx := context.Background()

	cart, err := repo.GetOrCreateDraft(ctx, "user-precision")
	require.NoError(t, err)
	require.NoError(t, repo.InsertLineItem(ctx, cart.ID, newLineItem("pro-harp", "333.3333")))

	got, err := repo.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "333.3333", got.Items[0].UnitPrice.String())
	require.NotNil(t, got.Items[0].Event)
	assert.Equal(t, "Hall B", got.Items[0].Event.Location)
}

func TestCredentials_DSN(t *testing.T) {
	c := &Credentials{Host: "db", Port: 5433, User: "u", Password: "p", DBName: "carts"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=carts sslmode=disable", c.DSN())
}

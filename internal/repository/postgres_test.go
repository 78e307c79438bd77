package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
)

func setupPostgres(t *testing.T) *Stores {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("storefront"),
		postgres.WithUsername("acme"),
		postgres.WithPassword("acme"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := OpenPostgres(ctx, config.DatabaseConfig{
		Host:         host,
		Port:         port.Int(),
		User:         "acme",
		Password:     "acme",
		Name:         "storefront",
		SSLMode:      "disable",
		MaxOpenConns: 30,
		MaxIdleConns: 5,
		MaxLifetime:  time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db))
	// Re-running is a no-op.
	require.NoError(t, RunMigrations(db))

	stores := NewPostgresStores(db, logging.NewLoggerV2("postgres-test"))
	t.Cleanup(func() { stores.Close(ctx) })
	return stores
}

func TestPostgresStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	runStoreContract(t, setupPostgres(t))
}

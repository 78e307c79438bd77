package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
)

func setupMongo(t *testing.T) *Stores {
	t.Helper()
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, config.MongoConfig{URI: uri, Database: "storefront", Timeout: 10 * time.Second})
	require.NoError(t, err)
	require.NoError(t, EnsureMongoIndexes(ctx, db))

	stores := NewMongoStores(db, logging.NewLoggerV2("mongo-test"))
	t.Cleanup(func() { stores.Close(ctx) })
	return stores
}

func TestMongoStores(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	runStoreContract(t, setupMongo(t))
}

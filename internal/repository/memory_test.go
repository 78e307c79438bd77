package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

func TestMemoryStores(t *testing.T) {
	runStoreContract(t, NewMemoryStores())
}

func TestMemoryCartRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryCartRepository()
	ctx := context.Background()

	_, err := repo.CreateEmpty(ctx, "u1")
	require.NoError(t, err)
	cart, err := repo.ReplaceItems(ctx, "u1", []models.CartItem{{ProductID: "p1", Quantity: 1}}, 0)
	require.NoError(t, err)

	cart.Items[0].Quantity = 99

	stored, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestMemoryOrderRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryOrderRepository()
	ctx := context.Background()

	created, err := repo.Insert(ctx, newOrder("u1", "k1"))
	require.NoError(t, err)

	created.Items[0].Quantity = 99
	created.Status = models.OrderStatusPaid

	stored, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
}

package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

func TestCartService_GetCreatesEmptyCart(t *testing.T) {
	f := newFixture(t)

	cart := f.cart(t, "u1")
	assert.Equal(t, "u1", cart.UserID)
	assert.Empty(t, cart.Items)
}

func TestCartService_AddItemMergesQuantity(t *testing.T) {
	f := newFixture(t)
	p1 := f.addProduct(t, "Mug", "10.00", 5)

	f.addToCart(t, "u1", p1.ID, 2)
	cart := f.addToCart(t, "u1", p1.ID, 3)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, int64(2), cart.Version)
}

func TestCartService_AddItemRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "Mug", "10.00", 5)
	f.addToCart(t, "u1", p1.ID, 4)

	_, err := f.cartService.AddItem(ctx, "u1", &models.AddCartItemRequest{ProductID: p1.ID, Quantity: 2})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	_, err = f.cartService.AddItem(ctx, "u1", &models.AddCartItemRequest{ProductID: "missing", Quantity: 1})
	assert.Equal(t, errors.KindProductNotFound, errors.KindOf(err))

	_, err = f.cartService.AddItem(ctx, "u1", &models.AddCartItemRequest{ProductID: p1.ID, Quantity: 0})
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	assert.Equal(t, 4, f.cart(t, "u1").Quantity(p1.ID))
}

func TestCartService_RemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.addProduct(t, "Mug", "10.00", 5)
	p2 := f.addProduct(t, "Pen", "1.00", 5)
	f.addToCart(t, "u1", p1.ID, 1)
	f.addToCart(t, "u1", p2.ID, 1)

	cart, err := f.cartService.RemoveItem(ctx, "u1", p1.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.CartItem{{ProductID: p2.ID, Quantity: 1}}, cart.Items)

	_, err = f.cartService.RemoveItem(ctx, "u1", p1.ID)
	assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
}

func TestCartService_RetriesVersionConflict(t *testing.T) {
	f := newFixture(t)
	p1 := f.addProduct(t, "Mug", "10.00", 5)

	f.carts.failNext(2, repository.ErrVersionConflict)
	cart := f.addToCart(t, "u1", p1.ID, 1)
	assert.Equal(t, 1, cart.Quantity(p1.ID))

	f.carts.failNext(maxCartWriteAttempts, repository.ErrVersionConflict)
	_, err := f.cartService.AddItem(context.Background(), "u1", &models.AddCartItemRequest{ProductID: p1.ID, Quantity: 1})
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}

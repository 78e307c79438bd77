package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// runStoreContract exercises the behaviour every backend must share.
// IDs are random so the suite can run against a shared database.
func runStoreContract(t *testing.T, stores *Stores) {
	t.Run("ProductCRUD", func(t *testing.T) { testProductCRUD(t, stores.Products) })
	t.Run("ConditionalDecrement", func(t *testing.T) { testConditionalDecrement(t, stores.Products) })
	t.Run("UpdateKeepsReservedStock", func(t *testing.T) { testUpdateKeepsReservedStock(t, stores.Products) })
	t.Run("ConcurrentDecrementNeverOversells", func(t *testing.T) { testConcurrentDecrement(t, stores.Products) })
	t.Run("CartVersioning", func(t *testing.T) { testCartVersioning(t, stores.Carts) })
	t.Run("OrderInsertAndLookup", func(t *testing.T) { testOrderInsert(t, stores.Orders) })
	t.Run("OrderStatusTransition", func(t *testing.T) { testOrderStatus(t, stores.Orders) })
	t.Run("CallbackClaim", func(t *testing.T) { testCallbackClaim(t, stores.Callbacks) })
}

func newProduct(stock int, price string) *models.Product {
	return &models.Product{
		ID:          uuid.New().String(),
		Name:        "Widget",
		Description: "A widget",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
	}
}

func testProductCRUD(t *testing.T, repo ProductRepository) {
	ctx := context.Background()
	p := newProduct(5, "10.50")
	require.NoError(t, repo.Create(ctx, p))
	assert.False(t, p.CreatedAt.IsZero())

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Widget", got.Name)
	assert.True(t, decimal.RequireFromString("10.50").Equal(got.Price))
	assert.Equal(t, 5, got.Stock)

	price := decimal.RequireFromString("12.00")
	updated, err := repo.Update(ctx, p.ID, &models.UpdateProductRequest{Price: &price})
	require.NoError(t, err)
	assert.True(t, price.Equal(updated.Price))
	assert.Equal(t, "Widget", updated.Name)
	got, err = repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12").Equal(got.Price))

	_, err = repo.Update(ctx, uuid.New().String(), &models.UpdateProductRequest{Price: &price})
	assert.True(t, errors.Is(err, errors.KindNotFound))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	require.NoError(t, repo.Delete(ctx, p.ID))
	_, err = repo.Get(ctx, p.ID)
	assert.True(t, errors.Is(err, errors.KindNotFound))
	assert.True(t, errors.Is(repo.Delete(ctx, p.ID), errors.KindNotFound))
}

func testUpdateKeepsReservedStock(t *testing.T, repo ProductRepository) {
	ctx := context.Background()
	p := newProduct(5, "10.00")
	require.NoError(t, repo.Create(ctx, p))

	// The admin read stock 5, then a checkout reserved 3 before the write.
	require.NoError(t, repo.ConditionalDecrement(ctx, p.ID, 3))
	price := decimal.RequireFromString("11.00")
	updated, err := repo.Update(ctx, p.ID, &models.UpdateProductRequest{Price: &price})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Stock)

	stock := 7
	updated, err = repo.Update(ctx, p.ID, &models.UpdateProductRequest{Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, 7, updated.Stock)
	assert.True(t, price.Equal(updated.Price))
}

func testConditionalDecrement(t *testing.T, repo ProductRepository) {
	ctx := context.Background()
	p := newProduct(5, "10.00")
	require.NoError(t, repo.Create(ctx, p))

	require.NoError(t, repo.ConditionalDecrement(ctx, p.ID, 2))
	err := repo.ConditionalDecrement(ctx, p.ID, 4)
	assert.Equal(t, errors.KindInsufficientStock, errors.KindOf(err))

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stock)

	require.NoError(t, repo.Increment(ctx, p.ID, 2))
	got, err = repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)

	err = repo.ConditionalDecrement(ctx, "missing-"+uuid.New().String(), 1)
	assert.Equal(t, errors.KindProductNotFound, errors.KindOf(err))
}

func testConcurrentDecrement(t *testing.T, repo ProductRepository) {
	ctx := context.Background()
	const stock = 10
	p := newProduct(stock, "1.00")
	require.NoError(t, repo.Create(ctx, p))

	var succeeded, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.ConditionalDecrement(ctx, p.ID, 1)
			switch errors.KindOf(err) {
			case errors.KindInsufficientStock:
				atomic.AddInt32(&rejected, 1)
			default:
				if err == nil {
					atomic.AddInt32(&succeeded, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(stock), succeeded)
	assert.Equal(t, int32(15), rejected)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func testCartVersioning(t *testing.T, repo CartRepository) {
	ctx := context.Background()
	userID := "user-" + uuid.New().String()

	_, err := repo.GetByUser(ctx, userID)
	assert.True(t, errors.Is(err, errors.KindNotFound))

	cart, err := repo.CreateEmpty(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, int64(0), cart.Version)

	again, err := repo.CreateEmpty(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), again.Version)

	items := []models.CartItem{{ProductID: "p1", Quantity: 2}}
	cart, err = repo.ReplaceItems(ctx, userID, items, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cart.Version)
	assert.Equal(t, items, cart.Items)

	_, err = repo.ReplaceItems(ctx, userID, nil, 0)
	assert.ErrorIs(t, err, ErrVersionConflict)

	cart, err = repo.ReplaceItems(ctx, userID, nil, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, int64(2), cart.Version)

	stored, err := repo.GetByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, stored.Items)
}

func newOrder(userID, key string) *models.Order {
	o := &models.Order{
		UserID: userID,
		Items: []models.OrderItem{
			{ProductID: "p1", ProductName: "Widget", Quantity: 2, PriceAtPurchase: decimal.RequireFromString("10.00")},
			{ProductID: "p2", ProductName: "Gadget", Quantity: 1, PriceAtPurchase: decimal.RequireFromString("0.10")},
		},
		Currency:    "usd",
		Status:      models.OrderStatusPending,
		CheckoutKey: key,
	}
	o.CalculateTotal()
	return o
}

func testOrderInsert(t *testing.T, repo OrderRepository) {
	ctx := context.Background()
	userID := "user-" + uuid.New().String()
	key := "checkout:" + userID + ":v1"

	order := newOrder(userID, key)
	order.PaymentRef = "cs_" + uuid.New().String()
	created, err := repo.Insert(ctx, order)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, decimal.RequireFromString("20.10").Equal(created.TotalPrice))

	_, err = repo.Insert(ctx, newOrder(userID, key))
	assert.ErrorIs(t, err, ErrDuplicateCheckout)

	byKey, err := repo.GetByCheckoutKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byKey.ID)

	byRef, err := repo.GetByPaymentRef(ctx, order.PaymentRef)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byRef.ID)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.True(t, decimal.RequireFromString("0.10").Equal(got.Items[1].PriceAtPurchase))

	_, err = repo.Insert(ctx, newOrder(userID, key+"-second"))
	require.NoError(t, err)
	list, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func testOrderStatus(t *testing.T, repo OrderRepository) {
	ctx := context.Background()
	userID := "user-" + uuid.New().String()
	created, err := repo.Insert(ctx, newOrder(userID, "checkout:"+userID+":v1"))
	require.NoError(t, err)

	paid, err := repo.UpdateStatus(ctx, created.ID, models.OrderStatusPending, models.OrderStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, paid.Status)

	_, err = repo.UpdateStatus(ctx, created.ID, models.OrderStatusPending, models.OrderStatusFailed)
	assert.ErrorIs(t, err, ErrStatusConflict)

	_, err = repo.UpdateStatus(ctx, "missing", models.OrderStatusPending, models.OrderStatusPaid)
	assert.True(t, errors.Is(err, errors.KindNotFound))
}

func testCallbackClaim(t *testing.T, repo CallbackRepository) {
	ctx := context.Background()
	key := "payment:evt_" + uuid.New().String()
	cb := &models.PaymentCallback{Key: key, EventID: "evt", EventType: models.EventCheckoutSessionCompleted, UserID: "u1"}

	first, claimed, err := repo.Claim(ctx, cb, time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, models.CallbackStateProcessing, first.State)

	_, claimed, err = repo.Claim(ctx, cb, time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "fresh processing record must not be claimed twice")

	time.Sleep(20 * time.Millisecond)
	stale, claimed, err := repo.Claim(ctx, cb, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, claimed, "stale processing record must be reclaimable")
	assert.Equal(t, 2, stale.Attempts)

	require.NoError(t, repo.Finish(ctx, key, models.CallbackStateCompleted, "ord_1", ""))

	done, claimed, err := repo.Claim(ctx, cb, 0)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, models.CallbackStateCompleted, done.State)
	assert.Equal(t, "ord_1", done.OrderID)

	assert.True(t, errors.Is(repo.Finish(ctx, "missing", models.CallbackStateFailed, "", ""), errors.KindNotFound))
}

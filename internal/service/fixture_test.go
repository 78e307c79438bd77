package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/lock"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

// countingProducts counts reads and can fail decrements for one product.
// beforeUpdate runs ahead of each catalog write.
type countingProducts struct {
	repository.ProductRepository
	gets         int32
	decrements   int32
	failID       string
	beforeUpdate func()
}

func (p *countingProducts) Update(ctx context.Context, id string, patch *models.UpdateProductRequest) (*models.Product, error) {
	if p.beforeUpdate != nil {
		p.beforeUpdate()
	}
	return p.ProductRepository.Update(ctx, id, patch)
}

func (p *countingProducts) Get(ctx context.Context, id string) (*models.Product, error) {
	atomic.AddInt32(&p.gets, 1)
	return p.ProductRepository.Get(ctx, id)
}

func (p *countingProducts) ConditionalDecrement(ctx context.Context, id string, qty int) error {
	atomic.AddInt32(&p.decrements, 1)
	if id == p.failID {
		return errors.InsufficientStock(id)
	}
	return p.ProductRepository.ConditionalDecrement(ctx, id, qty)
}

// countingOrders counts checkout-key lookups and can fail inserts.
type countingOrders struct {
	repository.OrderRepository
	keyLookups int32
	insertErr  error
}

func (o *countingOrders) GetByCheckoutKey(ctx context.Context, key string) (*models.Order, error) {
	atomic.AddInt32(&o.keyLookups, 1)
	return o.OrderRepository.GetByCheckoutKey(ctx, key)
}

func (o *countingOrders) Insert(ctx context.Context, order *models.Order) (*models.Order, error) {
	if o.insertErr != nil {
		return nil, o.insertErr
	}
	return o.OrderRepository.Insert(ctx, order)
}

// flakyCarts fails the next n writes with err.
type flakyCarts struct {
	repository.CartRepository
	mu       sync.Mutex
	failures int
	err      error
}

func (c *flakyCarts) ReplaceItems(ctx context.Context, userID string, items []models.CartItem, expectedVersion int64) (*models.Cart, error) {
	c.mu.Lock()
	if c.failures > 0 {
		c.failures--
		c.mu.Unlock()
		return nil, c.err
	}
	c.mu.Unlock()
	return c.CartRepository.ReplaceItems(ctx, userID, items, expectedVersion)
}

func (c *flakyCarts) failNext(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = n
	c.err = err
}

type recordingPublisher struct {
	mu      sync.Mutex
	created []*models.Order
	changed []models.OrderStatus
}

func (p *recordingPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, order)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, order.Status)
	return nil
}

type fixture struct {
	products  *countingProducts
	orderRepo *countingOrders
	carts     *flakyCarts
	stores    *repository.Stores
	provider  *clients.MockPaymentProvider
	events    *recordingPublisher
	metrics   *metrics.Metrics
	cfg       *config.Config

	checkout    *CheckoutService
	orders      *OrderService
	cartService *CartService
	catalog     *ProductService
	payments    *PaymentService
}

func testConfig() *config.Config {
	return &config.Config{
		PaymentService: config.PaymentConfig{
			Currency:   "usd",
			SuccessURL: "https://shop.example.com/success",
			CancelURL:  "https://shop.example.com/cancel",
		},
		Checkout: config.CheckoutConfig{
			Timeout:       5 * time.Second,
			CallbackLease: time.Minute,
		},
		Features: config.FeatureFlags{
			EnableOrderEvents: true,
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := repository.NewMemoryStores()
	f := &fixture{
		products:  &countingProducts{ProductRepository: mem.Products},
		orderRepo: &countingOrders{OrderRepository: mem.Orders},
		carts:     &flakyCarts{CartRepository: mem.Carts},
		provider:  clients.NewMockPaymentProvider(),
		events:    &recordingPublisher{},
		metrics:   metrics.New(prometheus.NewRegistry()),
		cfg:       testConfig(),
	}
	f.stores = &repository.Stores{
		Products:  f.products,
		Carts:     f.carts,
		Orders:    f.orderRepo,
		Callbacks: mem.Callbacks,
	}

	locker := lock.NewKeyedMutex()
	f.checkout = NewCheckoutService(f.stores, locker, f.provider, nil, f.events, f.metrics, f.cfg)
	f.orders = NewOrderService(f.stores, nil, f.events, f.cfg)
	f.cartService = NewCartService(f.stores, locker)
	f.catalog = NewProductService(f.stores)
	f.payments = NewPaymentService(f.provider, f.checkout, f.orders, f.stores, f.metrics, f.cfg)
	return f
}

func (f *fixture) addProduct(t *testing.T, name, price string, stock int) *models.Product {
	t.Helper()
	p, err := f.catalog.CreateProduct(context.Background(), &models.CreateProductRequest{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) addToCart(t *testing.T, userID, productID string, qty int) *models.Cart {
	t.Helper()
	cart, err := f.cartService.AddItem(context.Background(), userID, &models.AddCartItemRequest{
		ProductID: productID,
		Quantity:  qty,
	})
	require.NoError(t, err)
	return cart
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.stores.Products.Get(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) cart(t *testing.T, userID string) *models.Cart {
	t.Helper()
	cart, err := f.cartService.GetCart(context.Background(), userID)
	require.NoError(t, err)
	return cart
}

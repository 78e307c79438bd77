package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// NewMemoryStores returns a full set of in-process repositories.
func NewMemoryStores() *Stores {
	return &Stores{
		Products:  NewMemoryProductRepository(),
		Carts:     NewMemoryCartRepository(),
		Orders:    NewMemoryOrderRepository(),
		Callbacks: NewMemoryCallbackRepository(),
	}
}

// MemoryProductRepository keeps products in a map guarded by a mutex.
type MemoryProductRepository struct {
	mu       sync.RWMutex
	products map[string]*models.Product
}

func NewMemoryProductRepository() *MemoryProductRepository {
	return &MemoryProductRepository{products: make(map[string]*models.Product)}
}

func (r *MemoryProductRepository) Get(ctx context.Context, id string) (*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryProductRepository) List(ctx context.Context) ([]*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Product, 0, len(r.products))
	for _, p := range r.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryProductRepository) Create(ctx context.Context, product *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	if _, exists := r.products[product.ID]; exists {
		return errors.New(errors.KindConflict, "product already exists: %s", product.ID)
	}
	ts := now()
	product.CreatedAt = ts
	product.UpdatedAt = ts
	cp := *product
	r.products[product.ID] = &cp
	return nil
}

func (r *MemoryProductRepository) Update(ctx context.Context, id string, patch *models.UpdateProductRequest) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	patch.Apply(p)
	p.UpdatedAt = now()
	cp := *p
	return &cp, nil
}

func (r *MemoryProductRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return notFound("product", id)
	}
	delete(r.products, id)
	return nil
}

func (r *MemoryProductRepository) ConditionalDecrement(ctx context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return errors.ProductNotFound(id)
	}
	if p.Stock < qty {
		return errors.InsufficientStock(id)
	}
	p.Stock -= qty
	p.UpdatedAt = now()
	return nil
}

func (r *MemoryProductRepository) Increment(ctx context.Context, id string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return errors.ProductNotFound(id)
	}
	p.Stock += qty
	p.UpdatedAt = now()
	return nil
}

// MemoryCartRepository keeps carts keyed by user ID.
type MemoryCartRepository struct {
	mu    sync.Mutex
	carts map[string]*models.Cart
}

func NewMemoryCartRepository() *MemoryCartRepository {
	return &MemoryCartRepository{carts: make(map[string]*models.Cart)}
}

func (r *MemoryCartRepository) GetByUser(ctx context.Context, userID string) (*models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, notFound("cart", userID)
	}
	return c.Clone(), nil
}

func (r *MemoryCartRepository) CreateEmpty(ctx context.Context, userID string) (*models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.carts[userID]; ok {
		return c.Clone(), nil
	}
	c := &models.Cart{UserID: userID, Items: []models.CartItem{}, UpdatedAt: now()}
	r.carts[userID] = c
	return c.Clone(), nil
}

func (r *MemoryCartRepository) ReplaceItems(ctx context.Context, userID string, items []models.CartItem, expectedVersion int64) (*models.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[userID]
	if !ok {
		return nil, notFound("cart", userID)
	}
	if c.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	c.Items = append([]models.CartItem{}, items...)
	c.Version++
	c.UpdatedAt = now()
	return c.Clone(), nil
}

// MemoryOrderRepository keeps orders and a checkout-key index.
type MemoryOrderRepository struct {
	mu            sync.RWMutex
	orders        map[string]*models.Order
	byCheckoutKey map[string]string
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:        make(map[string]*models.Order),
		byCheckoutKey: make(map[string]string),
	}
}

func (r *MemoryOrderRepository) Insert(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.CheckoutKey != "" {
		if _, exists := r.byCheckoutKey[order.CheckoutKey]; exists {
			return nil, ErrDuplicateCheckout
		}
	}

	stored := order.Clone()
	stored.ID = generateOrderID()
	ts := now()
	stored.CreatedAt = ts
	stored.UpdatedAt = ts
	r.orders[stored.ID] = stored
	if stored.CheckoutKey != "" {
		r.byCheckoutKey[stored.CheckoutKey] = stored.ID
	}
	return stored.Clone(), nil
}

func (r *MemoryOrderRepository) Get(ctx context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) GetByCheckoutKey(ctx context.Context, key string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCheckoutKey[key]
	if !ok {
		return nil, notFound("order with checkout key", key)
	}
	return r.orders[id].Clone(), nil
}

func (r *MemoryOrderRepository) GetByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.orders {
		if ref != "" && o.PaymentRef == ref {
			return o.Clone(), nil
		}
	}
	return nil, notFound("order with payment ref", ref)
}

func (r *MemoryOrderRepository) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryOrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	if o.Status != from {
		return nil, ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = now()
	return o.Clone(), nil
}

// MemoryCallbackRepository keeps payment callbacks keyed by idempotency key.
type MemoryCallbackRepository struct {
	mu        sync.Mutex
	callbacks map[string]*models.PaymentCallback
}

func NewMemoryCallbackRepository() *MemoryCallbackRepository {
	return &MemoryCallbackRepository{callbacks: make(map[string]*models.PaymentCallback)}
}

func (r *MemoryCallbackRepository) Claim(ctx context.Context, cb *models.PaymentCallback, lease time.Duration) (*models.PaymentCallback, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := now()
	existing, ok := r.callbacks[cb.Key]
	if !ok {
		stored := *cb
		stored.State = models.CallbackStateProcessing
		stored.Attempts = 1
		stored.CreatedAt = ts
		stored.UpdatedAt = ts
		r.callbacks[cb.Key] = &stored
		out := stored
		return &out, true, nil
	}

	if existing.State == models.CallbackStateProcessing && ts.Sub(existing.UpdatedAt) >= lease {
		existing.Attempts++
		existing.UpdatedAt = ts
		out := *existing
		return &out, true, nil
	}

	out := *existing
	return &out, false, nil
}

func (r *MemoryCallbackRepository) Finish(ctx context.Context, key string, state models.CallbackState, orderID, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.callbacks[key]
	if !ok {
		return notFound("callback", key)
	}
	cb.State = state
	cb.OrderID = orderID
	cb.Detail = detail
	cb.UpdatedAt = now()
	return nil
}

func (r *MemoryCallbackRepository) Get(ctx context.Context, key string) (*models.PaymentCallback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.callbacks[key]
	if !ok {
		return nil, notFound("callback", key)
	}
	out := *cb
	return &out, nil
}

func generateOrderID() string {
	return "ord_" + uuid.New().String()
}

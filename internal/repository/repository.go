package repository

import (
	"context"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// ErrVersionConflict is returned by CartRepository.ReplaceItems when the cart
// was written since it was read.
var ErrVersionConflict = &errors.Error{Kind: errors.KindConflict, Message: "cart version conflict"}

// ErrDuplicateCheckout is returned by OrderRepository.Insert when an order
// with the same checkout key already exists.
var ErrDuplicateCheckout = &errors.Error{Kind: errors.KindConflict, Message: "duplicate checkout key"}

// ErrStatusConflict is returned by OrderRepository.UpdateStatus when the
// order is not in the expected status.
var ErrStatusConflict = &errors.Error{Kind: errors.KindConflict, Message: "order status changed"}

// ProductRepository stores the catalog and stock counts.
type ProductRepository interface {
	Get(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context) ([]*models.Product, error)
	Create(ctx context.Context, product *models.Product) error

	// Update writes only the fields set in patch, in one atomic step, and
	// returns the stored product. Stock is left alone unless patch sets it.
	Update(ctx context.Context, id string, patch *models.UpdateProductRequest) (*models.Product, error)
	Delete(ctx context.Context, id string) error

	// ConditionalDecrement subtracts qty from the stock in one atomic step,
	// only if stock >= qty. It returns a KindInsufficientStock or
	// KindProductNotFound error otherwise.
	ConditionalDecrement(ctx context.Context, id string, qty int) error

	// Increment adds qty back to the stock.
	Increment(ctx context.Context, id string, qty int) error
}

// CartRepository stores one cart per user.
type CartRepository interface {
	GetByUser(ctx context.Context, userID string) (*models.Cart, error)
	CreateEmpty(ctx context.Context, userID string) (*models.Cart, error)

	// ReplaceItems overwrites the cart lines if the stored version equals
	// expectedVersion and returns the cart at its new version.
	ReplaceItems(ctx context.Context, userID string, items []models.CartItem, expectedVersion int64) (*models.Cart, error)
}

// OrderRepository is an append-only order store.
type OrderRepository interface {
	// Insert assigns the order ID and persists it. CheckoutKey is unique.
	Insert(ctx context.Context, order *models.Order) (*models.Order, error)
	Get(ctx context.Context, id string) (*models.Order, error)
	GetByCheckoutKey(ctx context.Context, key string) (*models.Order, error)
	GetByPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Order, error)

	// UpdateStatus moves an order from one status to another, failing with
	// ErrStatusConflict if it is no longer in from.
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error)
}

// CallbackRepository records payment callbacks by idempotency key.
type CallbackRepository interface {
	// Claim records cb as processing if the key is new, or takes over a
	// processing record older than lease. The stored record is returned
	// together with whether the caller now owns it.
	Claim(ctx context.Context, cb *models.PaymentCallback, lease time.Duration) (*models.PaymentCallback, bool, error)

	// Finish moves a claimed callback to a terminal state.
	Finish(ctx context.Context, key string, state models.CallbackState, orderID, detail string) error

	Get(ctx context.Context, key string) (*models.PaymentCallback, error)
}

// OrderCache defines caching operations for orders.
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Delete(ctx context.Context, id string) error
	GetByUserID(ctx context.Context, userID string) ([]*models.Order, error)
	SetByUserID(ctx context.Context, userID string, orders []*models.Order) error
	InvalidateByUserID(ctx context.Context, userID string) error
}

// Stores bundles the repositories of one backend.
type Stores struct {
	Products  ProductRepository
	Carts     CartRepository
	Orders    OrderRepository
	Callbacks CallbackRepository
	closer    func(context.Context) error
}

// Close releases the backend connection.
func (s *Stores) Close(ctx context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer(ctx)
}

func notFound(what, id string) error {
	return &errors.Error{Kind: errors.KindNotFound, Message: what + " not found: " + id}
}

func now() time.Time {
	return time.Now().UTC()
}

package service

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/lock"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

const (
	maxCartWriteAttempts = 3
	compensationTimeout  = 5 * time.Second
)

// CheckoutKey identifies the checkout of one cart version. Orders are unique
// per key.
func CheckoutKey(userID string, cartVersion int64) string {
	return "checkout:" + userID + ":v" + strconv.FormatInt(cartVersion, 10)
}

func userLockKey(userID string) string {
	return "cart:" + userID
}

// CheckoutOption customises a single checkout.
type CheckoutOption func(*checkoutOptions)

type checkoutOptions struct {
	paymentRef      string
	expectedVersion *int64
}

// WithPaymentRef records the provider session that paid for the order.
func WithPaymentRef(ref string) CheckoutOption {
	return func(o *checkoutOptions) {
		o.paymentRef = ref
	}
}

// WithCartVersion makes the checkout fail with ErrCartChanged unless the cart
// is still at version. Nothing is reserved in that case.
func WithCartVersion(version int64) CheckoutOption {
	return func(o *checkoutOptions) {
		o.expectedVersion = &version
	}
}

// ErrCartChanged is returned when a checkout pinned to a cart version finds
// the cart was written since.
var ErrCartChanged = &errors.Error{Kind: errors.KindConflict, Message: "cart changed since checkout session was created"}

// CheckoutService turns carts into orders.
type CheckoutService struct {
	products repository.ProductRepository
	carts    repository.CartRepository
	orders   repository.OrderRepository
	locker   lock.Locker
	payments clients.PaymentProvider
	cache    repository.OrderCache
	events   OrderEventPublisher
	metrics  *metrics.Metrics
	config   *config.Config
	logger   *logging.LoggerV2
}

// NewCheckoutService creates a new checkout service. cache and events may be
// nil when the matching feature is disabled.
func NewCheckoutService(
	stores *repository.Stores,
	locker lock.Locker,
	payments clients.PaymentProvider,
	cache repository.OrderCache,
	events OrderEventPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
) *CheckoutService {
	return &CheckoutService{
		products: stores.Products,
		carts:    stores.Carts,
		orders:   stores.Orders,
		locker:   locker,
		payments: payments,
		cache:    cache,
		events:   events,
		metrics:  m,
		config:   cfg,
		logger:   logging.NewLoggerV2("checkout-service"),
	}
}

// CreateOrderFromCart converts the user's cart into a pending order. Stock is
// reserved line by line and released again if any line cannot be reserved.
// A repeated checkout of the same cart version returns the existing order.
func (s *CheckoutService) CreateOrderFromCart(ctx context.Context, userID string, opts ...CheckoutOption) (*models.Order, error) {
	var o checkoutOptions
	for _, opt := range opts {
		opt(&o)
	}

	release, err := s.locker.Acquire(ctx, userLockKey(userID))
	if err != nil {
		s.metrics.ObserveCheckout(resultLabel(err))
		return nil, err
	}
	defer release()

	order, err := s.checkout(ctx, userID, o)
	s.metrics.ObserveCheckout(resultLabel(err))
	return order, err
}

func (s *CheckoutService) checkout(ctx context.Context, userID string, o checkoutOptions) (*models.Order, error) {
	log := s.logger.WithContext(ctx).With(logging.Fields{"user_id": userID})

	// The lock is held from here. One deadline covers the whole section and
	// stays inside the lock lease.
	deadline := time.Now().Add(s.config.Checkout.CheckoutTimeout())
	ctx, cancelPre := context.WithDeadline(ctx, deadline)
	defer cancelPre()

	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, errors.KindNotFound) {
		return nil, errors.ErrCartEmpty
	}
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, errors.ErrCartEmpty
	}
	if o.expectedVersion != nil && cart.Version != *o.expectedVersion {
		log.Error("Cart changed since checkout session was created", logging.Fields{
			"session_version": *o.expectedVersion,
			"cart_version":    cart.Version,
			"alert":           true,
		})
		return nil, ErrCartChanged
	}

	key := CheckoutKey(userID, cart.Version)
	existing, err := s.orders.GetByCheckoutKey(ctx, key)
	if err == nil {
		log.Warn("Order already exists for cart version, repairing cart", logging.Fields{
			"order_id": existing.ID,
			"version":  cart.Version,
		})
		s.clearCart(ctx, userID, existing.Items)
		return existing, nil
	}
	if !errors.Is(err, errors.KindNotFound) {
		return nil, err
	}

	lines := make([]models.OrderItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		product, err := s.products.Get(ctx, item.ProductID)
		if errors.Is(err, errors.KindNotFound) {
			return nil, errors.ProductNotFound(item.ProductID)
		}
		if err != nil {
			return nil, err
		}
		if product.Stock < item.Quantity {
			return nil, errors.InsufficientStock(item.ProductID)
		}
		lines = append(lines, SnapshotLine(product, item.Quantity))
	}

	// Preconditions hold; from here the checkout runs to completion even if
	// the caller goes away, but never past the deadline.
	ctx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	defer cancel()

	reserved := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		if err := s.products.ConditionalDecrement(ctx, line.ProductID, line.Quantity); err != nil {
			log.Info("Stock reservation failed", logging.Fields{
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
				"error":      err.Error(),
			})
			s.compensate(ctx, reserved)
			return nil, err
		}
		reserved = append(reserved, line)
	}

	order := &models.Order{
		UserID:      userID,
		Items:       lines,
		Currency:    s.config.PaymentService.Currency,
		Status:      models.OrderStatusPending,
		CheckoutKey: key,
		PaymentRef:  o.paymentRef,
	}
	order.CalculateTotal()

	created, err := s.orders.Insert(ctx, order)
	if stderrors.Is(err, repository.ErrDuplicateCheckout) {
		s.compensate(ctx, reserved)
		created, err = s.orders.GetByCheckoutKey(ctx, key)
		if err != nil {
			return nil, err
		}
		log.Warn("Concurrent checkout of the same cart version", logging.Fields{"order_id": created.ID})
		s.clearCart(ctx, userID, created.Items)
		return created, nil
	}
	if err != nil {
		log.Error("Failed to insert order", logging.Fields{"error": err.Error()})
		s.compensate(ctx, reserved)
		return nil, err
	}

	s.clearCart(ctx, userID, created.Items)
	s.afterCreate(ctx, created)

	log.Info("Order created from cart", logging.Fields{
		"order_id": created.ID,
		"total":    created.TotalPrice.StringFixed(minorUnitShift),
		"items":    len(created.Items),
	})
	return created, nil
}

// compensate restores reserved stock in reverse order. It gets its own
// budget so an expired checkout deadline still releases the stock.
func (s *CheckoutService) compensate(ctx context.Context, reserved []models.OrderItem) {
	if len(reserved) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	result := "success"
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if err := s.products.Increment(ctx, line.ProductID, line.Quantity); err != nil {
			result = "failed"
			s.logger.WithContext(ctx).Error("Failed to restore reserved stock", logging.Fields{
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
				"error":      err.Error(),
				"critical":   true,
			})
		}
	}
	s.metrics.ObserveCompensation(result)
}

// clearCart removes the purchased lines from the cart, retrying on version
// conflicts. Failure is logged; the order already exists, and its checkout
// key keeps those lines out of later reads and checkouts until a clear
// succeeds.
func (s *CheckoutService) clearCart(ctx context.Context, userID string, purchased []models.OrderItem) {
	log := s.logger.WithContext(ctx).With(logging.Fields{"user_id": userID})

	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		cart, err := s.carts.GetByUser(ctx, userID)
		if err != nil {
			log.Error("Failed to read cart for clearing", logging.Fields{"error": err.Error()})
			return
		}

		_, err = s.carts.ReplaceItems(ctx, userID, subtractPurchased(cart.Items, purchased), cart.Version)
		if err == nil {
			return
		}
		if !stderrors.Is(err, repository.ErrVersionConflict) {
			log.Error("Failed to clear cart", logging.Fields{"error": err.Error()})
			return
		}
		log.Debug("Cart changed while clearing, retrying", logging.Fields{"attempt": attempt})
	}

	log.Error("Gave up clearing cart after repeated version conflicts", logging.Fields{
		"attempts": maxCartWriteAttempts,
	})
}

func (s *CheckoutService) afterCreate(ctx context.Context, order *models.Order) {
	if s.config.Features.EnableOrderCaching && s.cache != nil {
		if err := s.cache.Set(ctx, order); err != nil {
			s.logger.Error("Failed to cache order", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
		s.cache.InvalidateByUserID(ctx, order.UserID)
	}

	if s.config.Features.EnableOrderEvents && s.events != nil {
		if err := s.events.PublishOrderCreated(ctx, order); err != nil {
			s.logger.Error("Failed to publish order created event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
}

// CreateCheckoutSession starts a hosted checkout for the current cart and
// returns the page URL. Nothing is reserved until the provider calls back.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, userID, successURL, cancelURL string) (string, error) {
	if successURL == "" {
		successURL = s.config.PaymentService.SuccessURL
	}
	if cancelURL == "" {
		cancelURL = s.config.PaymentService.CancelURL
	}
	if err := ValidateRedirectURL("success_url", successURL); err != nil {
		return "", err
	}
	if err := ValidateRedirectURL("cancel_url", cancelURL); err != nil {
		return "", err
	}

	cart, err := s.carts.GetByUser(ctx, userID)
	if errors.Is(err, errors.KindNotFound) || (err == nil && cart.IsEmpty()) {
		return "", errors.ErrCartEmpty
	}
	if err != nil {
		return "", err
	}

	// An order for this version means its lines are already bought and
	// only the cart clear is outstanding.
	existing, err := s.orders.GetByCheckoutKey(ctx, CheckoutKey(userID, cart.Version))
	if err == nil {
		s.logger.WithContext(ctx).Warn("Order already exists for cart version, repairing cart", logging.Fields{
			"user_id":  userID,
			"order_id": existing.ID,
			"version":  cart.Version,
		})
		s.clearCart(ctx, userID, existing.Items)
		return "", errors.ErrCartEmpty
	}
	if !errors.Is(err, errors.KindNotFound) {
		return "", err
	}

	req := &models.CheckoutSessionRequest{
		Currency:   s.config.PaymentService.Currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			models.MetadataUserID:      userID,
			models.MetadataCartVersion: strconv.FormatInt(cart.Version, 10),
		},
	}
	for _, item := range cart.Items {
		product, err := s.products.Get(ctx, item.ProductID)
		if errors.Is(err, errors.KindNotFound) {
			return "", errors.ProductNotFound(item.ProductID)
		}
		if err != nil {
			return "", err
		}
		req.LineItems = append(req.LineItems, models.CheckoutLineItem{
			Name:       product.Name,
			UnitAmount: MinorUnits(product.Price),
			Quantity:   int64(item.Quantity),
		})
	}

	session, err := s.payments.CreateSession(ctx, req)
	if err != nil {
		s.logger.WithContext(ctx).Error("Checkout session creation failed", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
		})
		return "", errors.PaymentProvider(err)
	}

	s.logger.WithContext(ctx).Info("Checkout session created", logging.Fields{
		"user_id":    userID,
		"session_id": session.ID,
		"version":    cart.Version,
	})
	return session.URL, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return errors.KindOf(err).String()
}

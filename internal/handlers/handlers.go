// Package handlers exposes the storefront services over HTTP.
package handlers

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/service"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handlers holds all HTTP handlers for the storefront service.
type Handlers struct {
	productService  *service.ProductService
	cartService     *service.CartService
	orderService    *service.OrderService
	checkoutService *service.CheckoutService
	paymentService  *service.PaymentService
	gatherer        prometheus.Gatherer
	checks          map[string]ReadinessCheck
	config          *config.Config
	logger          *logging.LoggerV2
}

// Services bundles the service layer for NewHandlers.
type Services struct {
	Products *service.ProductService
	Carts    *service.CartService
	Orders   *service.OrderService
	Checkout *service.CheckoutService
	Payments *service.PaymentService
}

// NewHandlers creates a new handlers instance. checks are run by /ready.
func NewHandlers(
	services Services,
	gatherer prometheus.Gatherer,
	checks map[string]ReadinessCheck,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		productService:  services.Products,
		cartService:     services.Carts,
		orderService:    services.Orders,
		checkoutService: services.Checkout,
		paymentService:  services.Payments,
		gatherer:        gatherer,
		checks:          checks,
		config:          cfg,
		logger:          logging.NewLoggerV2("handlers"),
	}
}

// Package server wires the storefront handlers into a gin router.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
)

type Server struct {
	config     *config.Config
	router     *gin.Engine
	handlers   *handlers.Handlers
	verifier   middleware.TokenVerifier
	httpServer *http.Server
	logger     *logging.LoggerV2
}

func NewServer(cfg *config.Config, h *handlers.Handlers, verifier middleware.TokenVerifier, m *metrics.Metrics) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(), middleware.Metrics(m))

	s := &Server{
		config:   cfg,
		router:   router,
		handlers: h,
		verifier: verifier,
		logger:   logging.NewLoggerV2("server"),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.Health)
	s.router.GET("/ready", h.Ready)
	s.router.GET("/live", h.Live)
	s.router.GET("/version", h.Version)
	s.router.GET("/metrics", h.Metrics)

	v1 := s.router.Group("/api/v1")

	// Webhooks authenticate by signature, not bearer token.
	v1.POST("/webhooks/payment", h.PaymentWebhook)

	v1.GET("/products", h.ListProducts)
	v1.GET("/products/:id", h.GetProduct)

	auth := v1.Group("", middleware.Authenticate(s.verifier))
	{
		auth.GET("/cart", h.GetCart)
		auth.POST("/cart/items", h.AddCartItem)
		auth.DELETE("/cart/items/:product_id", h.RemoveCartItem)

		auth.POST("/orders", h.CreateOrder)
		auth.GET("/orders", h.ListOrders)
		auth.POST("/orders/checkout-session", h.CreateCheckoutSession)
		auth.GET("/orders/:id", h.GetOrder)
	}

	admin := auth.Group("/products", middleware.RequireAdmin())
	{
		admin.POST("", h.CreateProduct)
		admin.PUT("/:id", h.UpdateProduct)
		admin.DELETE("/:id", h.DeleteProduct)
	}
}

// Handler returns the router for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called. It returns nil on a clean shutdown.
func (s *Server) Run() error {
	s.logger.Info("Starting server", logging.Fields{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

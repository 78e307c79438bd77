package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// CreateOrder handles POST /api/v1/orders. The caller's cart becomes a
// pending order.
func (h *Handlers) CreateOrder(c *gin.Context) {
	user := middleware.CurrentUser(c)

	order, err := h.checkoutService.CreateOrderFromCart(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Info("Checkout rejected", logging.Fields{
			"user_id": user.ID,
			"code":    errors.KindOf(err).String(),
		})
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// ListOrders handles GET /api/v1/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	user := middleware.CurrentUser(c)

	orders, err := h.orderService.ListOrders(c.Request.Context(), user.ID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

// GetOrder handles GET /api/v1/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	user := middleware.CurrentUser(c)

	order, err := h.orderService.GetOrderForUser(c.Request.Context(), user, c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// CreateCheckoutSession handles POST /api/v1/orders/checkout-session. The
// body is optional; missing redirect URLs fall back to the configured ones.
func (h *Handlers) CreateCheckoutSession(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var req models.CreateCheckoutSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		badRequest(c, err)
		return
	}

	url, err := h.checkoutService.CreateCheckoutSession(c.Request.Context(), user.ID, req.SuccessURL, req.CancelURL)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

// GetCart handles GET /api/v1/cart
func (h *Handlers) GetCart(c *gin.Context) {
	user := middleware.CurrentUser(c)

	cart, err := h.cartService.GetCart(c.Request.Context(), user.ID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, cart)
}

// AddCartItem handles POST /api/v1/cart/items
func (h *Handlers) AddCartItem(c *gin.Context) {
	user := middleware.CurrentUser(c)

	var req models.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cart, err := h.cartService.AddItem(c.Request.Context(), user.ID, &req)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, cart)
}

// RemoveCartItem handles DELETE /api/v1/cart/items/:product_id
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	user := middleware.CurrentUser(c)

	cart, err := h.cartService.RemoveItem(c.Request.Context(), user.ID, c.Param("product_id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, cart)
}

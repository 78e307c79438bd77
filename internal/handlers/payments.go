package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
)

const maxWebhookBytes = 1 << 20

// PaymentWebhook handles POST /api/v1/webhooks/payment. Anything other than
// a bad signature or an uncorrelatable event is acknowledged with 200 so the
// provider stops redelivering.
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	signature := c.GetHeader(h.paymentService.SignatureHeader())

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		h.logger.Error("Failed to read webhook payload", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read request body",
			"code":  errors.KindMalformedCallback.String(),
		})
		return
	}

	if err := h.paymentService.ProcessWebhook(c.Request.Context(), payload, signature); err != nil {
		switch errors.KindOf(err) {
		case errors.KindMalformedCallback, errors.KindUnauthorized:
			handleError(c, err)
		default:
			h.logger.WithContext(c.Request.Context()).Error("Webhook processing failed", logging.Fields{"error": err.Error()})
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "webhook processing failed",
				"code":  errors.KindInternal.String(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

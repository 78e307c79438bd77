package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
)

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindCartEmpty, errors.KindValidation, errors.KindMalformedCallback:
		return http.StatusBadRequest
	case errors.KindProductNotFound, errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindInsufficientStock, errors.KindConflict:
		return http.StatusConflict
	case errors.KindPaymentProvider:
		return http.StatusBadGateway
	case errors.KindUnauthorized:
		return http.StatusUnauthorized
	case errors.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	kind := errors.KindOf(err)
	status := statusForKind(kind)

	body := gin.H{"code": kind.String()}
	var tagged *errors.Error
	if status == http.StatusInternalServerError {
		logging.NewLoggerV2("handlers").WithContext(c.Request.Context()).Error("Unhandled error", logging.Fields{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
		body["error"] = "internal server error"
	} else if errors.As(err, &tagged) {
		body["error"] = tagged.Message
		if tagged.Message == "" {
			body["error"] = kind.String()
		}
		if tagged.Field != "" {
			body["field"] = tagged.Field
		}
	} else {
		body["error"] = err.Error()
	}

	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": "invalid request body: " + err.Error(),
		"code":  errors.KindValidation.String(),
	})
}

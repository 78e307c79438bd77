package service

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const maxUserIDLength = 128

// ValidateCreateProductRequest validates a product creation request.
func ValidateCreateProductRequest(req *models.CreateProductRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return errors.NewValidationError("name", "name is required")
	}

	if req.Price.IsNegative() {
		return errors.NewValidationError("price", "price cannot be negative")
	}

	if !req.Price.Equal(req.Price.Round(minorUnitShift)) {
		return errors.NewValidationError("price", "price has more than 2 decimal places")
	}

	if req.Stock < 0 {
		return errors.NewValidationError("stock", "stock cannot be negative")
	}

	return nil
}

// ValidateUpdateProductRequest validates the fields present in a partial update.
func ValidateUpdateProductRequest(req *models.UpdateProductRequest) error {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return errors.NewValidationError("name", "name cannot be empty")
	}

	if req.Price != nil {
		if req.Price.IsNegative() {
			return errors.NewValidationError("price", "price cannot be negative")
		}
		if !req.Price.Equal(req.Price.Round(minorUnitShift)) {
			return errors.NewValidationError("price", "price has more than 2 decimal places")
		}
	}

	if req.Stock != nil && *req.Stock < 0 {
		return errors.NewValidationError("stock", "stock cannot be negative")
	}

	return nil
}

// ValidateAddCartItemRequest validates a cart line addition.
func ValidateAddCartItemRequest(req *models.AddCartItemRequest) error {
	if req.ProductID == "" {
		return errors.NewValidationError("product_id", "product ID is required")
	}

	if req.Quantity <= 0 {
		return errors.NewValidationError("quantity", "quantity must be positive")
	}

	return nil
}

// ValidateRedirectURL checks a checkout success or cancel URL.
func ValidateRedirectURL(field, raw string) error {
	if raw == "" {
		return errors.NewValidationError(field, "URL is required")
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errors.NewValidationError(field, "URL is invalid")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.NewValidationError(field, "URL must use http or https")
	}

	return nil
}

// validCallbackUserID reports whether a user ID taken from callback metadata
// is usable as a cart owner.
func validCallbackUserID(id string) bool {
	if id == "" || len(id) > maxUserIDLength {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

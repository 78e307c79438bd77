// Package errors defines the tagged error kinds shared by the storefront
// service layers. Callers switch on Kind instead of comparing strings.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind int

const (
	KindInternal Kind = iota
	KindCartEmpty
	KindProductNotFound
	KindInsufficientStock
	KindPaymentProvider
	KindMalformedCallback
	KindConflict
	KindNotFound
	KindValidation
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindCartEmpty:
		return "cart_empty"
	case KindProductNotFound:
		return "product_not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindPaymentProvider:
		return "payment_provider_error"
	case KindMalformedCallback:
		return "malformed_callback"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation_error"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal_error"
	}
}

// Error is a classified error. Field is set for validation errors.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrCartEmpty         = &Error{Kind: KindCartEmpty, Message: "cart is empty"}
	ErrProductNotFound   = &Error{Kind: KindProductNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
	ErrForbidden         = &Error{Kind: KindForbidden}
)

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewValidationError creates a validation error for a request field.
func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// ProductNotFound reports a missing product by ID.
func ProductNotFound(productID string) *Error {
	return &Error{Kind: KindProductNotFound, Message: "product not found: " + productID}
}

// InsufficientStock reports a product whose stock cannot cover the requested quantity.
func InsufficientStock(productID string) *Error {
	return &Error{Kind: KindInsufficientStock, Message: "insufficient stock for product: " + productID}
}

// PaymentProvider wraps a transport or provider failure.
func PaymentProvider(err error) *Error {
	return &Error{Kind: KindPaymentProvider, Message: "payment provider error", Err: err}
}

// MalformedCallback reports a callback that cannot be correlated to a purchase.
func MalformedCallback(reason string) *Error {
	return &Error{Kind: KindMalformedCallback, Message: reason}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As is errors.As from the standard library.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

package models

import "time"

// Provider event types the storefront acts on.
const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

// Session payment states reported with a completed checkout session.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Session metadata keys written at session creation and read back on callback.
const (
	MetadataUserID      = "user_id"
	MetadataCartVersion = "cart_version"
)

// PaymentEvent is a verified callback from the payment provider.
type PaymentEvent struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	SessionID     string            `json:"session_id"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// CallbackState is the processing state of a payment callback.
type CallbackState string

const (
	CallbackStateProcessing CallbackState = "processing"
	CallbackStateCompleted  CallbackState = "completed"
	CallbackStateFailed     CallbackState = "failed"
)

// Done reports whether the callback reached a terminal state.
func (s CallbackState) Done() bool {
	return s == CallbackStateCompleted || s == CallbackStateFailed
}

// PaymentCallback records a callback keyed by its idempotency key.
type PaymentCallback struct {
	Key       string        `json:"key"`
	EventID   string        `json:"event_id"`
	EventType string        `json:"event_type"`
	UserID    string        `json:"user_id"`
	State     CallbackState `json:"state"`
	OrderID   string        `json:"order_id,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CheckoutLineItem is a hosted-checkout line with the price in minor units.
type CheckoutLineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int64  `json:"quantity"`
}

// CheckoutSessionRequest asks the provider for a hosted checkout page.
type CheckoutSessionRequest struct {
	LineItems  []CheckoutLineItem `json:"line_items"`
	Currency   string             `json:"currency"`
	SuccessURL string             `json:"success_url"`
	CancelURL  string             `json:"cancel_url"`
	Metadata   map[string]string  `json:"metadata"`
}

// CheckoutSession is the provider's handle for a hosted checkout page.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateCheckoutSessionRequest is the client payload for starting a hosted checkout.
type CreateCheckoutSessionRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

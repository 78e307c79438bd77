package service

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/repository"
)

const defaultCallbackLease = 5 * time.Minute

// IdempotencyKey derives the callback record key from the provider event ID.
func IdempotencyKey(eventID string) string {
	return "payment:" + eventID
}

// PaymentService applies payment provider callbacks exactly once per event.
type PaymentService struct {
	provider  clients.PaymentProvider
	checkout  *CheckoutService
	orders    *OrderService
	callbacks repository.CallbackRepository
	metrics   *metrics.Metrics
	config    *config.Config
	logger    *logging.LoggerV2
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	provider clients.PaymentProvider,
	checkout *CheckoutService,
	orders *OrderService,
	stores *repository.Stores,
	m *metrics.Metrics,
	cfg *config.Config,
) *PaymentService {
	return &PaymentService{
		provider:  provider,
		checkout:  checkout,
		orders:    orders,
		callbacks: stores.Callbacks,
		metrics:   m,
		config:    cfg,
		logger:    logging.NewLoggerV2("payment-service"),
	}
}

// SignatureHeader names the request header carrying the webhook signature.
func (s *PaymentService) SignatureHeader() string {
	return s.provider.SignatureHeader()
}

// ProcessWebhook verifies and applies a raw provider webhook.
func (s *PaymentService) ProcessWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		log := s.logger.WithContext(ctx)
		if errors.KindOf(err) == errors.KindMalformedCallback {
			log.Error("Malformed payment webhook", logging.Fields{"error": err.Error(), "alert": true})
		} else {
			log.Warn("Rejected payment webhook", logging.Fields{"error": err.Error()})
		}
		s.metrics.ObserveCallback("unknown", "rejected")
		return err
	}

	return s.HandleEvent(ctx, event)
}

func handledEventType(eventType string) bool {
	switch eventType {
	case models.EventCheckoutSessionCompleted,
		models.EventCheckoutAsyncPaymentSucceeded,
		models.EventCheckoutAsyncPaymentFailed:
		return true
	}
	return false
}

// HandleEvent applies a verified event. Duplicates and events another worker
// is still processing are acknowledged without effect. Processing failures
// are recorded and acknowledged; only malformed events and storage errors
// are returned.
func (s *PaymentService) HandleEvent(ctx context.Context, event *models.PaymentEvent) error {
	log := s.logger.WithContext(ctx).With(logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if !handledEventType(event.Type) {
		log.Debug("Ignoring payment event")
		s.metrics.ObserveCallback(event.Type, "ignored")
		return nil
	}

	userID := event.Metadata[models.MetadataUserID]
	if err := s.validateEvent(event, userID); err != nil {
		log.Error("Malformed payment callback", logging.Fields{
			"error":      err.Error(),
			"session_id": event.SessionID,
			"alert":      true,
		})
		s.metrics.ObserveCallback(event.Type, "malformed")
		return err
	}

	lease := s.config.Checkout.CallbackLease
	if lease <= 0 {
		lease = defaultCallbackLease
	}

	cb := &models.PaymentCallback{
		Key:       IdempotencyKey(event.ID),
		EventID:   event.ID,
		EventType: event.Type,
		UserID:    userID,
	}
	record, claimed, err := s.callbacks.Claim(ctx, cb, lease)
	if err != nil {
		log.Error("Failed to claim payment callback", logging.Fields{"error": err.Error()})
		return err
	}
	if !claimed {
		log.Info("Payment callback already handled", logging.Fields{"state": record.State})
		s.metrics.ObserveCallback(event.Type, "duplicate")
		return nil
	}

	order, err := s.apply(ctx, event, userID)
	if err != nil {
		// A paid session without an order needs a refund or manual fulfilment.
		chargedWithoutOrder := errors.Is(err, errors.KindCartEmpty) || stderrors.Is(err, ErrCartChanged)
		log.Error("Payment callback processing failed", logging.Fields{
			"user_id": userID,
			"error":   err.Error(),
			"alert":   chargedWithoutOrder,
		})
		if finishErr := s.callbacks.Finish(ctx, cb.Key, models.CallbackStateFailed, "", err.Error()); finishErr != nil {
			log.Error("Failed to record callback failure", logging.Fields{"error": finishErr.Error()})
		}
		s.metrics.ObserveCallback(event.Type, "failed")
		return nil
	}

	if err := s.callbacks.Finish(ctx, cb.Key, models.CallbackStateCompleted, order.ID, ""); err != nil {
		log.Error("Failed to record callback completion", logging.Fields{
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}
	s.metrics.ObserveCallback(event.Type, "completed")

	log.Info("Payment callback processed", logging.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	})
	return nil
}

func (s *PaymentService) validateEvent(event *models.PaymentEvent, userID string) error {
	if event.ID == "" {
		return errors.MalformedCallback("event has no id")
	}
	if !validCallbackUserID(userID) {
		return errors.MalformedCallback("metadata.user_id is missing or malformed")
	}
	if event.SessionID == "" {
		return errors.MalformedCallback("event has no checkout session")
	}
	if event.Type != models.EventCheckoutAsyncPaymentFailed {
		if _, err := sessionCartVersion(event); err != nil {
			return err
		}
	}
	return nil
}

func (s *PaymentService) apply(ctx context.Context, event *models.PaymentEvent, userID string) (*models.Order, error) {
	switch event.Type {
	case models.EventCheckoutSessionCompleted:
		order, err := s.orderForSession(ctx, event, userID)
		if err != nil {
			return nil, err
		}
		switch event.PaymentStatus {
		case models.PaymentStatusPaid, models.PaymentStatusNoPaymentRequired:
			return s.orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid)
		default:
			// Delayed payment methods settle through an async event.
			return order, nil
		}

	case models.EventCheckoutAsyncPaymentSucceeded:
		order, err := s.orderForSession(ctx, event, userID)
		if err != nil {
			return nil, err
		}
		return s.orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPaid)

	case models.EventCheckoutAsyncPaymentFailed:
		order, err := s.sessionOrder(ctx, event.SessionID, userID)
		if err != nil {
			return nil, err
		}
		return s.orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusFailed)
	}

	return nil, errors.New(errors.KindInternal, "unhandled event type %s", event.Type)
}

// orderForSession returns the order already created for the session, or
// checks out the user's cart to create it.
func (s *PaymentService) orderForSession(ctx context.Context, event *models.PaymentEvent, userID string) (*models.Order, error) {
	order, err := s.sessionOrder(ctx, event.SessionID, userID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, errors.KindNotFound) {
		return nil, err
	}

	// The provider charged for the cart as it was at session creation, so
	// only that exact cart version may become the order.
	version, err := sessionCartVersion(event)
	if err != nil {
		return nil, err
	}
	return s.checkout.CreateOrderFromCart(ctx, userID, WithPaymentRef(event.SessionID), WithCartVersion(version))
}

func sessionCartVersion(event *models.PaymentEvent) (int64, error) {
	version, err := strconv.ParseInt(event.Metadata[models.MetadataCartVersion], 10, 64)
	if err != nil || version < 0 {
		return 0, errors.MalformedCallback("metadata.cart_version is missing or malformed")
	}
	return version, nil
}

func (s *PaymentService) sessionOrder(ctx context.Context, sessionID, userID string) (*models.Order, error) {
	order, err := s.orders.FindByPaymentRef(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, errors.New(errors.KindConflict, "session %s belongs to another user", sessionID)
	}
	return order, nil
}

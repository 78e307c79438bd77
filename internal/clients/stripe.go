package clients

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const HeaderStripeSignature = "Stripe-Signature"

var _ PaymentProvider = (*StripeProvider)(nil)

// StripeProvider creates Stripe Checkout sessions and verifies Stripe webhooks.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	logger        *logging.LoggerV2
}

// NewStripeProvider creates a provider. backends may be nil to use the
// Stripe API endpoints.
func NewStripeProvider(cfg config.PaymentConfig, backends *stripe.Backends, logger *logging.LoggerV2) *StripeProvider {
	return &StripeProvider{
		api:           client.New(cfg.APIKey, backends),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

func (p *StripeProvider) CreateSession(ctx context.Context, req *models.CheckoutSessionRequest) (*models.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx

	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		p.logger.Error("Stripe checkout session failed", logging.Fields{"error": err.Error()})
		return nil, err
	}

	p.logger.Info("Stripe checkout session created", logging.Fields{"session_id": session.ID})
	return &models.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, errors.Wrap(errors.KindUnauthorized, err, "invalid webhook signature")
		}
		return nil, errors.MalformedCallback("webhook body could not be decoded")
	}

	out := &models.PaymentEvent{ID: event.ID, Type: string(event.Type)}

	switch out.Type {
	case models.EventCheckoutSessionCompleted,
		models.EventCheckoutAsyncPaymentSucceeded,
		models.EventCheckoutAsyncPaymentFailed:
		if event.Data == nil {
			return nil, errors.MalformedCallback("event has no data object")
		}
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, errors.MalformedCallback("event data is not a checkout session")
		}
		out.SessionID = session.ID
		out.PaymentStatus = string(session.PaymentStatus)
		out.Metadata = session.Metadata
	}

	return out, nil
}

func (p *StripeProvider) SignatureHeader() string {
	return HeaderStripeSignature
}

func isSignatureError(err error) bool {
	return stderrors.Is(err, webhook.ErrNotSigned) ||
		stderrors.Is(err, webhook.ErrNoValidSignature) ||
		stderrors.Is(err, webhook.ErrInvalidHeader) ||
		stderrors.Is(err, webhook.ErrTooOld)
}

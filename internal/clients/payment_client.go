package clients

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const (
	HeaderRequestID        = "X-Request-ID"
	HeaderPaymentSignature = "X-Payment-Signature"
)

// PaymentProvider creates hosted checkout sessions and verifies the
// callbacks the provider sends back.
type PaymentProvider interface {
	CreateSession(ctx context.Context, req *models.CheckoutSessionRequest) (*models.CheckoutSession, error)

	// ParseWebhook verifies the signature and decodes the event. A bad
	// signature yields a KindUnauthorized error, an undecodable body a
	// KindMalformedCallback error.
	ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error)

	// SignatureHeader names the HTTP header carrying the webhook signature.
	SignatureHeader() string
}

// Ensure HTTPPaymentClient implements PaymentProvider
var _ PaymentProvider = (*HTTPPaymentClient)(nil)

// HTTPPaymentClient talks to a hosted-checkout gateway over HTTP. Webhooks
// are signed with a hex HMAC-SHA256 of the body.
type HTTPPaymentClient struct {
	baseURL       string
	httpClient    *http.Client
	apiKey        string
	webhookSecret string
	logger        *logging.LoggerV2
}

// NewHTTPPaymentClient creates a new HTTP-based payment client.
func NewHTTPPaymentClient(cfg config.PaymentConfig, logger *logging.LoggerV2) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// CreateSession requests a hosted checkout page for the given line items.
func (c *HTTPPaymentClient) CreateSession(ctx context.Context, req *models.CheckoutSessionRequest) (*models.CheckoutSession, error) {
	c.logger.Debug("Creating checkout session", logging.Fields{
		"line_items": len(req.LineItems),
		"currency":   req.Currency,
	})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v2/checkout/sessions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("Checkout session request failed", logging.Fields{"error": err.Error()})
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("Checkout session request returned error", logging.Fields{
			"status_code": resp.StatusCode,
		})
		return nil, fmt.Errorf("payment service returned status %d", resp.StatusCode)
	}

	var session models.CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, err
	}
	if session.URL == "" {
		return nil, fmt.Errorf("payment service returned session %q without url", session.ID)
	}

	c.logger.Info("Checkout session created", logging.Fields{"session_id": session.ID})
	return &session, nil
}

type gatewayEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID     string            `json:"session_id"`
		PaymentStatus string            `json:"payment_status"`
		Metadata      map[string]string `json:"metadata"`
	} `json:"data"`
}

// ParseWebhook validates the HMAC signature and decodes the gateway event.
func (c *HTTPPaymentClient) ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error) {
	if !c.validSignature(payload, signature) {
		return nil, errors.Wrap(errors.KindUnauthorized, nil, "invalid webhook signature")
	}

	var ev gatewayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.MalformedCallback("webhook body is not valid JSON")
	}

	return &models.PaymentEvent{
		ID:            ev.ID,
		Type:          ev.Type,
		SessionID:     ev.Data.SessionID,
		PaymentStatus: ev.Data.PaymentStatus,
		Metadata:      ev.Data.Metadata,
	}, nil
}

func (c *HTTPPaymentClient) SignatureHeader() string {
	return HeaderPaymentSignature
}

func (c *HTTPPaymentClient) validSignature(payload []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, signPayload(c.webhookSecret, payload))
}

func signPayload(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignGatewayPayload returns the signature header value the gateway would send.
func SignGatewayPayload(secret string, payload []byte) string {
	return "sha256=" + hex.EncodeToString(signPayload(secret, payload))
}

func (c *HTTPPaymentClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	if requestID := logging.RequestID(ctx); requestID != "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
}

// MockPaymentProvider is a mock implementation for testing.
type MockPaymentProvider struct {
	mu        sync.Mutex
	Sessions  []*models.CheckoutSessionRequest
	Err       error
	Events    map[string]*models.PaymentEvent
	nextIndex int
}

// NewMockPaymentProvider creates a mock provider. Webhook signatures are the
// keys of Events.
func NewMockPaymentProvider() *MockPaymentProvider {
	return &MockPaymentProvider{Events: make(map[string]*models.PaymentEvent)}
}

func (m *MockPaymentProvider) CreateSession(ctx context.Context, req *models.CheckoutSessionRequest) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	m.Sessions = append(m.Sessions, req)
	m.nextIndex++
	id := fmt.Sprintf("cs_mock_%d", m.nextIndex)
	return &models.CheckoutSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (m *MockPaymentProvider) ParseWebhook(payload []byte, signature string) (*models.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.Events[signature]
	if !ok {
		return nil, errors.Wrap(errors.KindUnauthorized, nil, "invalid webhook signature")
	}
	return ev, nil
}

func (m *MockPaymentProvider) SignatureHeader() string {
	return HeaderPaymentSignature
}

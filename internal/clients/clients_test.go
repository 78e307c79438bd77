package clients

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const testSecret = "whsec_test"

func paymentConfig(baseURL string) config.PaymentConfig {
	return config.PaymentConfig{
		ServiceConfig: config.ServiceConfig{BaseURL: baseURL, Timeout: 2 * time.Second, APIKey: "sk_test"},
		WebhookSecret: testSecret,
		Currency:      "usd",
	}
}

func TestHTTPPaymentClient_CreateSession(t *testing.T) {
	var got models.CheckoutSessionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "req-1", r.Header.Get(HeaderRequestID))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"cs_1","url":"https://pay.example.com/cs_1"}`)
	}))
	defer srv.Close()

	c := NewHTTPPaymentClient(paymentConfig(srv.URL), logging.NewLoggerV2("test"))
	ctx := logging.WithRequestID(context.Background(), "req-1")

	session, err := c.CreateSession(ctx, &models.CheckoutSessionRequest{
		LineItems: []models.CheckoutLineItem{{Name: "Mug", UnitAmount: 1050, Quantity: 2}},
		Currency:  "usd",
		Metadata:  map[string]string{models.MetadataUserID: "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://pay.example.com/cs_1", session.URL)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, int64(1050), got.LineItems[0].UnitAmount)
	assert.Equal(t, "u1", got.Metadata[models.MetadataUserID])
}

func TestHTTPPaymentClient_CreateSessionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPPaymentClient(paymentConfig(srv.URL), logging.NewLoggerV2("test"))
	_, err := c.CreateSession(context.Background(), &models.CheckoutSessionRequest{})
	assert.Error(t, err)
}

func TestHTTPPaymentClient_ParseWebhook(t *testing.T) {
	c := NewHTTPPaymentClient(paymentConfig("http://unused"), logging.NewLoggerV2("test"))
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"session_id":"cs_1","payment_status":"paid","metadata":{"user_id":"u1"}}}`)

	ev, err := c.ParseWebhook(payload, SignGatewayPayload(testSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, models.EventCheckoutSessionCompleted, ev.Type)
	assert.Equal(t, "cs_1", ev.SessionID)
	assert.Equal(t, models.PaymentStatusPaid, ev.PaymentStatus)
	assert.Equal(t, "u1", ev.Metadata[models.MetadataUserID])

	_, err = c.ParseWebhook(payload, SignGatewayPayload("other", payload))
	assert.Equal(t, errors.KindUnauthorized, errors.KindOf(err))

	_, err = c.ParseWebhook(payload, "")
	assert.Equal(t, errors.KindUnauthorized, errors.KindOf(err))

	bad := []byte(`{not json`)
	_, err = c.ParseWebhook(bad, SignGatewayPayload(testSecret, bad))
	assert.Equal(t, errors.KindMalformedCallback, errors.KindOf(err))
}

func stripeSignature(payload []byte, secret string, ts time.Time) string {
	stamp := fmt.Sprintf("%d", ts.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stamp + "." + string(payload)))
	return fmt.Sprintf("t=%s,v1=%s", stamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeProvider_ParseWebhook(t *testing.T) {
	p := NewStripeProvider(paymentConfig(""), nil, logging.NewLoggerV2("test"))
	payload := []byte(`{
		"id": "evt_123",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"metadata": {"user_id": "u1", "cart_version": "3"}
		}}
	}`)

	ev, err := p.ParseWebhook(payload, stripeSignature(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_123", ev.ID)
	assert.Equal(t, models.EventCheckoutSessionCompleted, ev.Type)
	assert.Equal(t, "cs_test_1", ev.SessionID)
	assert.Equal(t, models.PaymentStatusPaid, ev.PaymentStatus)
	assert.Equal(t, "3", ev.Metadata[models.MetadataCartVersion])
	assert.Equal(t, HeaderStripeSignature, p.SignatureHeader())
}

func TestStripeProvider_ParseWebhookRejectsBadSignature(t *testing.T) {
	p := NewStripeProvider(paymentConfig(""), nil, logging.NewLoggerV2("test"))
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed"}`)

	_, err := p.ParseWebhook(payload, stripeSignature(payload, "wrong", time.Now()))
	assert.Equal(t, errors.KindUnauthorized, errors.KindOf(err))

	_, err = p.ParseWebhook(payload, stripeSignature(payload, testSecret, time.Now().Add(-time.Hour)))
	assert.Equal(t, errors.KindUnauthorized, errors.KindOf(err))

	_, err = p.ParseWebhook(payload, "")
	assert.Equal(t, errors.KindUnauthorized, errors.KindOf(err))
}

func TestStripeProvider_ParseWebhookIgnoresOtherTypes(t *testing.T) {
	p := NewStripeProvider(paymentConfig(""), nil, logging.NewLoggerV2("test"))
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)

	ev, err := p.ParseWebhook(payload, stripeSignature(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Empty(t, ev.SessionID)
}

func TestStripeProvider_CreateSession(t *testing.T) {
	var form map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_9","object":"checkout.session","url":"https://checkout.stripe.com/c/cs_test_9"}`)
	}))
	defer srv.Close()

	retries := int64(0)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: &retries,
	})
	p := NewStripeProvider(paymentConfig(""), &stripe.Backends{API: backend, Connect: backend, Uploads: backend}, logging.NewLoggerV2("test"))

	session, err := p.CreateSession(context.Background(), &models.CheckoutSessionRequest{
		LineItems:  []models.CheckoutLineItem{{Name: "Mug", UnitAmount: 1050, Quantity: 2}},
		Currency:   "usd",
		SuccessURL: "https://shop.example.com/ok",
		CancelURL:  "https://shop.example.com/cancel",
		Metadata:   map[string]string{models.MetadataUserID: "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_9", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_9", session.URL)
	assert.Equal(t, []string{"1050"}, form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, []string{"u1"}, form["metadata[user_id]"])
	assert.Equal(t, []string{"payment"}, form["mode"])
}

func TestHTTPUserClient_VerifyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/users/me", r.URL.Path)
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			fmt.Fprint(w, `{"id":"u1","email":"a@example.com","is_admin":true}`)
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	c := NewHTTPUserClient(config.ServiceConfig{BaseURL: srv.URL, Timeout: time.Second}, logging.NewLoggerV2("test"))

	user, err := c.VerifyToken(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, user.IsAdmin)

	_, err = c.VerifyToken(context.Background(), "bad")
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	_, err = c.VerifyToken(context.Background(), "broken")
	require.Error(t, err)
	assert.Equal(t, errors.KindInternal, errors.KindOf(err))
}

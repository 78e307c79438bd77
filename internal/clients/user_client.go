package clients

import (
	"context"
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

// UserClient resolves bearer tokens to users through the identity service.
type UserClient interface {
	VerifyToken(ctx context.Context, token string) (*models.User, error)
}

// HTTPUserClient implements UserClient using HTTP.
type HTTPUserClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *logging.LoggerV2
}

// NewHTTPUserClient creates a new HTTP-based user client.
func NewHTTPUserClient(cfg config.ServiceConfig, logger *logging.LoggerV2) *HTTPUserClient {
	return &HTTPUserClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logger,
	}
}

// VerifyToken asks the identity service who owns token. A rejected token
// yields errors.ErrUnauthorized.
func (c *HTTPUserClient) VerifyToken(ctx context.Context, token string) (*models.User, error) {
	url := fmt.Sprintf("%s/api/v1/users/me", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	c.setHeaders(ctx, req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to verify token", logging.Fields{"error": err.Error()})
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, errors.ErrUnauthorized
	default:
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var user models.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.ErrUnauthorized
	}

	c.logger.Debug("Token verified", logging.Fields{
		"user_id":  user.ID,
		"is_admin": user.IsAdmin,
	})

	return &user, nil
}

func (c *HTTPUserClient) setHeaders(ctx context.Context, req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	if requestID := logging.RequestID(ctx); requestID != "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
}

// MockUserClient is a mock implementation for testing.
type MockUserClient struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewMockUserClient creates a mock user client.
func NewMockUserClient() *MockUserClient {
	return &MockUserClient{
		users: make(map[string]*models.User),
	}
}

func (m *MockUserClient) VerifyToken(ctx context.Context, token string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if user, ok := m.users[token]; ok {
		return user, nil
	}
	return nil, errors.ErrUnauthorized
}

// AddUser registers user under token.
func (m *MockUserClient) AddUser(token string, user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[token] = user
}

// Package middleware holds the gin middleware shared by the storefront routes.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

const (
	HeaderRequestID = "X-Request-ID"

	userKey   = "user"
	userIDKey = "user_id"
)

// TokenVerifier resolves a bearer token to the calling user.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*models.User, error)
}

// RequestID propagates or assigns X-Request-ID and stores it in the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}

		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// Logger writes one structured line per request.
func Logger() gin.HandlerFunc {
	logger := logging.NewLoggerV2("http")

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logging.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		log := logger.WithContext(c.Request.Context())
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Error("Request failed", fields)
			return
		}
		log.Info("Request handled", fields)
	}
}

// Metrics records request counts and latency per route.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Authenticate requires a bearer token accepted by verifier.
func Authenticate(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abort(c, http.StatusUnauthorized, errors.KindUnauthorized, "missing bearer token")
			return
		}

		user, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			if errors.KindOf(err) == errors.KindUnauthorized {
				abort(c, http.StatusUnauthorized, errors.KindUnauthorized, "invalid credentials")
				return
			}
			logging.NewLoggerV2("http").WithContext(c.Request.Context()).Error("Token verification failed", logging.Fields{
				"error": err.Error(),
			})
			abort(c, http.StatusServiceUnavailable, errors.KindInternal, "identity service unavailable")
			return
		}

		c.Set(userKey, user)
		c.Set(userIDKey, user.ID)
		c.Next()
	}
}

// RequireAdmin rejects authenticated callers without the admin flag.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			abort(c, http.StatusUnauthorized, errors.KindUnauthorized, "authentication required")
			return
		}
		if !user.IsAdmin {
			abort(c, http.StatusForbidden, errors.KindForbidden, "admin access required")
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user set by Authenticate, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// SetUser stores user on the context as Authenticate would.
func SetUser(c *gin.Context, user *models.User) {
	c.Set(userKey, user)
	c.Set(userIDKey, user.ID)
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func abort(c *gin.Context, status int, kind errors.Kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": message,
		"code":  kind.String(),
	})
}

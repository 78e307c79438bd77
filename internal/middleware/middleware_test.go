package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-storefront-service/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(verifier TokenVerifier) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())

	r.GET("/whoami", Authenticate(verifier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":         CurrentUser(c).ID,
			"request_id": logging.RequestID(c.Request.Context()),
		})
	})
	r.GET("/admin", Authenticate(verifier), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	users := clients.NewMockUserClient()
	users.AddUser("tok-user", &models.User{ID: "u1"})
	users.AddUser("tok-admin", &models.User{ID: "a1", IsAdmin: true})
	r := newRouter(users)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing header", "/whoami", "", http.StatusUnauthorized},
		{"wrong scheme", "/whoami", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "/whoami", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "/whoami", "Bearer tok-user", http.StatusOK},
		{"lowercase scheme", "/whoami", "bearer tok-user", http.StatusOK},
		{"non-admin on admin route", "/admin", "Bearer tok-user", http.StatusForbidden},
		{"admin on admin route", "/admin", "Bearer tok-admin", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	users := clients.NewMockUserClient()
	users.AddUser("tok", &models.User{ID: "u1"})
	r := newRouter(users)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set(HeaderRequestID, "req-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-abc", w.Header().Get(HeaderRequestID))
	assert.Contains(t, w.Body.String(), `"request_id":"req-abc"`)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("/ping", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("unmatched", "GET", "404")))
}

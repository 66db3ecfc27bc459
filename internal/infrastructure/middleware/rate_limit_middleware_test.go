package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(limit gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limit)
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return router
}

func TestHTTPRateLimitBlocksOverBurst(t *testing.T) {
	router := newTestRouter(NewHTTPRateLimit(1, 2))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHTTPRateLimitPerIP(t *testing.T) {
	router := newTestRouter(NewHTTPRateLimit(1, 1))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	router.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	// A different IP has an untouched budget.
	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(second, req)
	assert.Equal(t, http.StatusOK, second.Code)
}

func TestHTTPRateLimitDisabled(t *testing.T) {
	router := newTestRouter(NewHTTPRateLimit(0, 0))

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.3:1234"
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestClientIPParsing(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{name: "host port", remoteAddr: "192.168.1.5:4321", want: "192.168.1.5"},
		{name: "forwarded header wins", remoteAddr: "10.0.0.1:80", forwarded: "203.0.113.9", want: "203.0.113.9"},
		{name: "bad forwarded falls back", remoteAddr: "10.0.0.1:80", forwarded: "not-an-ip", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

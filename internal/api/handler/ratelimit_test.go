package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cantinahq/fiscal/internal/api/handler"
)

func setupRateLimitedRouter(t *testing.T, rps, burst int) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.RateLimiter(rps, burst))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/api/v1/journal", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"entries": 0}) })
	return r
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_429_afterBurstExhausted(t *testing.T) {
	router := setupRateLimitedRouter(t, 1, 1)

	if w := get(router, "/api/v1/journal"); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}

	w := get(router, "/api/v1/journal")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestRateLimiter_exemptsOperationalEndpoints(t *testing.T) {
	router := setupRateLimitedRouter(t, 1, 1)

	// Exhaust the client's bucket on the API.
	get(router, "/api/v1/journal")
	if w := get(router, "/api/v1/journal"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected API to be throttled, got %d", w.Code)
	}

	for i := 0; i < 5; i++ {
		if w := get(router, "/healthz"); w.Code != http.StatusOK {
			t.Fatalf("health probe %d throttled: got %d", i, w.Code)
		}
	}
}

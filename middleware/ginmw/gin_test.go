package ginmw_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	ratelimitd "github.com/rohanverma/ratelimitd"
	"github.com/rohanverma/ratelimitd/cache"
	"github.com/rohanverma/ratelimitd/middleware/ginmw"
	"github.com/rohanverma/ratelimitd/policy"
	"github.com/rohanverma/ratelimitd/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/api/data", func(c *gin.Context) { c.String(200, "ok") })
	r.GET("/health", func(c *gin.Context) { c.String(200, "ok") })
	return r
}

func newTestCoordinator(t *testing.T, permitLimit int64) *ratelimitd.Coordinator {
	t.Helper()
	c := cache.New(nil, cache.WithConfiguredPolicies([]policy.Policy{{
		PolicyName:       "api",
		Algorithm:        policy.TokenBucket,
		PermitLimit:      permitLimit,
		Window:           time.Minute,
		Precision:        time.Second,
		TokensPerRequest: 1,
	}}), cache.WithWarmOnStartup(true))
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)

	backend := memory.New()
	t.Cleanup(func() { backend.Close() })
	return ratelimitd.NewCoordinator(c, backend)
}

func TestRateLimit_AllowsWithinLimit(t *testing.T) {
	coordinator := newTestCoordinator(t, 5)
	router := newRouter(ginmw.RateLimit(coordinator, "api", ginmw.KeyByClientIP))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/data", nil)
		req.RemoteAddr = "1.2.3.4:1234"
		router.ServeHTTP(w, req)

		if w.Code != 200 {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "5" {
			t.Errorf("request %d: expected limit=5, got %s", i+1, w.Header().Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_DeniesExceedingLimit(t *testing.T) {
	coordinator := newTestCoordinator(t, 2)
	router := newRouter(ginmw.RateLimit(coordinator, "api", ginmw.KeyByClientIP))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/api/data", nil)
		req.RemoteAddr = "5.6.7.8:1234"
		router.ServeHTTP(w, req)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.RemoteAddr = "5.6.7.8:1234"
	router.ServeHTTP(w, req)

	if w.Code != 429 {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_ExcludePaths(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)
	router := newRouter(ginmw.RateLimitWithConfig(ginmw.Config{
		Coordinator:  coordinator,
		PolicyName:   "api",
		KeyFunc:      ginmw.KeyByClientIP,
		ExcludePaths: map[string]bool{"/health": true},
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	router.ServeHTTP(w, req)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("health should bypass, got %d", w.Code)
	}
}

func TestRateLimit_CustomDeniedHandler(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)
	customCalled := false
	router := newRouter(ginmw.RateLimitWithConfig(ginmw.Config{
		Coordinator: coordinator,
		PolicyName:  "api",
		KeyFunc:     ginmw.KeyByClientIP,
		DeniedHandler: func(c *gin.Context, _ ratelimitd.Decision) {
			customCalled = true
			c.AbortWithStatusJSON(429, gin.H{"custom": true})
		},
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.RemoteAddr = "11.0.0.1:1234"
	router.ServeHTTP(w, req)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/data", nil)
	req.RemoteAddr = "11.0.0.1:1234"
	router.ServeHTTP(w, req)

	if !customCalled {
		t.Error("custom denied handler should be called")
	}
}

func TestRateLimit_HeadersDisabled(t *testing.T) {
	coordinator := newTestCoordinator(t, 5)
	noHeaders := false
	router := newRouter(ginmw.RateLimitWithConfig(ginmw.Config{
		Coordinator: coordinator,
		PolicyName:  "api",
		KeyFunc:     ginmw.KeyByClientIP,
		Headers:     &noHeaders,
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.RemoteAddr = "12.0.0.1:1234"
	router.ServeHTTP(w, req)

	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("headers should not be set")
	}
}

func TestRateLimit_UnknownPolicyUsesErrorHandler(t *testing.T) {
	coordinator := newTestCoordinator(t, 5)
	errorHandlerCalled := false
	router := newRouter(ginmw.RateLimitWithConfig(ginmw.Config{
		Coordinator: coordinator,
		PolicyName:  "does-not-exist",
		KeyFunc:     ginmw.KeyByClientIP,
		ErrorHandler: func(c *gin.Context, _ error) {
			errorHandlerCalled = true
			c.String(500, "error")
		},
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.RemoteAddr = "13.0.0.1:1234"
	router.ServeHTTP(w, req)

	if !errorHandlerCalled {
		t.Error("expected ErrorHandler to be called for unknown policy")
	}
}

func TestKeyByHeader(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)
	router := newRouter(ginmw.RateLimit(coordinator, "api", ginmw.KeyByHeader("X-API-Key")))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/data", nil)
	req.Header.Set("X-API-Key", "key-A")
	router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatal("key-A should be allowed")
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/data", nil)
	req.Header.Set("X-API-Key", "key-A")
	router.ServeHTTP(w, req)
	if w.Code != 429 {
		t.Fatal("key-A should be denied")
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/data", nil)
	req.Header.Set("X-API-Key", "key-B")
	router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatal("key-B should be allowed")
	}
}

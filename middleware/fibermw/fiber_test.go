package fibermw_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	ratelimitd "github.com/rohanverma/ratelimitd"
	"github.com/rohanverma/ratelimitd/cache"
	"github.com/rohanverma/ratelimitd/middleware/fibermw"
	"github.com/rohanverma/ratelimitd/policy"
	"github.com/rohanverma/ratelimitd/store/memory"
)

func newApp(mw fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(mw)
	app.Get("/api/data", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func doReq(app *fiber.App, method, path string, headers map[string]string) *http.Response {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, _ := app.Test(req, -1)
	return resp
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
	app := newApp(fibermw.RateLimit(coordinator, "api", fibermw.KeyByIP))

	for i := 0; i < 5; i++ {
		resp := doReq(app, "GET", "/api/data", nil)
		if resp.StatusCode != 200 {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
		if resp.Header.Get("X-RateLimit-Limit") != "5" {
			t.Errorf("request %d: expected limit=5, got %s", i+1, resp.Header.Get("X-RateLimit-Limit"))
		}
	}
}

func TestRateLimit_DeniesExceedingLimit(t *testing.T) {
	coordinator := newTestCoordinator(t, 2)
	app := newApp(fibermw.RateLimit(coordinator, "api", fibermw.KeyByIP))

	for i := 0; i < 2; i++ {
		doReq(app, "GET", "/api/data", nil)
	}

	resp := doReq(app, "GET", "/api/data", nil)
	if resp.StatusCode != 429 {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 429, got %d, body: %s", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimit_ExcludePaths(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)
	app := newApp(fibermw.RateLimitWithConfig(fibermw.Config{
		Coordinator:  coordinator,
		PolicyName:   "api",
		KeyFunc:      fibermw.KeyByIP,
		ExcludePaths: map[string]bool{"/health": true},
	}))

	doReq(app, "GET", "/api/data", nil)

	resp := doReq(app, "GET", "/health", nil)
	if resp.StatusCode != 200 {
		t.Errorf("health should bypass, got %d", resp.StatusCode)
	}
}

func TestRateLimit_CustomDeniedHandler(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)
	customCalled := false
	app := newApp(fibermw.RateLimitWithConfig(fibermw.Config{
		Coordinator: coordinator,
		PolicyName:  "api",
		KeyFunc:     fibermw.KeyByIP,
		DeniedHandler: func(c *fiber.Ctx, _ ratelimitd.Decision) error {
			customCalled = true
			return c.Status(429).JSON(fiber.Map{"custom": true})
		},
	}))

	doReq(app, "GET", "/api/data", nil)
	doReq(app, "GET", "/api/data", nil)

	if !customCalled {
		t.Error("custom denied handler should be called")
	}
}

func TestRateLimit_HeadersDisabled(t *testing.T) {
	coordinator := newTestCoordinator(t, 5)
	noHeaders := false
	app := newApp(fibermw.RateLimitWithConfig(fibermw.Config{
		Coordinator: coordinator,
		PolicyName:  "api",
		KeyFunc:     fibermw.KeyByIP,
		Headers:     &noHeaders,
	}))

	resp := doReq(app, "GET", "/api/data", nil)
	if resp.Header.Get("X-RateLimit-Limit") != "" {
		t.Error("headers should not be set")
	}
}

func TestRateLimit_UnknownPolicyUsesErrorHandler(t *testing.T) {
	coordinator := newTestCoordinator(t, 5)
	errorHandlerCalled := false
	app := newApp(fibermw.RateLimitWithConfig(fibermw.Config{
		Coordinator: coordinator,
		PolicyName:  "does-not-exist",
		KeyFunc:     fibermw.KeyByIP,
		ErrorHandler: func(c *fiber.Ctx, _ error) error {
			errorHandlerCalled = true
			return c.Status(500).SendString("error")
		},
	}))

	doReq(app, "GET", "/api/data", nil)

	if !errorHandlerCalled {
		t.Error("expected ErrorHandler to be called for unknown policy")
	}
}

func TestKeyByHeader(t *testing.T) {
	coordinator := newTestCoordinator(t, 1)
	app := newApp(fibermw.RateLimit(coordinator, "api", fibermw.KeyByHeader("X-API-Key")))

	resp := doReq(app, "GET", "/api/data", map[string]string{"X-API-Key": "key-A"})
	if resp.StatusCode != 200 {
		t.Fatal("key-A should be allowed")
	}

	resp = doReq(app, "GET", "/api/data", map[string]string{"X-API-Key": "key-A"})
	if resp.StatusCode != 429 {
		t.Fatal("key-A should be denied")
	}

	resp = doReq(app, "GET", "/api/data", map[string]string{"X-API-Key": "key-B"})
	if resp.StatusCode != 200 {
		t.Fatal("key-B should be allowed")
	}
}

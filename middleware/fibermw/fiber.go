// Package fibermw provides Fiber middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gofiber/fiber. Fiber uses fasthttp (not net/http),
// so a dedicated adapter is required.
//
// Usage:
//
//	coordinator := ratelimitd.NewCoordinator(policyCache, redisStore)
//	app := fiber.New()
//	app.Use(fibermw.RateLimit(coordinator, "checkout", fibermw.KeyByIP))
package fibermw

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	ratelimitd "github.com/rohanverma/ratelimitd"
	"github.com/rohanverma/ratelimitd/clock"
)

// KeyFunc extracts the rate limiting key from a Fiber context. The
// returned string becomes the request's Identity.CustomDiscriminator.
type KeyFunc func(c *fiber.Ctx) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *fiber.Ctx, decision ratelimitd.Decision) error

// ErrorHandler is called when the coordinator returns an error other than
// a denial.
type ErrorHandler func(c *fiber.Ctx, err error) error

// Config holds the rate limit middleware configuration.
type Config struct {
	// Coordinator makes the admission decision (required).
	Coordinator *ratelimitd.Coordinator

	// PolicyName selects which cached policy applies (required).
	PolicyName string

	// KeyFunc extracts the rate limit key (required).
	KeyFunc KeyFunc

	// DeniedHandler is called on denial. Default: 429 JSON.
	DeniedHandler DeniedHandler

	// ErrorHandler is called on coordinator error. Default: pass-through (fail open).
	ErrorHandler ErrorHandler

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-* headers are set.
	// Default: true.
	Headers *bool
}

// RateLimit creates Fiber middleware with default settings.
func RateLimit(coordinator *ratelimitd.Coordinator, policyName string, keyFunc KeyFunc) fiber.Handler {
	return RateLimitWithConfig(Config{
		Coordinator: coordinator,
		PolicyName:  policyName,
		KeyFunc:     keyFunc,
	})
}

// RateLimitWithConfig creates Fiber middleware with full configuration control.
func RateLimitWithConfig(cfg Config) fiber.Handler {
	if cfg.Coordinator == nil {
		panic("fibermw: Coordinator is required")
	}
	if cfg.PolicyName == "" {
		panic("fibermw: PolicyName is required")
	}
	if cfg.KeyFunc == nil {
		panic("fibermw: KeyFunc is required")
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(c *fiber.Ctx) error {
		if cfg.ExcludePaths != nil && cfg.ExcludePaths[c.Path()] {
			return c.Next()
		}

		key := cfg.KeyFunc(c)
		req := ratelimitd.Request{
			PolicyName: cfg.PolicyName,
			Identity:   ratelimitd.Identity{CustomDiscriminator: key},
			Tokens:     1,
		}
		decision, err := cfg.Coordinator.ShouldAllow(c.UserContext(), req)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		if sendHeaders {
			setHeaders(c, decision)
		}

		if !decision.IsAllowed {
			if decision.RetryAfter > 0 {
				c.Set("Retry-After", strconv.FormatInt(int64(decision.RetryAfter.Seconds()+0.5), 10))
			}
			return cfg.DeniedHandler(c, decision)
		}

		return c.Next()
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// KeyByIP uses Fiber's IP() method which respects proxy headers.
func KeyByIP(c *fiber.Ctx) string {
	return c.IP()
}

// KeyByHeader returns a KeyFunc that extracts from a request header.
func KeyByHeader(header string) KeyFunc {
	return func(c *fiber.Ctx) string {
		return c.Get(header)
	}
}

// KeyByParam returns a KeyFunc that extracts from a route parameter.
func KeyByParam(param string) KeyFunc {
	return func(c *fiber.Ctx) string {
		return c.Params(param)
	}
}

// KeyByPathAndIP combines the request path and client IP.
func KeyByPathAndIP(c *fiber.Ctx) string {
	return c.Path() + ":" + c.IP()
}

// ─── Internals ───────────────────────────────────────────────────────────────

func setHeaders(c *fiber.Ctx, decision ratelimitd.Decision) {
	c.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Counters.Limit, 10))
	c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(decision.Counters.Remaining), 10))
	resetAt := clock.FromTicks(decision.EvaluatedAtTicks).Add(decision.Counters.ResetAfter)
	c.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func defaultDeniedHandler(c *fiber.Ctx, _ ratelimitd.Decision) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
}

func defaultErrorHandler(c *fiber.Ctx, _ error) error {
	return c.Next()
}

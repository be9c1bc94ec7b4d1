// Package echomw provides Echo middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/labstack/echo.
//
// Usage:
//
//	coordinator := ratelimitd.NewCoordinator(policyCache, redisStore)
//	e := echo.New()
//	e.Use(echomw.RateLimit(coordinator, "checkout", echomw.KeyByRealIP))
package echomw

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	ratelimitd "github.com/rohanverma/ratelimitd"
	"github.com/rohanverma/ratelimitd/clock"
)

// KeyFunc extracts the rate limiting key from an Echo context. The
// returned string becomes the request's Identity.CustomDiscriminator.
type KeyFunc func(c echo.Context) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c echo.Context, decision ratelimitd.Decision) error

// ErrorHandler is called when the coordinator returns an error other than
// a denial.
type ErrorHandler func(c echo.Context, err error) error

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

// RateLimit creates Echo middleware with default settings.
func RateLimit(coordinator *ratelimitd.Coordinator, policyName string, keyFunc KeyFunc) echo.MiddlewareFunc {
	return RateLimitWithConfig(Config{
		Coordinator: coordinator,
		PolicyName:  policyName,
		KeyFunc:     keyFunc,
	})
}

// RateLimitWithConfig creates Echo middleware with full configuration control.
func RateLimitWithConfig(cfg Config) echo.MiddlewareFunc {
	if cfg.Coordinator == nil {
		panic("echomw: Coordinator is required")
	}
	if cfg.PolicyName == "" {
		panic("echomw: PolicyName is required")
	}
	if cfg.KeyFunc == nil {
		panic("echomw: KeyFunc is required")
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.ExcludePaths != nil && cfg.ExcludePaths[c.Request().URL.Path] {
				return next(c)
			}

			key := cfg.KeyFunc(c)
			req := ratelimitd.Request{
				PolicyName: cfg.PolicyName,
				Identity:   ratelimitd.Identity{CustomDiscriminator: key},
				Tokens:     1,
			}
			decision, err := cfg.Coordinator.ShouldAllow(c.Request().Context(), req)
			if err != nil {
				if cfg.ErrorHandler == nil {
					return next(c)
				}
				return cfg.ErrorHandler(c, err)
			}

			if sendHeaders {
				setHeaders(c, decision)
			}

			if !decision.IsAllowed {
				if decision.RetryAfter > 0 {
					c.Response().Header().Set("Retry-After",
						strconv.FormatInt(int64(decision.RetryAfter.Seconds()+0.5), 10))
				}
				return cfg.DeniedHandler(c, decision)
			}

			return next(c)
		}
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// KeyByRealIP uses Echo's RealIP() which respects X-Forwarded-For / X-Real-IP.
func KeyByRealIP(c echo.Context) string {
	return c.RealIP()
}

// KeyByHeader returns a KeyFunc that extracts from a request header.
func KeyByHeader(header string) KeyFunc {
	return func(c echo.Context) string {
		return c.Request().Header.Get(header)
	}
}

// KeyByParam returns a KeyFunc that extracts from a path parameter.
func KeyByParam(param string) KeyFunc {
	return func(c echo.Context) string {
		return c.Param(param)
	}
}

// KeyByPathAndIP combines the request path and real IP.
func KeyByPathAndIP(c echo.Context) string {
	return c.Path() + ":" + c.RealIP()
}

// ─── Internals ───────────────────────────────────────────────────────────────

func setHeaders(c echo.Context, decision ratelimitd.Decision) {
	h := c.Response().Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Counters.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(decision.Counters.Remaining), 10))
	resetAt := clock.FromTicks(decision.EvaluatedAtTicks).Add(decision.Counters.ResetAfter)
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func defaultDeniedHandler(c echo.Context, _ ratelimitd.Decision) error {
	return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
}

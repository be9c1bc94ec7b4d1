// Package ginmw provides Gin middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP middleware
// does not pull in github.com/gin-gonic/gin.
//
// Usage:
//
//	coordinator := ratelimitd.NewCoordinator(policyCache, redisStore)
//	r := gin.Default()
//	r.Use(ginmw.RateLimit(coordinator, "checkout", ginmw.KeyByClientIP))
package ginmw

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	ratelimitd "github.com/rohanverma/ratelimitd"
	"github.com/rohanverma/ratelimitd/clock"
)

// KeyFunc extracts the rate limiting key from a Gin context. The returned
// string becomes the request's Identity.CustomDiscriminator.
type KeyFunc func(c *gin.Context) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *gin.Context, decision ratelimitd.Decision)

// ErrorHandler is called when the coordinator returns an error other than
// a denial.
type ErrorHandler func(c *gin.Context, err error)

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

// RateLimit creates Gin middleware with default settings.
func RateLimit(coordinator *ratelimitd.Coordinator, policyName string, keyFunc KeyFunc) gin.HandlerFunc {
	return RateLimitWithConfig(Config{
		Coordinator: coordinator,
		PolicyName:  policyName,
		KeyFunc:     keyFunc,
	})
}

// RateLimitWithConfig creates Gin middleware with full configuration control.
func RateLimitWithConfig(cfg Config) gin.HandlerFunc {
	if cfg.Coordinator == nil {
		panic("ginmw: Coordinator is required")
	}
	if cfg.PolicyName == "" {
		panic("ginmw: PolicyName is required")
	}
	if cfg.KeyFunc == nil {
		panic("ginmw: KeyFunc is required")
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(c *gin.Context) {
		if cfg.ExcludePaths != nil && cfg.ExcludePaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		req := ratelimitd.Request{
			PolicyName: cfg.PolicyName,
			Identity:   ratelimitd.Identity{CustomDiscriminator: key},
			Tokens:     1,
		}
		decision, err := cfg.Coordinator.ShouldAllow(c.Request.Context(), req)
		if err != nil {
			cfg.ErrorHandler(c, err)
			return
		}

		if sendHeaders {
			setHeaders(c, decision)
		}

		if !decision.IsAllowed {
			if decision.RetryAfter > 0 {
				c.Header("Retry-After", strconv.FormatInt(int64(decision.RetryAfter.Seconds()+0.5), 10))
			}
			cfg.DeniedHandler(c, decision)
			return
		}

		c.Next()
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// KeyByClientIP uses Gin's ClientIP() which respects trusted proxies.
func KeyByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// KeyByHeader returns a KeyFunc that extracts from a request header.
func KeyByHeader(header string) KeyFunc {
	return func(c *gin.Context) string {
		return c.GetHeader(header)
	}
}

// KeyByParam returns a KeyFunc that extracts from a URL parameter.
func KeyByParam(param string) KeyFunc {
	return func(c *gin.Context) string {
		return c.Param(param)
	}
}

// KeyByPathAndIP combines the request path and client IP.
func KeyByPathAndIP(c *gin.Context) string {
	return c.FullPath() + ":" + c.ClientIP()
}

// ─── Internals ───────────────────────────────────────────────────────────────

func setHeaders(c *gin.Context, decision ratelimitd.Decision) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(decision.Counters.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(int64(decision.Counters.Remaining), 10))
	resetAt := clock.FromTicks(decision.EvaluatedAtTicks).Add(decision.Counters.ResetAfter)
	c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func defaultDeniedHandler(c *gin.Context, _ ratelimitd.Decision) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
}

func defaultErrorHandler(c *gin.Context, _ error) {
	c.Next()
}

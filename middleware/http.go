package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	ratelimitd "github.com/rohanverma/ratelimitd"
	"github.com/rohanverma/ratelimitd/clock"
)

// KeyFunc extracts the rate limiting key from an HTTP request. The
// returned string becomes the request's Identity.CustomDiscriminator,
// the highest-precedence identity component.
type KeyFunc func(r *http.Request) string

// ErrorHandler is called when the coordinator returns an error other than
// a denial (e.g. an unknown policy name). Default behavior: 500 Internal
// Server Error.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DeniedHandler is called when a request is rate limited.
// Default behavior: 429 Too Many Requests with Retry-After header.
type DeniedHandler func(w http.ResponseWriter, r *http.Request, decision ratelimitd.Decision)

// Config holds the rate limit middleware configuration.
type Config struct {
	// Coordinator makes the admission decision (required).
	Coordinator *ratelimitd.Coordinator

	// PolicyName selects which policy in the coordinator's cache applies
	// to requests this middleware instance sees (required).
	PolicyName string

	// KeyFunc extracts the rate limit key from the request (required).
	KeyFunc KeyFunc

	// ErrorHandler is called when the coordinator returns an error.
	// Default: responds with 500.
	ErrorHandler ErrorHandler

	// DeniedHandler is called when a request is denied.
	// Default: responds with 429 and Retry-After header.
	DeniedHandler DeniedHandler

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-* headers are set on responses.
	// Default: true.
	Headers *bool

	// Message is the response body for denied requests.
	// Default: "Too Many Requests".
	Message string

	// StatusCode is the HTTP status code for denied requests.
	// Default: 429.
	StatusCode int
}

// RateLimit creates HTTP middleware with default settings.
// It sets standard rate limit headers and returns 429 on denial.
//
// Usage with net/http:
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/", middleware.RateLimit(coordinator, "checkout", middleware.KeyByIP)(handler))
func RateLimit(coordinator *ratelimitd.Coordinator, policyName string, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return RateLimitWithConfig(Config{
		Coordinator: coordinator,
		PolicyName:  policyName,
		KeyFunc:     keyFunc,
	})
}

// RateLimitWithConfig creates HTTP middleware with full configuration control.
func RateLimitWithConfig(cfg Config) func(http.Handler) http.Handler {
	if cfg.Coordinator == nil {
		panic("ratelimitd/middleware: Coordinator is required")
	}
	if cfg.PolicyName == "" {
		panic("ratelimitd/middleware: PolicyName is required")
	}
	if cfg.KeyFunc == nil {
		panic("ratelimitd/middleware: KeyFunc is required")
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler(cfg.Message, cfg.StatusCode)
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.ExcludePaths != nil && cfg.ExcludePaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := cfg.KeyFunc(r)
			req := ratelimitd.Request{
				PolicyName: cfg.PolicyName,
				Identity:   ratelimitd.Identity{CustomDiscriminator: key},
				Tokens:     1,
			}
			decision, err := cfg.Coordinator.ShouldAllow(r.Context(), req)
			if err != nil {
				cfg.ErrorHandler(w, r, err)
				return
			}

			if sendHeaders {
				setRateLimitHeaders(w, decision)
			}

			if !decision.IsAllowed {
				if decision.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.FormatInt(int64(decision.RetryAfter.Seconds()+0.5), 10))
				}
				cfg.DeniedHandler(w, r, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// KeyByIP extracts the client IP address as the rate limit key.
// It checks X-Forwarded-For, X-Real-IP, then falls back to RemoteAddr.
func KeyByIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// KeyByHeader returns a KeyFunc that uses the value of the given header.
// Useful for API key-based rate limiting.
func KeyByHeader(header string) KeyFunc {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

// KeyByPathAndIP returns a KeyFunc that combines the request path and client IP.
// Useful for per-endpoint rate limiting.
func KeyByPathAndIP(r *http.Request) string {
	return r.URL.Path + ":" + KeyByIP(r)
}

// ─── Headers ─────────────────────────────────────────────────────────────────

func setRateLimitHeaders(w http.ResponseWriter, decision ratelimitd.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(decision.Counters.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(int64(decision.Counters.Remaining), 10))
	resetAt := clock.FromTicks(decision.EvaluatedAtTicks).Add(decision.Counters.ResetAfter)
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

// ─── Default Handlers ────────────────────────────────────────────────────────

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, _ error) {
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func defaultDeniedHandler(message string, statusCode int) DeniedHandler {
	if message == "" {
		message = "Too Many Requests"
	}
	if statusCode == 0 {
		statusCode = http.StatusTooManyRequests
	}
	return func(w http.ResponseWriter, _ *http.Request, _ ratelimitd.Decision) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(statusCode)
		fmt.Fprintln(w, message)
	}
}

// This file is kept for backward-compatibility documentation.
// The concrete Gin middleware implementation lives in the ginmw sub-package
// to avoid pulling github.com/gin-gonic/gin into projects that only need HTTP middleware.
//
// Import:
//
//	import "github.com/rohanverma/ratelimitd/middleware/ginmw"
//
// Usage:
//
//	coordinator := ratelimitd.NewCoordinator(policyCache, redisStore)
//	r := gin.Default()
//	r.Use(ginmw.RateLimit(coordinator, "checkout", ginmw.KeyByClientIP))
//
// Key extractors:
//
//	ginmw.KeyByClientIP          — Gin's ClientIP() with trusted proxy support
//	ginmw.KeyByHeader("X-API-Key") — value from request header
//	ginmw.KeyByParam("id")      — value from URL parameter
//	ginmw.KeyByPathAndIP        — path + client IP for per-endpoint limits
//
// Full config:
//
//	ginmw.RateLimitWithConfig(ginmw.Config{
//	    Coordinator:  coordinator,
//	    PolicyName:   "checkout",
//	    KeyFunc:      ginmw.KeyByClientIP,
//	    ExcludePaths: map[string]bool{"/health": true},
//	    DeniedHandler: customHandler,
//	})
//
// See package github.com/rohanverma/ratelimitd/middleware/ginmw for full API.
package middleware

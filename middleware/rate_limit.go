package middleware

import (
	"net/http"

	"commerce-service/ratelimit"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit gates a route group with a fixed-window limiter. Buckets are
// keyed by route prefix and client IP as resolved from forwarding headers.
// Limiter errors fail open: a degraded counter store must not take the
// storefront down with it.
func RateLimit(limiter ratelimit.Limiter, route string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := route + ":" + c.ClientIP()

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter unavailable, failing open",
				zap.String("route", route),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

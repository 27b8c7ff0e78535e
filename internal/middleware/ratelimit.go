package middleware

import (
	"net/http"

	"github.com/ertvault/ertvault/internal/service"
	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware applies the per-executor token bucket. Must run
// after AuthMiddleware; anonymous callers pass through (the endpoints
// they can reach are idempotent views and expiry marking).
func RateLimitMiddleware(em *service.ExecutorManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, ok := ExecutorFrom(c)
		if !ok {
			c.Next()
			return
		}

		limiter := em.LimiterFor(acct.Address)
		if limiter == nil {
			c.Next()
			return
		}

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// KeyFunc derives the rate-limit subject from a request. Returning ""
// skips limiting for that request.
type KeyFunc func(c *gin.Context) string

// ByClientIP keys on the caller's address.
func ByClientIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// ByTokenParam keys on a route parameter carrying an access token, falling
// back to the client address when the parameter is absent.
func ByTokenParam(param string) KeyFunc {
	return func(c *gin.Context) string {
		if token := c.Param(param); token != "" {
			return "token:" + token
		}
		return ByClientIP(c)
	}
}

// Middleware rejects requests over the limit with 429. Redis trouble fails
// open: the signing surface must not go down with the limiter.
func Middleware(limiter Allower, log *slog.Logger, key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		subject := key(c)
		if subject == "" {
			c.Next()
			return
		}

		d, err := limiter.Allow(c.Request.Context(), subject)
		if err != nil {
			log.Warn("rate limit check failed, allowing request", "error", err)
			c.Next()
			return
		}
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Next()
	}
}

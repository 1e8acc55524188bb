package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/gateway"
)

// RateLimit rejects callers over their per-IP window with 429 and a
// Retry-After header.
func RateLimit(limiter *gateway.FixedWindow, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		ok, wait := limiter.Allow(ip)
		if ok {
			c.Next()
			return
		}

		retry := gateway.RetryAfterSeconds(wait)
		logger.Warn("rate limited", "client_ip", ip, "retry_after", retry)
		c.Header("Retry-After", strconv.Itoa(retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   "rate_limited",
			"message": gateway.ErrRateLimited.Error() + ", retry after " + strconv.Itoa(retry) + "s",
		})
	}
}

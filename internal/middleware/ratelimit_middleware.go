package middleware

import (
	"net/http"
	"strconv"

	"peercall/internal/auth"
	"peercall/internal/redis"
	"peercall/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

// CallRateLimitMiddleware limits call initiations per user.
// Apply to the call creation endpoint after auth middleware.
func CallRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c.Request.Context())
		if !ok {
			// No user context, auth middleware will handle
			c.Next()
			return
		}

		result, err := limiter.AllowCall(c.Request.Context(), userID.String())
		if err != nil {
			c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
			c.Abort()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("call rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}

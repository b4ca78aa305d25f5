package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
)

// rateLimitMiddleware enforces the limiter's per-period request count, keyed by IP rather
// than API key since public endpoints have no authenticated identity yet.
func rateLimitMiddleware(l *limiter.Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := l.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Error("api: rate limiter backend error", zap.Error(err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(ctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(ctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(ctx.Reset, 10))
		if ctx.Reached {
			errorResponse(c, http.StatusTooManyRequests, -1003, "Too many requests.")
			return
		}
		c.Next()
	}
}

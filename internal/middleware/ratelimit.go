package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/breachrange/internal/monitoring"
	appErrors "github.com/charlesng35/breachrange/pkg/errors"
	"github.com/charlesng35/breachrange/pkg/logger"
	"github.com/charlesng35/breachrange/pkg/response"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimit throttles each client to maxRequests per window on the routes it guards.
// Counters live in store so that replicas sharing a cache backend share the budget.
// A failing store lets the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	if store == nil || maxRequests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if window <= 0 {
		window = time.Minute
	}
	limit := strconv.Itoa(maxRequests)

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := rateLimitKeyPrefix + c.ClientIP() + ":" + route

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			logger.WithModule("ratelimit").Debug("rate store unavailable; allowing request",
				zap.String("path", route),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if ttl <= 0 {
			ttl = window
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", limit)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))

		if count > maxRequests {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Round(time.Second)/time.Second)))
			monitoring.RecordThrottled(route)
			response.Abort(c, appErrors.ErrRateLimit)
			return
		}

		c.Next()
	}
}

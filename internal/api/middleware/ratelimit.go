package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapewatch/internal/domain"
	"github.com/timmy/scrapewatch/internal/metrics"
	"github.com/timmy/scrapewatch/internal/ratelimit"
)

// RateLimit throttles a route per user. It must run after RequireUser.
// Parameters:
//   - limiter: shared limiter; one instance may guard several routes.
//   - route: metric label for rejected requests.
// Returns:
//   - gin.HandlerFunc: middleware handler.
func RateLimit(limiter *ratelimit.Limiter, route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := UserID(c)
		if identity == "" {
			identity = c.ClientIP()
		}

		if !limiter.Allow(identity) {
			metrics.RateLimitedTotal.WithLabelValues(route).Inc()
			retry := limiter.RetryAfter(identity).Seconds()
			c.Header("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(retry)))))
			c.Header("X-RateLimit-Remaining", "0")
			GetLogger(c).WithField("route", route).Warn("Rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": domain.ErrRateLimited.Error()})
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(identity)))
		c.Next()
	}
}

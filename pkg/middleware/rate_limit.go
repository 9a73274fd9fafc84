package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/scrolluniversity/doc-service/pkg/metrics"
)

// limiterKey picks the rate-limit key for a request: the authenticated
// subject when the auth middleware ran first, else the client IP. Keying
// by subject keeps users behind one NAT from exhausting each other's
// budget.
func limiterKey(c *gin.Context) string {
	if v, ok := c.Get("claims"); ok {
		if cm, ok := v.(map[string]interface{}); ok {
			if sub, ok := cm["sub"].(string); ok && sub != "" {
				return "sub:" + sub
			}
		}
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// buckets holds one token bucket per key, created lazily. Entries are
// never evicted; the key space is bounded by the active user population.
var buckets sync.Map // map[string]*rate.Limiter

func getLimiter(key string, rps float64, burst int) *rate.Limiter {
	if v, ok := buckets.Load(key); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(rps), burst)
	actual, _ := buckets.LoadOrStore(key, lim)
	return actual.(*rate.Limiter)
}

// RateLimitMiddleware enforces an in-process token-bucket limit per key.
// Suitable for single-instance deployments; multi-instance setups should
// use RedisRateLimitMiddleware so the budget is shared.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !getLimiter(limiterKey(c), rps, burst).Allow() {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}

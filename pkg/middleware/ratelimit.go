package middleware

import (
	"sync"
	"time"

	"habitcoin/pkg/errutil"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterIdle   = 5 * time.Minute
	sweepInterval = time.Minute
)

type visitor struct {
	limiter *rate.Limiter
	expires time.Time
}

// RateLimiter is a token bucket per client key (user header, else IP).
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit     rate.Limit
	burst     int
	nextSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	perMinute = max(perMinute, 1)
	return &RateLimiter{
		visitors: map[string]*visitor{},
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    max(perMinute/2, 1),
		now:      time.Now,
	}
}

func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(UserIDHeader)
		if key == "" {
			key = c.ClientIP()
		}

		if !r.allow(key) {
			_ = c.Error(errutil.TooManyRequest("rate limit exceeded", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !now.Before(r.nextSweep) {
		r.sweep(now)
	}

	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.expires = now.Add(limiterIdle)
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle visitors. It runs at most once per sweepInterval so the
// hot path does not walk the whole map.
func (r *RateLimiter) sweep(now time.Time) {
	for k, v := range r.visitors {
		if now.After(v.expires) {
			delete(r.visitors, k)
		}
	}
	r.nextSweep = now.Add(sweepInterval)
}

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipThrottle hands out one token-bucket limiter per client IP.
type ipThrottle struct {
	ips   map[string]*rate.Limiter
	mu    sync.Mutex
	rate  rate.Limit
	burst int
}

func (t *ipThrottle) limiterFor(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limiter, exists := t.ips[ip]; exists {
		return limiter
	}
	limiter := rate.NewLimiter(t.rate, t.burst)
	t.ips[ip] = limiter
	return limiter
}

// GlobalThrottle smooths traffic across the whole engine with a per-IP token
// bucket. The fixed-window limiter on the write endpoints enforces the real
// per-route budgets; this only blunts floods before they reach a handler.
func GlobalThrottle(r rate.Limit, burst int) gin.HandlerFunc {
	t := &ipThrottle{ips: make(map[string]*rate.Limiter), rate: r, burst: burst}

	return func(c *gin.Context) {
		if !t.limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// internal/middleware/rate_limit.go
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/scrylabs/scry-backend/internal/i18n"
	"github.com/scrylabs/scry-backend/internal/utils"
)

const visitorIdleTTL = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per key. Keys idle for longer than
// visitorIdleTTL are forgotten.
type RateLimiter struct {
	visitors map[string]*visitor
	mtx      sync.Mutex
	rate     rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    b,
		stop:     make(chan struct{}),
	}

	go rl.cleanupVisitors(time.Minute)

	return rl
}

func (rl *RateLimiter) cleanupVisitors(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.mtx.Lock()
			for key, v := range rl.visitors {
				if now.Sub(v.lastSeen) > visitorIdleTTL {
					delete(rl.visitors, key)
				}
			}
			rl.mtx.Unlock()
		}
	}
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mtx.Lock()
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mtx.Unlock()

	return v.limiter.Allow()
}

// Middleware limits requests per client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return rl.limit(func(c *gin.Context) string { return "ip:" + c.ClientIP() })
}

// PerAccount limits requests per authenticated ledger account, falling back
// to the client IP. It must run after the auth middleware.
func (rl *RateLimiter) PerAccount() gin.HandlerFunc {
	return rl.limit(func(c *gin.Context) string {
		if account, ok := utils.GetAccountFromContext(c); ok {
			return "account:" + account
		}
		return "ip:" + c.ClientIP()
	})
}

func (rl *RateLimiter) limit(keyFn func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.allow(keyFn(c)) {
			c.Next()
			return
		}

		if rl.rate > 0 && !math.IsInf(float64(rl.rate), 1) {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(1/float64(rl.rate)))))
		}
		lang := utils.GetLangFromContext(c)
		utils.ErrorResponse(c, http.StatusTooManyRequests, "RATE_LIMITED", i18n.T(lang, i18n.KeyRateLimited), nil)
		c.Abort()
	}
}

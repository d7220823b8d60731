package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"chat-timeline/internal/platform/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter 以 token bucket 限制每個來源的請求速率
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 創建速率限制器，perMinute 為每分鐘允許的請求數
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idle:     10 * time.Minute,
	}
}

// Allow 檢查 key 是否允許再發送一個請求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

// Cleanup 定期清理閒置的訪問者記錄，直到 ctx 結束
func (rl *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.idle {
			delete(rl.visitors, key)
		}
	}
}

// Middleware 返回 Gin 中間件
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(GetClientIP(c)) {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}

func rejectRateLimited(c *gin.Context) {
	metrics.RateLimitHits.WithLabelValues("http").Inc()
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":      "請求過於頻繁，請稍後再試",
		"success":    false,
		"request_id": GetRequestID(c),
	})
	c.Abort()
}

// PerRouteRateLimiter 為不同路由設置不同的速率限制
type PerRouteRateLimiter struct {
	limiters map[string]*RateLimiter
	fallback *RateLimiter
}

// NewPerRouteRateLimiter 創建路由級速率限制器
func NewPerRouteRateLimiter(defaultPerMinute int) *PerRouteRateLimiter {
	return &PerRouteRateLimiter{
		limiters: make(map[string]*RateLimiter),
		fallback: NewRateLimiter(defaultPerMinute),
	}
}

// SetLimit 為特定路由（gin FullPath 樣式，例如 /api/v1/channels/:channel_id/messages）設置限制
func (p *PerRouteRateLimiter) SetLimit(route string, perMinute int) {
	p.limiters[route] = NewRateLimiter(perMinute)
}

// Cleanup 清理所有限制器
func (p *PerRouteRateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	for _, l := range p.limiters {
		go l.Cleanup(ctx, interval)
	}
	p.fallback.Cleanup(ctx, interval)
}

// Middleware 返回 Gin 中間件
func (p *PerRouteRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter, ok := p.limiters[c.FullPath()]
		if !ok || c.Request.Method == http.MethodGet {
			limiter = p.fallback
		}
		if !limiter.Allow(GetClientIP(c)) {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}

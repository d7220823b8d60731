package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SSEConnectionLimiter SSE 連接限制器
type SSEConnectionLimiter struct {
	mu          sync.Mutex
	connections map[string]int       // IP -> 連接數
	lastConnect map[string]time.Time // IP -> 最後連接時間
	maxPerIP    int
	minInterval time.Duration
	maxTotal    int
	total       int
	now         func() time.Time
}

// NewSSEConnectionLimiter 創建 SSE 連接限制器
func NewSSEConnectionLimiter(maxPerIP int, minInterval time.Duration, maxTotal int) *SSEConnectionLimiter {
	return &SSEConnectionLimiter{
		connections: make(map[string]int),
		lastConnect: make(map[string]time.Time),
		maxPerIP:    maxPerIP,
		minInterval: minInterval,
		maxTotal:    maxTotal,
		now:         time.Now,
	}
}

// Middleware SSE 連接限制中間件，連接結束（handler 返回）時釋放名額
func (l *SSEConnectionLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := GetClientIP(c)
		if !l.acquire(ip) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "SSE 連接數已達上限，請稍後再試",
				"success":    false,
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}
		defer l.release(ip)

		c.Next()
	}
}

// acquire 檢查並註冊新連接
func (l *SSEConnectionLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total >= l.maxTotal {
		return false
	}
	if l.connections[ip] >= l.maxPerIP {
		return false
	}
	now := l.now()
	if last, ok := l.lastConnect[ip]; ok && now.Sub(last) < l.minInterval {
		return false
	}

	l.connections[ip]++
	l.total++
	l.lastConnect[ip] = now
	l.evictLocked(now)
	return true
}

func (l *SSEConnectionLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count, ok := l.connections[ip]
	if !ok {
		return
	}
	if count <= 1 {
		delete(l.connections, ip)
	} else {
		l.connections[ip] = count - 1
	}
	l.total--
}

// evictLocked 清理超過 10 分鐘且沒有連接的記錄
func (l *SSEConnectionLimiter) evictLocked(now time.Time) {
	for ip, last := range l.lastConnect {
		if now.Sub(last) > 10*time.Minute && l.connections[ip] == 0 {
			delete(l.lastConnect, ip)
		}
	}
}

// Stats 獲取統計信息
func (l *SSEConnectionLimiter) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]any{
		"total_connections": l.total,
		"unique_ips":        len(l.connections),
		"max_total":         l.maxTotal,
		"max_per_ip":        l.maxPerIP,
	}
}

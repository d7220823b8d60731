package middleware

import (
	"strconv"
	"time"

	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics 記錄每個請求的次數與耗時；未匹配路由的 path 標記為 "unmatched"
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// AccessLog 以結構化日誌記錄請求結果
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		meta := GetRequestMetadata(c.Request.Context())
		details := map[string]any{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         meta.IPAddress,
			"user_agent": meta.UserAgent,
		}
		opts := []logger.Option{logger.WithAction("http_request"), logger.WithDetails(details)}
		if meta.UserID != "" {
			opts = append(opts, logger.WithUserID(meta.UserID))
		}

		switch {
		case c.Writer.Status() >= 500:
			logger.Error(c.Request.Context(), "HTTP 請求失敗", opts...)
		case c.Writer.Status() >= 400:
			logger.Warning(c.Request.Context(), "HTTP 請求被拒絕", opts...)
		default:
			logger.Debug(c.Request.Context(), "HTTP 請求完成", opts...)
		}
	}
}

package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequestMetadata 請求元數據
type RequestMetadata struct {
	RequestID string
	IPAddress string
	UserAgent string
	UserID    string
}

type contextKey string

const (
	requestMetadataKey contextKey = "request_metadata"
)

// RequestMetadataMiddleware 提取請求元數據並存儲到 context，需在身分中間件之後
func RequestMetadataMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		metadata := &RequestMetadata{
			RequestID: GetRequestID(c),
			IPAddress: GetClientIP(c),
			UserAgent: c.Request.UserAgent(),
		}
		if user := UserFromContext(c.Request.Context()); user != nil {
			metadata.UserID = user.ID
		}

		c.Set(string(requestMetadataKey), metadata)
		ctx := context.WithValue(c.Request.Context(), requestMetadataKey, metadata)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetClientIP 獲取客戶端真實 IP
func GetClientIP(c *gin.Context) string {
	// X-Forwarded-For 可能包含多個 IP，取第一個
	if forwarded := c.Request.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := c.Request.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return c.ClientIP()
}

// GetRequestMetadata 從 context 獲取請求元數據
func GetRequestMetadata(ctx context.Context) *RequestMetadata {
	if metadata, ok := ctx.Value(requestMetadataKey).(*RequestMetadata); ok {
		return metadata
	}
	return &RequestMetadata{
		IPAddress: "unknown",
		UserAgent: "unknown",
	}
}

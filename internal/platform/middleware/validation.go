package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/config"

	"github.com/gin-gonic/gin"
)

// ValidateMessageContent 驗證訊息內容
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("訊息內容不能為空")
	}

	maxLength := constants.DefaultMaxMessageLength
	if cfg := config.Get(); cfg != nil && cfg.Limits.Message.MaxLength > 0 {
		maxLength = cfg.Limits.Message.MaxLength
	}
	if utf8.RuneCountInString(content) > maxLength {
		return fmt.Errorf("訊息內容超過最大長度限制 (%d 字符)", maxLength)
	}

	if !utf8.ValidString(content) {
		return fmt.Errorf("訊息內容不是有效的 UTF-8")
	}

	// 防止 NULL 字符注入
	if strings.Contains(content, "\x00") {
		return fmt.Errorf("訊息內容包含非法字符")
	}

	return nil
}

// ValidateUserID 驗證用戶 ID 格式
func ValidateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("用戶 ID 不能為空")
	}

	if len(userID) > constants.MaxUserIDLength {
		return fmt.Errorf("用戶 ID 格式錯誤")
	}

	// 防止 NULL 字符注入和特殊字符
	if strings.ContainsAny(userID, "\x00${}[]") {
		return fmt.Errorf("用戶 ID 包含非法字符")
	}

	return nil
}

// ValidateChannelID 驗證頻道 ID 格式
func ValidateChannelID(channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("頻道 ID 不能為空")
	}

	if len(channelID) > constants.MaxChannelIDLength {
		return fmt.Errorf("頻道 ID 格式錯誤")
	}

	// 只允許英數字與 - _ . :
	for _, c := range channelID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			c == '-' || c == '_' || c == '.' || c == ':') {
			return fmt.Errorf("頻道 ID 格式錯誤")
		}
	}

	return nil
}

// SanitizeInput 消毒輸入（移除危險字符）
func SanitizeInput(input string) string {
	var result strings.Builder
	result.Grow(len(input))
	for _, r := range input {
		// 移除 NULL 與控制字符（除了換行和 Tab）
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RequestSizeLimiter 限制請求體大小的中間件
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":      fmt.Sprintf("請求體過大，最大允許 %d 字節", maxSize),
				"success":    false,
				"request_id": GetRequestID(c),
			})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)

		c.Next()
	}
}

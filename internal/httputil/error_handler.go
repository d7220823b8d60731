package httputil

import (
	"fmt"
	"net/http"
	"strings"

	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// SafeError 安全的錯誤響應（不洩露內部信息）
func SafeError(c *gin.Context, statusCode int, err error, userMessage string) {
	requestID := middleware.GetRequestID(c)

	// 真實錯誤只寫入日誌
	logger.Error(c.Request.Context(), "API 錯誤",
		logger.WithError(err),
		logger.WithDetails(map[string]any{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
		}))

	message := userMessage
	if shouldShowError(err) {
		message = err.Error()
	}
	respond(c, statusCode, errorCodeFor(statusCode), message)
}

// shouldShowError 判斷是否可以向用戶顯示錯誤詳情
func shouldShowError(err error) bool {
	if err == nil {
		return false
	}

	// 可能洩露敏感信息的關鍵字
	dangerousKeywords := []string{
		"mongo",
		"postgres",
		"pgx",
		"redis",
		"database",
		"connection",
		"password",
		"token",
		"secret",
		"credential",
		"master key",
		"grpc",
		"internal",
		"stack",
		"panic",
	}

	lowerMsg := strings.ToLower(err.Error())
	for _, keyword := range dangerousKeywords {
		if strings.Contains(lowerMsg, keyword) {
			return false
		}
	}
	return true
}

func errorCodeFor(statusCode int) int {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrorCodeMissingIdentity
	case http.StatusForbidden:
		return ErrorCodeNotAuthor
	case http.StatusNotFound:
		return ErrorCodeRecordNotFound
	case http.StatusTooManyRequests:
		return ErrorCodeRateLimited
	}
	if statusCode >= 500 {
		return ErrorCodeProcessingFailed
	}
	return ErrorCodeInvalidParameter
}

func respond(c *gin.Context, statusCode, code int, message string) {
	resp := ErrorWithCode(code, message)
	resp["request_id"] = middleware.GetRequestID(c)
	c.AbortWithStatusJSON(statusCode, resp)
}

// InternalServerError 內部服務器錯誤
func InternalServerError(c *gin.Context, err error) {
	SafeError(c, http.StatusInternalServerError, err, "服務器內部錯誤，請稍後再試")
}

// BadRequest 錯誤的請求
func BadRequest(c *gin.Context, message string) {
	respond(c, http.StatusBadRequest, ErrorCodeInvalidParameter, message)
}

// Unauthorized 未授權
func Unauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "未提供使用者身分"
	}
	respond(c, http.StatusUnauthorized, ErrorCodeMissingIdentity, message)
}

// Forbidden 禁止訪問
func Forbidden(c *gin.Context, message string) {
	if message == "" {
		message = "禁止訪問"
	}
	respond(c, http.StatusForbidden, ErrorCodeNotAuthor, message)
}

// NotFoundError 資源不存在
func NotFoundError(c *gin.Context, message string) {
	if message == "" {
		message = "資源不存在"
	}
	respond(c, http.StatusNotFound, ErrorCodeRecordNotFound, message)
}

// ValidationError 驗證錯誤
func ValidationError(c *gin.Context, field string, message string) {
	respond(c, http.StatusBadRequest, ErrorCodeInvalidParameter, fmt.Sprintf("%s: %s", field, message))
}

package httputil

import "github.com/gin-gonic/gin"

// 成功訊息常數.
const (
	DataRetrieved = "Data retrieved successfully"
	DataCreated   = "Data created successfully"
	DataUpdated   = "Data updated successfully"
	DataDeleted   = "Data deleted successfully"
)

// 錯誤訊息常數.
const (
	InvalidParameter = "Invalid parameter"
	ProcessingFailed = "Processing failed"
	RecordNotFound   = "Record not found"
)

// Error 自定義錯誤結構.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorWithCode 回傳包含錯誤代碼的錯誤回應.
func ErrorWithCode(code int, message string) gin.H {
	return gin.H{
		"success": false,
		"error":   &Error{Code: code, Message: message},
	}
}

// SuccessResponse 成功回應結構.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// NewSuccessResponse 創建成功回應.
func NewSuccessResponse(message string, data any) *SuccessResponse {
	return &SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chat-timeline/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorBody struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id"`
	Error     Error  `json:"error"`
}

func call(t *testing.T, h gin.HandlerFunc) (int, errorBody) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware())
	r.GET("/", h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestInternalServerErrorHidesDetails(t *testing.T) {
	code, body := call(t, func(c *gin.Context) {
		InternalServerError(c, errors.New("mongo: connection refused"))
	})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.False(t, body.Success)
	assert.Equal(t, "req-1", body.RequestID)
	assert.Equal(t, ErrorCodeProcessingFailed, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "mongo")
}

func TestSafeErrorShowsHarmlessMessage(t *testing.T) {
	code, body := call(t, func(c *gin.Context) {
		SafeError(c, http.StatusTooManyRequests, errors.New("slow down"), "稍後再試")
	})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, ErrorCodeRateLimited, body.Error.Code)
	assert.Equal(t, "slow down", body.Error.Message)
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name    string
		handler gin.HandlerFunc
		status  int
		code    int
		message string
	}{
		{"unauthorized default", func(c *gin.Context) { Unauthorized(c, "") }, http.StatusUnauthorized, ErrorCodeMissingIdentity, "未提供使用者身分"},
		{"forbidden", func(c *gin.Context) { Forbidden(c, "not yours") }, http.StatusForbidden, ErrorCodeNotAuthor, "not yours"},
		{"not found default", func(c *gin.Context) { NotFoundError(c, "") }, http.StatusNotFound, ErrorCodeRecordNotFound, "資源不存在"},
		{"validation", func(c *gin.Context) { ValidationError(c, "content", "empty") }, http.StatusBadRequest, ErrorCodeInvalidParameter, "content: empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := call(t, tt.handler)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"
	statusDegraded  = "degraded"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	checkTimeout = 5 * time.Second
)

// Pinger 可被健康檢查的依賴.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check 具名的依賴檢查，例如 storage、relay.
type Check struct {
	Name   string
	Pinger Pinger
}

// Handler 健康檢查處理器.
type Handler struct {
	checks []Check
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

// DependencyStatus 單一依賴的檢查結果.
type DependencyStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthCheck 健康檢查端點.
func (h *Handler) HealthCheck(c *gin.Context) {
	overall := statusHealthy
	deps := make(map[string]DependencyStatus, len(h.checks))
	for _, check := range h.checks {
		st := h.ping(c.Request.Context(), check)
		if st.Status == statusUnhealthy {
			overall = statusDegraded
		}
		deps[check.Name] = st
	}

	// 從環境變數讀取版本，沒有則用預設值
	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	app := gin.H{"version": appVersion}
	if cfg := config.Get(); cfg != nil {
		app["name"] = cfg.App.Name
		app["debug"] = cfg.App.Debug
	}

	systemStatus := h.checkSystemResources()

	// 依賴不健康時仍回傳 200，狀態寫在 body 裡
	c.JSON(http.StatusOK, gin.H{
		"status":       overall,
		"timestamp":    time.Now().Unix(),
		"app":          app,
		"dependencies": deps,
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	})
}

func (h *Handler) ping(ctx context.Context, check Check) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check.Pinger.Ping(ctx)
	st := DependencyStatus{Status: statusHealthy, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		st.Status = statusUnhealthy
		st.Error = err.Error()
		logger.Error(ctx, fmt.Sprintf("健康檢查 - %s 連線失敗", check.Name), logger.WithError(err))
	}
	return st
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":  fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"sys":    fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc": m.NumGC,
		},
		"num_cpu": runtime.NumCPU(),
	}

	status := statusHealthy
	if m.Sys/memoryMB > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{Status: status, Details: details}
}

// 記錄服務啟動時間.
var startTime = time.Now()

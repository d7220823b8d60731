package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"chat-timeline/internal/platform/config"

	"github.com/google/uuid"
	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// Severity GCP Cloud Logging 嚴重級別
type Severity string

const (
	SeverityDebug    Severity = "DEBUG"
	SeverityInfo     Severity = "INFO"
	SeverityNotice   Severity = "NOTICE"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Entry GCP Cloud Logging 格式的日誌條目
type Entry struct {
	Severity       Severity          `json:"severity"`
	Message        string            `json:"message"`
	Timestamp      string            `json:"timestamp"`       // RFC3339Nano
	TraceID        string            `json:"trace,omitempty"` // projects/[PROJECT_ID]/traces/[TRACE_ID]
	SourceLocation *SourceLocation   `json:"sourceLocation,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	InsertID       string            `json:"insertId,omitempty"`
	// 聊天時間軸欄位
	UserID    string         `json:"userId,omitempty"`
	ChannelID string         `json:"channelId,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
	Action    string         `json:"action,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// SourceLocation 源代碼位置
type SourceLocation struct {
	File     string `json:"file,omitempty"`
	Line     int64  `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

type traceKey struct{}

var (
	mu          sync.Mutex
	fileWriter  io.Writer
	console     io.Writer = os.Stdout
	projectID             = "local-dev"
	serviceName           = "chat-timeline"
)

// InitLogger 初始化 GCP 格式日誌系統，檔案輸出依 log 配置輪轉
func InitLogger() error {
	logDir := os.Getenv("LOG_PATH")
	if logDir == "" {
		logDir = "./logs"
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		projectID = v
	}
	if v := os.Getenv("SERVICE_NAME"); v != "" {
		serviceName = v
	}

	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return fmt.Errorf("建立日誌目錄失敗: %w", err)
	}

	rotation, maxAge, maxSize := 24, 30, 100
	if cfg := config.Get(); cfg != nil {
		if cfg.Log.RotationTimeHours > 0 {
			rotation = cfg.Log.RotationTimeHours
		}
		if cfg.Log.MaxAgeDays > 0 {
			maxAge = cfg.Log.MaxAgeDays
		}
		if cfg.Log.MaxSizeMB > 0 {
			maxSize = cfg.Log.MaxSizeMB
		}
	}

	name := filepath.Join(logDir, serviceName+".log")
	w, err := rotatelogs.New(
		name+".%Y%m%d",
		rotatelogs.WithLinkName(name),
		rotatelogs.WithRotationTime(time.Duration(rotation)*time.Hour),
		rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
		rotatelogs.WithRotationSize(int64(maxSize)*1024*1024),
	)
	if err != nil {
		return fmt.Errorf("建立輪轉日誌失敗: %w", err)
	}

	mu.Lock()
	fileWriter = w
	mu.Unlock()
	return nil
}

// SetOutput 替換主控台輸出，主要用於測試與 CLI（CLI 把日誌導向 stderr）
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	console = w
}

// CloseLogger 關閉日誌檔案
func CloseLogger() {
	mu.Lock()
	defer mu.Unlock()
	if c, ok := fileWriter.(io.Closer); ok {
		if err := c.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "關閉日誌失敗: %v\n", err)
		}
	}
	fileWriter = nil
}

func write(entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "序列化日誌失敗: %v\n", err)
		return
	}
	data = append(data, '\n')

	mu.Lock()
	defer mu.Unlock()
	if fileWriter != nil {
		_, _ = fileWriter.Write(data)
	}
	if console != nil {
		_, _ = console.Write(data)
	}
}

func sourceLocation(skip int) *SourceLocation {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}
	fn := "unknown"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
	}
	return &SourceLocation{File: filepath.Base(file), Line: int64(line), Function: fn}
}

// NewTraceID 生成新的 trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID 將 trace ID 添加到 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID 從 context 取出原始 trace ID
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func formatTrace(ctx context.Context) string {
	id := TraceID(ctx)
	if id == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", projectID, id)
}

// Log 通用日誌方法
func Log(ctx context.Context, severity Severity, message string, opts ...Option) {
	logAt(ctx, 3, severity, message, opts...)
}

func logAt(ctx context.Context, skip int, severity Severity, message string, opts ...Option) {
	entry := &Entry{
		Severity:       severity,
		Message:        message,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:        formatTrace(ctx),
		SourceLocation: sourceLocation(skip),
		InsertID:       uuid.New().String(),
		Labels:         map[string]string{"service": serviceName},
	}
	for _, opt := range opts {
		opt(entry)
	}
	write(entry)
}

// Option 日誌選項
type Option func(*Entry)

// WithUserID 添加用戶 ID
func WithUserID(userID string) Option {
	return func(e *Entry) { e.UserID = userID }
}

// WithChannelID 添加頻道 ID
func WithChannelID(channelID string) Option {
	return func(e *Entry) { e.ChannelID = channelID }
}

// WithMessageID 添加訊息 ID
func WithMessageID(messageID string) Option {
	return func(e *Entry) { e.MessageID = messageID }
}

// WithAction 添加操作
func WithAction(action string) Option {
	return func(e *Entry) { e.Action = action }
}

// WithDetails 添加詳細信息
func WithDetails(details map[string]any) Option {
	return func(e *Entry) { e.Details = details }
}

// WithError 將錯誤文字放入 details.error
func WithError(err error) Option {
	return func(e *Entry) {
		if err == nil {
			return
		}
		if e.Details == nil {
			e.Details = make(map[string]any)
		}
		e.Details["error"] = err.Error()
	}
}

// WithLabels 添加標籤
func WithLabels(labels map[string]string) Option {
	return func(e *Entry) {
		if e.Labels == nil {
			e.Labels = make(map[string]string)
		}
		for k, v := range labels {
			e.Labels[k] = v
		}
	}
}

// Debug 記錄 DEBUG 級別日誌，僅在除錯模式輸出
func Debug(ctx context.Context, message string, opts ...Option) {
	if !config.IsDebug() {
		return
	}
	logAt(ctx, 3, SeverityDebug, message, opts...)
}

// Info 記錄 INFO 級別日誌
func Info(ctx context.Context, message string, opts ...Option) {
	logAt(ctx, 3, SeverityInfo, message, opts...)
}

// Notice 記錄 NOTICE 級別日誌
func Notice(ctx context.Context, message string, opts ...Option) {
	logAt(ctx, 3, SeverityNotice, message, opts...)
}

// Warning 記錄 WARNING 級別日誌
func Warning(ctx context.Context, message string, opts ...Option) {
	logAt(ctx, 3, SeverityWarning, message, opts...)
}

// Error 記錄 ERROR 級別日誌
func Error(ctx context.Context, message string, opts ...Option) {
	logAt(ctx, 3, SeverityError, message, opts...)
}

// Critical 記錄 CRITICAL 級別日誌
func Critical(ctx context.Context, message string, opts ...Option) {
	logAt(ctx, 3, SeverityCritical, message, opts...)
}

// Infof 格式化 INFO 日誌
func Infof(ctx context.Context, format string, args ...any) {
	logAt(ctx, 3, SeverityInfo, fmt.Sprintf(format, args...))
}

// Warningf 格式化 WARNING 日誌
func Warningf(ctx context.Context, format string, args ...any) {
	logAt(ctx, 3, SeverityWarning, fmt.Sprintf(format, args...))
}

// Errorf 格式化 ERROR 日誌
func Errorf(ctx context.Context, format string, args ...any) {
	logAt(ctx, 3, SeverityError, fmt.Sprintf(format, args...))
}

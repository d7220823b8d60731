// Package audit 記錄訊息異動的審計事件.
package audit

import (
	"context"

	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/middleware"
)

// 審計結果
const (
	ResultSuccess = "success"
	ResultDenied  = "denied"
)

// Event 審計事件
type Event struct {
	EventType string
	UserID    string
	ChannelID string
	MessageID string
	Action    string
	Result    string
	Details   map[string]any
}

// Service 審計服務，停用時所有方法都是 no-op.
type Service struct {
	enabled bool
}

// NewService 創建審計服務
func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// Enabled 檢查審計是否啟用
func (a *Service) Enabled() bool {
	return a != nil && a.enabled
}

// MessageSent 記錄訊息發送；dedupe 為 true 表示 clientId 重送
func (a *Service) MessageSent(ctx context.Context, userID, channelID, messageID string, dedupe bool) {
	a.Record(ctx, Event{
		EventType: "message_sent",
		UserID:    userID,
		ChannelID: channelID,
		MessageID: messageID,
		Action:    "send_message",
		Result:    ResultSuccess,
		Details:   map[string]any{"dedupe": dedupe},
	})
}

// MessageEdited 記錄訊息修改
func (a *Service) MessageEdited(ctx context.Context, userID, channelID, messageID string) {
	a.Record(ctx, Event{
		EventType: "data_modification",
		UserID:    userID,
		ChannelID: channelID,
		MessageID: messageID,
		Action:    "update_message",
		Result:    ResultSuccess,
	})
}

// MessageDeleted 記錄訊息刪除
func (a *Service) MessageDeleted(ctx context.Context, userID, channelID, messageID string) {
	a.Record(ctx, Event{
		EventType: "data_modification",
		UserID:    userID,
		ChannelID: channelID,
		MessageID: messageID,
		Action:    "delete_message",
		Result:    ResultSuccess,
	})
}

// AccessDenied 記錄非作者的修改或刪除嘗試
func (a *Service) AccessDenied(ctx context.Context, userID, channelID, messageID, action string) {
	a.Record(ctx, Event{
		EventType: "access_denied",
		UserID:    userID,
		ChannelID: channelID,
		MessageID: messageID,
		Action:    action,
		Result:    ResultDenied,
		Details:   map[string]any{"reason": "not_author"},
	})
}

// Record 以 NOTICE 級別寫入審計事件，附上請求的 IP 與 User-Agent
func (a *Service) Record(ctx context.Context, event Event) {
	if !a.Enabled() {
		return
	}

	details := map[string]any{
		"event_type": event.EventType,
		"result":     event.Result,
	}
	for k, v := range event.Details {
		details[k] = v
	}
	if meta := middleware.GetRequestMetadata(ctx); meta != nil {
		details["ip_address"] = meta.IPAddress
		details["user_agent"] = meta.UserAgent
		details["request_id"] = meta.RequestID
	}

	logger.Notice(ctx, "[AUDIT] "+event.EventType,
		logger.WithUserID(event.UserID),
		logger.WithChannelID(event.ChannelID),
		logger.WithMessageID(event.MessageID),
		logger.WithAction(event.Action),
		logger.WithDetails(details),
		logger.WithLabels(map[string]string{"log_type": "audit"}),
	)
}

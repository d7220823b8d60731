// Package message 是訊息的服務層：驗證、加密、持久化並透過 relay 推送事件.
//
// HTTP handler 與 gRPC 服務都經由 Service 操作訊息.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/metrics"
	"chat-timeline/internal/platform/middleware"
	"chat-timeline/internal/relay"
	"chat-timeline/internal/security/audit"
	"chat-timeline/internal/security/encryption"
	store "chat-timeline/internal/storage/database/message"
	"chat-timeline/internal/timeline"
)

// 服務層錯誤
var (
	ErrInvalidRequest  = errors.New("message: invalid request")
	ErrUnauthenticated = errors.New("message: missing user identity")
	ErrForbidden       = errors.New("message: not the author")
	ErrNotFound        = store.ErrNotFound
)

// Service 訊息服務.
type Service struct {
	repo   store.Repository
	relay  relay.Relay
	sealer *encryption.Sealer
	audit  *audit.Service
}

// Option 服務選項.
type Option func(*Service)

// WithAudit 啟用訊息異動的審計記錄.
func WithAudit(a *audit.Service) Option {
	return func(s *Service) { s.audit = a }
}

// NewService 建立訊息服務；sealer 為 nil 時以明文儲存.
func NewService(repo store.Repository, rl relay.Relay, sealer *encryption.Sealer, opts ...Option) (*Service, error) {
	if repo == nil || rl == nil {
		return nil, errors.New("message: repository and relay are required")
	}
	if sealer == nil {
		s, err := encryption.NewSealer(false, nil)
		if err != nil {
			return nil, err
		}
		sealer = s
	}
	svc := &Service{repo: repo, relay: rl, sealer: sealer}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
}

// List 依 CreatedAt 升冪列出頻道訊息.
func (s *Service) List(ctx context.Context, req ListMessagesRequest) ([]*store.Record, error) {
	if err := ValidateListMessagesRequest(&req); err != nil {
		return nil, invalid(err)
	}
	recs, err := s.repo.ListByChannel(ctx, store.ListQuery{ChannelID: req.ChannelID, Since: req.Since, Limit: req.Limit})
	if err != nil {
		return nil, fmt.Errorf("查詢訊息失敗: %w", err)
	}
	for _, rec := range recs {
		s.open(ctx, rec)
	}
	return recs, nil
}

// FetchMessages 實作 timeline.Fetcher，讓伺服器端也能組出時間軸.
func (s *Service) FetchMessages(ctx context.Context, channelID string, since time.Time) ([]timeline.Raw, error) {
	recs, err := s.List(ctx, ListMessagesRequest{ChannelID: channelID, Since: since})
	if err != nil {
		return nil, err
	}
	raws := make([]timeline.Raw, 0, len(recs))
	for _, rec := range recs {
		raws = append(raws, rec.Raw())
	}
	return raws, nil
}

// Timeline 以 Normalizer、Reconciler、Grouper 組出頻道目前的顯示分組.
func (s *Service) Timeline(ctx context.Context, channelID string, normalizer *timeline.Normalizer, grouper timeline.Grouper) ([]timeline.RenderGroup, error) {
	raws, err := s.FetchMessages(ctx, channelID, time.Time{})
	if err != nil {
		return nil, err
	}
	if normalizer == nil {
		normalizer = timeline.NewNormalizer()
	}
	set := timeline.NewSet(normalizer.NormalizeAll(raws)...)
	return grouper.Group(set.Messages()), nil
}

// Send 持久化一則訊息並推送 new-message；相同 clientId 的重送回傳既有紀錄且不重複推送.
func (s *Service) Send(ctx context.Context, req SendMessageRequest) (*store.Record, error) {
	user := middleware.UserFromContext(ctx)
	if user == nil {
		return nil, ErrUnauthenticated
	}
	req.Content = middleware.SanitizeInput(req.Content)
	if err := ValidateSendMessageRequest(&req); err != nil {
		return nil, invalid(err)
	}

	sealed, err := s.sealer.Seal(req.ChannelID, req.Content)
	if err != nil {
		return nil, fmt.Errorf("加密訊息失敗: %w", err)
	}
	rec, created, err := s.repo.Create(ctx, &store.Record{
		ChannelID:   req.ChannelID,
		AuthorID:    user.ID,
		AuthorName:  user.Name,
		AuthorImage: user.Image,
		Content:     sealed,
		ClientID:    req.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("儲存訊息失敗: %w", err)
	}
	s.open(ctx, rec)
	s.audit.MessageSent(ctx, user.ID, rec.ChannelID, rec.ID, !created)

	if !created {
		metrics.MessagesPersisted.WithLabelValues("dedupe").Inc()
		logger.Info(ctx, "重複的 clientId，回傳既有訊息",
			logger.WithChannelID(rec.ChannelID),
			logger.WithMessageID(rec.ID),
			logger.WithUserID(user.ID),
			logger.WithDetails(map[string]any{"client_id": req.ClientID}))
		return rec, nil
	}
	metrics.MessagesPersisted.WithLabelValues("create").Inc()
	s.publish(ctx, rec.ChannelID, constants.EventNewMessage, rec.Raw())
	return rec, nil
}

// Update 修改自己的訊息內容並推送 message-updated.
func (s *Service) Update(ctx context.Context, req UpdateMessageRequest) (*store.Record, error) {
	user := middleware.UserFromContext(ctx)
	if user == nil {
		return nil, ErrUnauthenticated
	}
	req.Content = middleware.SanitizeInput(req.Content)
	if err := ValidateUpdateMessageRequest(&req); err != nil {
		return nil, invalid(err)
	}

	cur, err := s.authored(ctx, user, req.ID, "update_message")
	if err != nil {
		return nil, err
	}
	sealed, err := s.sealer.Seal(cur.ChannelID, req.Content)
	if err != nil {
		return nil, fmt.Errorf("加密訊息失敗: %w", err)
	}
	rec, err := s.repo.UpdateContent(ctx, req.ID, sealed)
	if err != nil {
		return nil, fmt.Errorf("更新訊息失敗: %w", err)
	}
	s.open(ctx, rec)

	s.audit.MessageEdited(ctx, user.ID, rec.ChannelID, rec.ID)
	metrics.MessagesPersisted.WithLabelValues("update").Inc()
	s.publish(ctx, rec.ChannelID, constants.EventMessageUpdated, rec.Raw())
	return rec, nil
}

// Delete 刪除自己的訊息並推送 message-deleted.
func (s *Service) Delete(ctx context.Context, id string) (*store.Record, error) {
	user := middleware.UserFromContext(ctx)
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(id) == "" {
		return nil, invalid(errors.New("訊息 ID 不能為空"))
	}

	if _, err := s.authored(ctx, user, id, "delete_message"); err != nil {
		return nil, err
	}
	rec, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("刪除訊息失敗: %w", err)
	}
	s.open(ctx, rec)

	s.audit.MessageDeleted(ctx, user.ID, rec.ChannelID, rec.ID)
	metrics.MessagesPersisted.WithLabelValues("delete").Inc()
	s.publish(ctx, rec.ChannelID, constants.EventMessageDeleted, DeletedEvent(rec))
	return rec, nil
}

// Subscribe 訂閱頻道事件；channelID 是訊息的頻道 ID，不是 relay 頻道名稱.
func (s *Service) Subscribe(ctx context.Context, channelID, event string, handler func(timeline.Raw)) (timeline.Subscription, error) {
	return s.relay.Subscribe(ctx, timeline.RelayChannel(channelID), event, handler)
}

// Ping 檢查儲存層連線.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// DeletedEvent message-deleted 事件內容.
func DeletedEvent(rec *store.Record) timeline.Raw {
	return timeline.Raw{"id": rec.ID, "channelId": rec.ChannelID, "deleted": true}
}

func (s *Service) authored(ctx context.Context, user *timeline.User, id, action string) (*store.Record, error) {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("查詢訊息失敗: %w", err)
	}
	if cur.AuthorID != user.ID {
		logger.Warning(ctx, "非作者嘗試修改訊息",
			logger.WithChannelID(cur.ChannelID),
			logger.WithMessageID(cur.ID),
			logger.WithUserID(user.ID))
		s.audit.AccessDenied(ctx, user.ID, cur.ChannelID, cur.ID, action)
		return nil, ErrForbidden
	}
	return cur, nil
}

// open 就地解密內容；失敗時以替代文字顯示，不中斷整批查詢
func (s *Service) open(ctx context.Context, rec *store.Record) {
	plain, err := s.sealer.Open(rec.ChannelID, rec.Content)
	if err != nil {
		logger.Error(ctx, "解密訊息失敗",
			logger.WithChannelID(rec.ChannelID),
			logger.WithMessageID(rec.ID),
			logger.WithError(err))
		rec.Content = DecryptFailedText
		return
	}
	rec.Content = plain
}

// publish 推送失敗只記錄，訊息已經持久化，訂閱者會在下一次輪詢補上
func (s *Service) publish(ctx context.Context, channelID, event string, data timeline.Raw) {
	if err := s.relay.Publish(ctx, timeline.RelayChannel(channelID), event, data); err != nil {
		logger.Error(ctx, "推送事件失敗",
			logger.WithChannelID(channelID),
			logger.WithAction(event),
			logger.WithError(err))
	}
}

package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/metrics"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

// ledger 是 Sender 寫回集合的唯一途徑，由 Session 實作.
//
// enqueue 與 markPending 成功時已替背景送出呼叫 wg.Add.
type ledger interface {
	apply(source string, msgs ...Message) bool
	enqueue(msg Message) bool
	markFailed(clientID string, cause error)
	markPending(clientID string) (Message, bool)
}

// Sender 樂觀送出：立即插入等待中的訊息，背景持久化後再以權威副本取代.
type Sender struct {
	channelID  string
	ledger     ledger
	persister  Persister
	identity   Identity
	normalizer *Normalizer
	limiter    *rate.Limiter
	now        func() time.Time

	// ctx 綁定 Session 生命週期，背景持久化使用
	ctx context.Context
	wg  sync.WaitGroup
}

// NewClientID 產生暫存 ID（local- 前綴 + ULID）.
func NewClientID() string {
	return constants.ClientIDPrefix + ulid.Make().String()
}

// Send 建立等待中的訊息並立即插入集合，持久化在背景進行.
func (s *Sender) Send(ctx context.Context, content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, ErrEmptyContent
	}
	if s.persister == nil {
		return Message{}, errors.New("timeline: persister is not configured")
	}
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.SendsTotal.WithLabelValues("throttled").Inc()
		metrics.RateLimitHits.WithLabelValues("send").Inc()
		return Message{}, ErrSendThrottled
	}
	if s.identity == nil {
		return Message{}, ErrNoIdentity
	}

	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("取得目前使用者失敗: %w", err)
	}
	if user == nil {
		return Message{}, ErrNoIdentity
	}

	now := s.now()
	id := NewClientID()
	msg := Message{
		ID:          id,
		ClientID:    id,
		ChannelID:   s.channelID,
		AuthorID:    user.ID,
		AuthorName:  user.Name,
		AuthorImage: user.Image,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      StatusPending,
	}
	if msg.AuthorName == "" {
		msg.AuthorName = s.normalizer.anonymous()
	}
	if msg.AuthorImage == "" {
		msg.AuthorImage = s.normalizer.avatar()
	}

	if !s.ledger.enqueue(msg) {
		return Message{}, ErrSessionClosed
	}
	s.dispatch(msg)
	return msg, nil
}

// Retry 以相同 ClientID 重新送出失敗的訊息，伺服器依 ClientID 去重.
func (s *Sender) Retry(ctx context.Context, clientID string) (Message, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		metrics.SendsTotal.WithLabelValues("throttled").Inc()
		metrics.RateLimitHits.WithLabelValues("send").Inc()
		return Message{}, ErrSendThrottled
	}
	msg, ok := s.ledger.markPending(clientID)
	if !ok {
		return Message{}, ErrNotRetryable
	}
	logger.Info(ctx, "重新送出訊息",
		logger.WithChannelID(s.channelID),
		logger.WithMessageID(clientID),
		logger.WithAction("retry"))
	s.dispatch(msg)
	return msg, nil
}

// Wait 等待所有背景持久化結束.
func (s *Sender) Wait() {
	s.wg.Wait()
}

// dispatch 呼叫前 ledger 已完成 wg.Add
func (s *Sender) dispatch(msg Message) {
	go func() {
		defer s.wg.Done()

		raw, err := s.persister.PersistMessage(s.ctx, PersistRequest{
			ChannelID: msg.ChannelID,
			Content:   msg.Content,
			ClientID:  msg.ClientID,
		})
		if err != nil {
			metrics.SendsTotal.WithLabelValues("failed").Inc()
			logger.Warning(s.ctx, "訊息送出失敗",
				logger.WithChannelID(msg.ChannelID),
				logger.WithMessageID(msg.ClientID),
				logger.WithUserID(msg.AuthorID),
				logger.WithError(err))
			s.ledger.markFailed(msg.ClientID, err)
			return
		}

		confirmed := s.normalizer.Normalize(raw)
		if confirmed.ClientID == "" {
			confirmed.ClientID = msg.ClientID
		}
		if confirmed.ChannelID == "" {
			confirmed.ChannelID = msg.ChannelID
		}
		metrics.SendsTotal.WithLabelValues("confirmed").Inc()
		s.ledger.apply("send", confirmed)
	}()
}

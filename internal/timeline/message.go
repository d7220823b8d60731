// Package timeline 合併、排序並分組聊天訊息.
//
// 三個來源會寫入同一個頻道的訊息集合：初次載入、定期輪詢以及即時推送，
// 另外本地樂觀送出的訊息也走相同的合併路徑。所有來源都必須經過 Set.Merge，
// 讓重複或亂序的事件不會破壞畫面上的對話紀錄。
package timeline

import (
	"context"
	"errors"
	"time"
)

// Status 訊息確認狀態.
type Status string

const (
	// StatusConfirmed 已由伺服器持久化的權威副本.
	StatusConfirmed Status = "confirmed"
	// StatusPending 本地樂觀插入，等待伺服器確認.
	StatusPending Status = "pending"
	// StatusFailed 持久化失敗，保留在畫面上等待重試.
	StatusFailed Status = "failed"
)

// Message 正規化後的聊天訊息.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	AuthorImage string
	Content     string
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// ClientID 樂觀送出時產生的暫存 ID，伺服器會原樣回傳
	ClientID string
	Status   Status
	// Err 最近一次送出失敗的原因
	Err string
	// Degraded 正規化時被替換的欄位
	Degraded []string
}

// Optimistic 是否為尚未確認的本地副本.
func (m Message) Optimistic() bool {
	return m.Status == StatusPending || m.Status == StatusFailed
}

// Raw 未經處理的訊息紀錄（JSON 形式）.
type Raw = map[string]any

// User 目前登入的使用者.
type User struct {
	ID    string
	Name  string
	Image string
}

// PersistRequest 送出訊息的持久化請求.
type PersistRequest struct {
	ChannelID string
	Content   string
	ClientID  string
}

// Fetcher 取得頻道訊息，回傳順序不保證.
type Fetcher interface {
	FetchMessages(ctx context.Context, channelID string, since time.Time) ([]Raw, error)
}

// Persister 持久化一則訊息並回傳伺服器紀錄.
type Persister interface {
	PersistMessage(ctx context.Context, req PersistRequest) (Raw, error)
}

// Subscription 推送訂閱，Unsubscribe 可重複呼叫.
type Subscription interface {
	Unsubscribe()
}

// Subscriber 訂閱推送事件.
type Subscriber interface {
	Subscribe(ctx context.Context, channelName, eventName string, handler func(Raw)) (Subscription, error)
}

// Identity 取得目前使用者，沒有登入時回傳 nil.
type Identity interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// IdentityFunc 讓函式實作 Identity.
type IdentityFunc func(ctx context.Context) (*User, error)

// CurrentUser 實作 Identity.
func (f IdentityFunc) CurrentUser(ctx context.Context) (*User, error) {
	return f(ctx)
}

var (
	ErrSendThrottled = errors.New("timeline: send throttled")
	ErrNoIdentity    = errors.New("timeline: no current user")
	ErrSessionClosed = errors.New("timeline: session closed")
	ErrEmptyContent  = errors.New("timeline: empty content")
	ErrNotRetryable  = errors.New("timeline: message is not a failed send")
)

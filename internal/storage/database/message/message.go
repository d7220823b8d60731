package message

import (
	"context"
	"errors"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/timeline"
)

// ErrNotFound 訊息不存在.
var ErrNotFound = errors.New("message: not found")

// Repository 訊息倉儲接口.
type Repository interface {
	// Create 建立訊息；同一頻道已有相同 ClientID 時回傳既有紀錄且 created 為 false
	Create(ctx context.Context, rec *Record) (stored *Record, created bool, err error)
	GetByID(ctx context.Context, id string) (*Record, error)
	ListByChannel(ctx context.Context, q ListQuery) ([]*Record, error)
	UpdateContent(ctx context.Context, id, content string) (*Record, error)
	// Delete 刪除並回傳被刪除的紀錄
	Delete(ctx context.Context, id string) (*Record, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Record 持久化的訊息紀錄.
type Record struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName,omitempty"`
	AuthorImage string    `json:"authorImage,omitempty"`
	Content     string    `json:"content"`
	ClientID    string    `json:"clientId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Raw 轉成 timeline 可正規化的紀錄.
func (r *Record) Raw() timeline.Raw {
	raw := timeline.Raw{
		"id":        r.ID,
		"channelId": r.ChannelID,
		"authorId":  r.AuthorID,
		"content":   r.Content,
		"createdAt": r.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt": r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if r.AuthorName != "" {
		raw["authorName"] = r.AuthorName
	}
	if r.AuthorImage != "" {
		raw["authorImage"] = r.AuthorImage
	}
	if r.ClientID != "" {
		raw["clientId"] = r.ClientID
	}
	return raw
}

// ListQuery 頻道訊息查詢.
//
// Since 為零值時回傳最新的 Limit 筆；否則回傳 CreatedAt >= Since 最早的 Limit 筆.
// 結果一律依 CreatedAt 升冪.
type ListQuery struct {
	ChannelID string
	Since     time.Time
	Limit     int
}

// clampLimit 依配置限制分頁大小
func clampLimit(limit int) int {
	defaultLimit := constants.DefaultPageSize
	maxLimit := constants.DefaultMaxPageSize
	if cfg := config.Get(); cfg != nil {
		if cfg.Limits.Pagination.DefaultPageSize > 0 {
			defaultLimit = cfg.Limits.Pagination.DefaultPageSize
		}
		if cfg.Limits.Pagination.MaxPageSize > 0 {
			maxLimit = cfg.Limits.Pagination.MaxPageSize
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// reverse 最新 N 筆以降冪查出後轉回升冪
func reverse(recs []*Record) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

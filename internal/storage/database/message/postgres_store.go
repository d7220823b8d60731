package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	channel_id   TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	author_name  TEXT NOT NULL DEFAULT '',
	author_image TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	client_id    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_channel_time_idx ON messages (channel_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS messages_channel_client_idx ON messages (channel_id, client_id) WHERE client_id <> '';
`

const selectColumns = `id, channel_id, author_id, author_name, author_image, content, client_id, created_at, updated_at`

// PostgresStore PostgreSQL 訊息存儲實作.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 以連線池建立存儲.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema 建立資料表與索引.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("建立訊息資料表失敗: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	err := row.Scan(
		&rec.ID,
		&rec.ChannelID,
		&rec.AuthorID,
		&rec.AuthorName,
		&rec.AuthorImage,
		&rec.Content,
		&rec.ClientID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Create 建立訊息，(channel_id, client_id) 衝突時回傳既有紀錄.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) (*Record, bool, error) {
	now := time.Now().UTC()
	stored, err := scanRecord(s.pool.QueryRow(ctx, `
		INSERT INTO messages (id, channel_id, author_id, author_name, author_image, content, client_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (channel_id, client_id) WHERE client_id <> '' DO NOTHING
		RETURNING `+selectColumns,
		uuid.NewString(), rec.ChannelID, rec.AuthorID, rec.AuthorName, rec.AuthorImage, rec.Content, rec.ClientID, now,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("寫入訊息失敗: %w", err)
	}

	// DO NOTHING 不回傳資料列，代表是重送
	existing, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM messages WHERE channel_id = $1 AND client_id = $2`,
		rec.ChannelID, rec.ClientID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("查詢重送訊息失敗: %w", err)
	}
	return existing, false, nil
}

// GetByID 根據 ID 獲取訊息.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM messages WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("查詢訊息失敗: %w", err)
	}
	return rec, err
}

// ListByChannel 列出頻道訊息（升冪）.
func (s *PostgresStore) ListByChannel(ctx context.Context, q ListQuery) ([]*Record, error) {
	limit := clampLimit(q.Limit)

	var (
		rows pgx.Rows
		err  error
	)
	if q.Since.IsZero() {
		rows, err = s.pool.Query(ctx, `
			SELECT `+selectColumns+` FROM messages
			WHERE channel_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, q.ChannelID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+selectColumns+` FROM messages
			WHERE channel_id = $1 AND created_at >= $2
			ORDER BY created_at ASC, id ASC
			LIMIT $3`, q.ChannelID, q.Since.UTC(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("查詢頻道訊息失敗: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("解析訊息失敗: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("讀取訊息失敗: %w", err)
	}

	if q.Since.IsZero() {
		reverse(recs)
	}
	return recs, nil
}

// UpdateContent 更新訊息內容.
func (s *PostgresStore) UpdateContent(ctx context.Context, id, content string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		UPDATE messages SET content = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+selectColumns, id, content, time.Now().UTC()))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("更新訊息失敗: %w", err)
	}
	return rec, err
}

// Delete 刪除訊息.
func (s *PostgresStore) Delete(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `DELETE FROM messages WHERE id = $1 RETURNING `+selectColumns, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("刪除訊息失敗: %w", err)
	}
	return rec, err
}

// Ping 檢查資料庫連線.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 關閉連線池.
func (s *PostgresStore) Close(context.Context) error {
	s.pool.Close()
	return nil
}

package message

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore 單機記憶體存儲，用於本地開發與測試.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	// Now 可替換的時鐘
	Now func() time.Time
}

// NewMemoryStore 建立空的記憶體存儲.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), Now: time.Now}
}

func clone(r *Record) *Record {
	cp := *r
	return &cp
}

// Create 建立訊息，依 (ChannelID, ClientID) 去重.
func (s *MemoryStore) Create(_ context.Context, rec *Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ClientID != "" {
		for _, r := range s.records {
			if r.ChannelID == rec.ChannelID && r.ClientID == rec.ClientID {
				return clone(r), false, nil
			}
		}
	}

	now := s.Now().UTC()
	stored := clone(rec)
	stored.ID = uuid.NewString()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.records[stored.ID] = stored
	return clone(stored), true, nil
}

// GetByID 根據 ID 獲取訊息.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(r), nil
}

// ListByChannel 列出頻道訊息（升冪）.
func (s *MemoryStore) ListByChannel(_ context.Context, q ListQuery) ([]*Record, error) {
	limit := clampLimit(q.Limit)

	s.mu.RLock()
	var recs []*Record
	for _, r := range s.records {
		if r.ChannelID != q.ChannelID {
			continue
		}
		if !q.Since.IsZero() && r.CreatedAt.Before(q.Since) {
			continue
		}
		recs = append(recs, clone(r))
	}
	s.mu.RUnlock()

	slices.SortFunc(recs, func(a, b *Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if len(recs) > limit {
		if q.Since.IsZero() {
			recs = recs[len(recs)-limit:]
		} else {
			recs = recs[:limit]
		}
	}
	return recs, nil
}

// UpdateContent 更新訊息內容.
func (s *MemoryStore) UpdateContent(_ context.Context, id, content string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Content = content
	r.UpdatedAt = s.Now().UTC()
	return clone(r), nil
}

// Delete 刪除訊息.
func (s *MemoryStore) Delete(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.records, id)
	return r, nil
}

// Ping 永遠成功.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 無需釋放資源.
func (s *MemoryStore) Close(context.Context) error { return nil }

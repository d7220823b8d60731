package timeline

import (
	"context"
	"fmt"
	"sync"
)

// Conversations 管理目前開啟的對話，切換時先關閉舊的 Session 再訂閱新的.
type Conversations struct {
	base Options

	mu      sync.Mutex
	current *Session
}

// NewConversations 以共用的依賴建立管理器，base.ChannelID 會被忽略.
func NewConversations(base Options) *Conversations {
	return &Conversations{base: base}
}

// Open 關閉目前的對話並開啟 channelID.
func (c *Conversations) Open(ctx context.Context, channelID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		if c.current.ChannelID() == channelID {
			return c.current, nil
		}
		c.current.Close()
		c.current = nil
	}

	opts := c.base
	opts.ChannelID = channelID
	s, err := NewSession(opts)
	if err != nil {
		return nil, fmt.Errorf("建立對話失敗: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("啟動對話失敗: %w", err)
	}
	c.current = s
	return s, nil
}

// Current 目前開啟的對話，沒有時回傳 nil.
func (c *Conversations) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Close 關閉目前的對話.
func (c *Conversations) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Close()
		c.current = nil
	}
}

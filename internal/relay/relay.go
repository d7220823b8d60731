// Package relay 提供頻道事件的發佈與訂閱（Redis pub/sub 或單機記憶體）.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/metrics"
	"chat-timeline/internal/timeline"

	"github.com/redis/go-redis/v9"
)

// ErrClosed relay 已關閉.
var ErrClosed = errors.New("relay: closed")

// Relay 發佈與訂閱頻道事件，同時實作 timeline.Subscriber.
type Relay interface {
	Publish(ctx context.Context, channel, event string, data timeline.Raw) error
	Subscribe(ctx context.Context, channel, event string, handler func(timeline.Raw)) (timeline.Subscription, error)
	Close() error
}

// Envelope relay 上傳輸的事件格式.
type Envelope struct {
	Event string       `json:"event"`
	Data  timeline.Raw `json:"data"`
}

func encode(event string, data timeline.Raw) ([]byte, error) {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("序列化事件失敗: %w", err)
	}
	return b, nil
}

func decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("解析事件失敗: %w", err)
	}
	return env, nil
}

type handlerEntry struct {
	event   string
	handler func(timeline.Raw)
}

// registry 依頻道分派事件給訂閱者
type registry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]handlerEntry
	closed bool

	// onFirst / onLast 在頻道第一個訂閱加入與最後一個移除時呼叫（持有鎖）
	onFirst func(channel string) error
	onLast  func(channel string)
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]map[uint64]handlerEntry)}
}

func (r *registry) add(channel, event string, h func(timeline.Raw)) (*subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	handlers, ok := r.subs[channel]
	if !ok {
		if r.onFirst != nil {
			if err := r.onFirst(channel); err != nil {
				return nil, err
			}
		}
		handlers = make(map[uint64]handlerEntry)
		r.subs[channel] = handlers
	}
	r.nextID++
	id := r.nextID
	handlers[id] = handlerEntry{event: event, handler: h}
	return &subscription{registry: r, channel: channel, id: id}, nil
}

func (r *registry) remove(channel string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handlers, ok := r.subs[channel]
	if !ok {
		return
	}
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(r.subs, channel)
		if r.onLast != nil && !r.closed {
			r.onLast(channel)
		}
	}
}

// dispatch 在鎖外呼叫 handler，handler 可以安全地取消訂閱
func (r *registry) dispatch(channel string, env Envelope) int {
	r.mu.RLock()
	var matched []func(timeline.Raw)
	for _, e := range r.subs[channel] {
		if e.event == env.Event {
			matched = append(matched, e.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range matched {
		h(env.Data)
	}
	return len(matched)
}

func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.subs = make(map[string]map[uint64]handlerEntry)
}

func (r *registry) count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[channel])
}

type subscription struct {
	registry *registry
	channel  string
	id       uint64
	once     sync.Once
}

// Unsubscribe 可重複呼叫.
func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.registry.remove(s.channel, s.id)
	})
}

// Open 依配置建立 relay.
func Open(ctx context.Context, cfg config.RelayConfig) (Relay, error) {
	switch cfg.Driver {
	case config.RelayRedis:
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("解析 Redis URL 失敗: %w", err)
		}
		r, err := NewRedisRelay(ctx, redis.NewClient(opts))
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.RelayMemory, "":
		return NewMemoryRelay(), nil
	}
	return nil, fmt.Errorf("不支援的 relay 驅動: %q", cfg.Driver)
}

// MemoryRelay 單機 relay，Publish 同步呼叫訂閱者.
type MemoryRelay struct {
	reg *registry
}

// NewMemoryRelay 建立記憶體 relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{reg: newRegistry()}
}

// Publish 發佈事件；資料會經過 JSON 往返，與 Redis 行為一致.
func (m *MemoryRelay) Publish(_ context.Context, channel, event string, data timeline.Raw) error {
	payload, err := encode(event, data)
	if err != nil {
		return err
	}
	env, err := decode(payload)
	if err != nil {
		return err
	}
	m.reg.mu.RLock()
	closed := m.reg.closed
	m.reg.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	m.reg.dispatch(channel, env)
	metrics.RelayPublished.WithLabelValues(event).Inc()
	return nil
}

// Subscribe 訂閱頻道上的單一事件.
func (m *MemoryRelay) Subscribe(_ context.Context, channel, event string, handler func(timeline.Raw)) (timeline.Subscription, error) {
	sub, err := m.reg.add(channel, event, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Subscribers 頻道目前的訂閱數.
func (m *MemoryRelay) Subscribers(channel string) int {
	return m.reg.count(channel)
}

// Close 移除所有訂閱.
func (m *MemoryRelay) Close() error {
	m.reg.close()
	return nil
}

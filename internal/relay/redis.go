package relay

import (
	"context"
	"fmt"
	"sync"

	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/metrics"
	"chat-timeline/internal/timeline"

	"github.com/redis/go-redis/v9"
)

// RedisRelay 以 Redis pub/sub 在多個節點間轉發事件.
//
// 所有訂閱共用一條 PubSub 連線，頻道第一個訂閱者加入時才向 Redis 訂閱.
type RedisRelay struct {
	client *redis.Client
	pubsub *redis.PubSub
	reg    *registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisRelay 連線 Redis 並啟動事件分派.
func NewRedisRelay(ctx context.Context, client *redis.Client) (*RedisRelay, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 連線失敗: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &RedisRelay{
		client: client,
		pubsub: client.Subscribe(runCtx),
		reg:    newRegistry(),
		ctx:    runCtx,
		cancel: cancel,
	}
	r.reg.onFirst = func(channel string) error {
		if err := r.pubsub.Subscribe(r.ctx, channel); err != nil {
			return fmt.Errorf("訂閱 Redis 頻道 %s 失敗: %w", channel, err)
		}
		return nil
	}
	r.reg.onLast = func(channel string) {
		if err := r.pubsub.Unsubscribe(r.ctx, channel); err != nil {
			logger.Warning(r.ctx, "取消訂閱 Redis 頻道失敗",
				logger.WithChannelID(channel),
				logger.WithError(err))
		}
	}

	r.wg.Add(1)
	go r.run()
	return r, nil
}

func (r *RedisRelay) run() {
	defer r.wg.Done()

	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				logger.Warning(r.ctx, "忽略無法解析的 relay 事件",
					logger.WithChannelID(msg.Channel),
					logger.WithError(err))
				continue
			}
			r.reg.dispatch(msg.Channel, env)
		}
	}
}

// Publish 發佈事件到 Redis 頻道.
func (r *RedisRelay) Publish(ctx context.Context, channel, event string, data timeline.Raw) error {
	payload, err := encode(event, data)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("發佈事件失敗: %w", err)
	}
	metrics.RelayPublished.WithLabelValues(event).Inc()
	return nil
}

// Subscribe 訂閱頻道上的單一事件.
func (r *RedisRelay) Subscribe(_ context.Context, channel, event string, handler func(timeline.Raw)) (timeline.Subscription, error) {
	sub, err := r.reg.add(channel, event, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Ping 檢查 Redis 連線.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 停止分派並關閉 PubSub 與 client.
func (r *RedisRelay) Close() error {
	r.reg.close()
	r.cancel()
	err := r.pubsub.Close()
	r.wg.Wait()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("關閉 Redis relay 失敗: %w", err)
	}
	return nil
}

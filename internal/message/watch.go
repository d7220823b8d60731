package message

import (
	"context"
	"fmt"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/middleware"
	"chat-timeline/internal/timeline"
)

// Events 推送的事件種類.
var Events = []string{constants.EventNewMessage, constants.EventMessageUpdated, constants.EventMessageDeleted}

// StreamEvent 推送給串流連線的事件.
type StreamEvent struct {
	Event string
	Data  timeline.Raw
}

// Watch 訂閱頻道事件並轉送到緩衝 channel，events 為空時訂閱全部.
//
// 緩衝已滿時丟棄事件並記錄；客戶端靠輪詢補回遺漏的訊息.
// 呼叫 stop 取消訂閱，之後不會再有事件寫入（channel 不會被關閉）.
func (s *Service) Watch(ctx context.Context, channelID string, events ...string) (<-chan StreamEvent, func(), error) {
	if err := middleware.ValidateChannelID(channelID); err != nil {
		return nil, nil, invalid(err)
	}
	if len(events) == 0 {
		events = Events
	}
	for _, e := range events {
		if !knownEvent(e) {
			return nil, nil, invalid(fmt.Errorf("未知的事件: %s", e))
		}
	}

	buffer := constants.MessageChannelBuffer
	if cfg := config.Get(); cfg != nil && cfg.Limits.SSE.MessageChannelBuffer > 0 {
		buffer = cfg.Limits.SSE.MessageChannelBuffer
	}
	out := make(chan StreamEvent, buffer)

	var subs []timeline.Subscription
	stop := func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
	for _, event := range events {
		sub, err := s.Subscribe(ctx, channelID, event, func(data timeline.Raw) {
			select {
			case out <- StreamEvent{Event: event, Data: data}:
			default:
				logger.Warning(ctx, "串流緩衝已滿，丟棄事件",
					logger.WithChannelID(channelID),
					logger.WithAction(event))
			}
		})
		if err != nil {
			stop()
			return nil, nil, fmt.Errorf("訂閱 %s 失敗: %w", event, err)
		}
		subs = append(subs, sub)
	}
	return out, stop, nil
}

func knownEvent(event string) bool {
	for _, e := range Events {
		if e == event {
			return true
		}
	}
	return false
}

package server

import (
	"errors"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/httputil"
	"chat-timeline/internal/message"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/metrics"

	"github.com/gin-gonic/gin"
)

// streamMessages 使用 SSE 推送頻道事件；?event= 可重複指定，省略時推送全部
func streamMessages(svc *message.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		channelID := c.Param("channel_id")

		events, stop, err := svc.Watch(ctx, channelID, c.QueryArray("event")...)
		if err != nil {
			if errors.Is(err, message.ErrInvalidRequest) {
				httputil.BadRequest(c, err.Error())
				return
			}
			httputil.InternalServerError(c, err)
			return
		}
		defer stop()

		setupSSEHeaders(c)
		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()
		logger.Info(ctx, "開始 SSE 訊息流", logger.WithChannelID(channelID))

		handleSSELoop(c, events)
		logger.Info(ctx, "SSE 訊息流結束", logger.WithChannelID(channelID))
	}
}

// setupSSEHeaders 設置 SSE headers
func setupSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"status": "ok"})
	c.Writer.Flush()
}

// handleSSELoop 轉送事件並定時發送心跳，直到客戶端斷線
func handleSSELoop(c *gin.Context, events <-chan message.StreamEvent) {
	heartbeat := constants.DefaultSSEHeartbeatInterval
	if cfg := config.Get(); cfg != nil && cfg.Limits.SSE.HeartbeatInterval > 0 {
		heartbeat = cfg.Limits.SSE.HeartbeatInterval
	}

	ticker := time.NewTicker(time.Duration(heartbeat) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return

		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Unix()})
			c.Writer.Flush()

		case ev := <-events:
			c.SSEvent(ev.Event, ev.Data)
			c.Writer.Flush()
		}
	}
}

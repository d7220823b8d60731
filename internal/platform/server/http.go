package server

import (
	"context"
	"net/http"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/message"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/health"
	"chat-timeline/internal/platform/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 發送訊息的路由，套用較嚴格的速率限制
const (
	routeChannelMessages = "/api/v1/channels/:channel_id/messages"
	routeDirectMessages  = "/api/v1/direct/:user_id/messages"
)

// Handlers 路由需要的處理器.
type Handlers struct {
	Messages *message.MessageHandler
	Service  *message.Service
	Health   *health.Handler
}

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// corsMiddleware 只允許配置中的來源
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		if origin := c.Request.Header.Get("Origin"); allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-User-ID, X-User-Name, X-User-Image")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Router 設定路由；ctx 結束時停止限制器的背景清理
func Router(ctx context.Context, h Handlers) *gin.Engine {
	cfg := config.Get()
	if cfg == nil || !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.Metrics())
	r.Use(securityHeadersMiddleware())

	var origins []string
	if cfg != nil {
		origins = cfg.Server.AllowedOrigins
	}
	r.Use(corsMiddleware(origins))
	r.Use(middleware.NewIdentityMiddleware().GinMiddleware())
	r.Use(middleware.RequestMetadataMiddleware())
	r.Use(middleware.AccessLog())

	maxBody := int64(constants.DefaultMaxRequestBodySize)
	if cfg != nil && cfg.Limits.Request.MaxBodySize > 0 {
		maxBody = cfg.Limits.Request.MaxBodySize
	}
	r.Use(middleware.RequestSizeLimiter(maxBody))

	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		defaultLimit := constants.DefaultRateLimitPerMinute
		if cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
			defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
		}
		messageLimit := constants.DefaultMessageRateLimit
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			messageLimit = cfg.Limits.RateLimiting.MessagesPerMin
		}
		cleanup := constants.RateLimitCleanupIntervalMin
		if cfg.Limits.RateLimiting.CleanupInterval > 0 {
			cleanup = cfg.Limits.RateLimiting.CleanupInterval
		}

		limiter := middleware.NewPerRouteRateLimiter(defaultLimit)
		limiter.SetLimit(routeChannelMessages, messageLimit)
		limiter.SetLimit(routeDirectMessages, messageLimit)
		go limiter.Cleanup(ctx, time.Duration(cleanup)*time.Minute)
		r.Use(limiter.Middleware())
	}

	sseLimiter := newSSELimiter(cfg)

	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/channels/:channel_id/messages", h.Messages.ListChannelMessages)
		api.POST("/channels/:channel_id/messages", h.Messages.SendChannelMessage)
		api.GET("/channels/:channel_id/timeline", h.Messages.Timeline)
		api.GET("/channels/:channel_id/stream", sseLimiter.Middleware(), streamMessages(h.Service))

		api.GET("/direct/:user_id/messages", h.Messages.ListDirectMessages)
		api.POST("/direct/:user_id/messages", h.Messages.SendDirectMessage)

		api.PATCH("/messages/:id", h.Messages.UpdateMessage)
		api.DELETE("/messages/:id", h.Messages.DeleteMessage)
	}

	return r
}

func newSSELimiter(cfg *config.Config) *middleware.SSEConnectionLimiter {
	maxPerIP := constants.DefaultSSEMaxConnectionsPerIP
	interval := constants.DefaultSSEMinConnectionInterval
	maxTotal := constants.DefaultSSEMaxTotalConnections
	if cfg != nil {
		if cfg.Limits.SSE.MaxConnectionsPerIP > 0 {
			maxPerIP = cfg.Limits.SSE.MaxConnectionsPerIP
		}
		if cfg.Limits.SSE.MinConnectionInterval > 0 {
			interval = cfg.Limits.SSE.MinConnectionInterval
		}
		if cfg.Limits.SSE.MaxTotalConnections > 0 {
			maxTotal = cfg.Limits.SSE.MaxTotalConnections
		}
	}
	return middleware.NewSSEConnectionLimiter(maxPerIP, time.Duration(interval)*time.Second, maxTotal)
}

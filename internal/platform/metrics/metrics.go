package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP 指標
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_timeline_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_timeline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_timeline_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"scope"}, // "http" 或 "send"
	)

	// 時間軸指標
	NormalizeDegraded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_timeline_normalize_degraded_total",
			Help: "Raw message fields substituted by the normalizer",
		},
		[]string{"field"},
	)

	MergeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_timeline_merge_total",
			Help: "Messages merged into a canonical set",
		},
		[]string{"source", "outcome"}, // source: fetch|poll|push|send, outcome: inserted|replaced|ignored
	)

	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_timeline_sends_total",
			Help: "Optimistic sends by result",
		},
		[]string{"result"}, // confirmed|failed|throttled
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_timeline_poll_errors_total",
			Help: "Failed fetches during polling",
		},
	)

	// 服務端指標
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_timeline_messages_persisted_total",
			Help: "Messages written to storage",
		},
		[]string{"operation"}, // create|dedupe|update|delete
	)

	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_timeline_relay_published_total",
			Help: "Events published to the relay",
		},
		[]string{"event"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_timeline_active_streams",
			Help: "Open push streams (gRPC and SSE)",
		},
	)
)

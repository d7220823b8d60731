package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 1 << 20 // 1MB
	DefaultRequestTimeout     = 30      // 秒
)

// 分頁相關常數
const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 200
	MinPageSize        = 1
)

// 訊息相關常數
const (
	DefaultMaxMessageLength = 10000
	MessageChannelBuffer    = 32
)

// 時間軸（timeline）相關常數
const (
	DefaultPollIntervalSeconds = 5
	// PollOverlapSeconds 增量輪詢往回多取的秒數
	PollOverlapSeconds         = 60
	DefaultTimeZone            = "UTC"
	DefaultDateLayout          = "Monday, January 2, 2006"
	DefaultAnonymousName       = "Anonymous"
	DefaultAvatar              = "/static/avatar.png"

	// ClientIDPrefix 客戶端暫存 ID 的命名空間，伺服器產生的 ID 不會帶此前綴
	ClientIDPrefix = "local-"
)

// 推送事件名稱
const (
	EventNewMessage     = "new-message"
	EventMessageUpdated = "message-updated"
	EventMessageDeleted = "message-deleted"

	// RelayChannelPrefix 頻道 ID 對應的 pub/sub 頻道名稱前綴
	RelayChannelPrefix = "chat-"
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultMessageRateLimit     = 30
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// SSE 連接相關常數
const (
	DefaultSSEMaxConnectionsPerIP   = 3
	DefaultSSEMaxTotalConnections   = 1000
	DefaultSSEMinConnectionInterval = 2  // 秒
	DefaultSSEHeartbeatInterval     = 15 // 秒
)

// 用戶 / 頻道 ID 相關常數
const (
	MaxUserIDLength    = 100
	MaxChannelIDLength = 210 // 私訊頻道 = 兩個用戶 ID + 分隔符
)

// 加密相關常數
const (
	MasterKeyLength = 32 // 256 bits
)

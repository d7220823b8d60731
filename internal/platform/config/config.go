package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 支援的資料庫與 relay 驅動.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	RelayRedis     = "redis"
	RelayMemory    = "memory"
)

// Config 應用程式配置結構.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Timeline TimelineConfig `mapstructure:"timeline"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 伺服器配置.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	Timeout        int      `mapstructure:"timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GRPCConfig gRPC 配置.
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// DatabaseConfig 資料庫配置.
type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // mongo | postgres | memory
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
	TLSEnabled             bool   `mapstructure:"tls_enabled"`
	TLSCAFile              string `mapstructure:"tls_ca_file"`
}

// PostgresConfig PostgreSQL 配置.
type PostgresConfig struct {
	URL            string `mapstructure:"url"`
	MaxConns       int32  `mapstructure:"max_conns"`
	ConnectTimeout int    `mapstructure:"connect_timeout"`
}

// RelayConfig 即時推送 relay 配置.
type RelayConfig struct {
	Driver string `mapstructure:"driver"` // redis | memory
	URL    string `mapstructure:"url"`
}

// TimelineConfig 時間軸分組與輪詢配置.
type TimelineConfig struct {
	TimeZone            string `mapstructure:"time_zone"`
	DateLayout          string `mapstructure:"date_layout"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	AnonymousName       string `mapstructure:"anonymous_name"`
	DefaultAvatar       string `mapstructure:"default_avatar"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	RotationTimeHours int `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	TLS        TLSConfig        `mapstructure:"tls"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Audit      AuditConfig      `mapstructure:"audit"`
}

// TLSConfig TLS 配置.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// EncryptionConfig 訊息內容加密配置.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuditConfig 審計日誌配置.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig    `mapstructure:"request"`
	RateLimiting RateLimitingConfig     `mapstructure:"rate_limiting"`
	SSE          SSELimitsConfig        `mapstructure:"sse"`
	Pagination   PaginationLimitsConfig `mapstructure:"pagination"`
	Message      MessageLimitsConfig    `mapstructure:"message"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	MessagesPerMin   int  `mapstructure:"messages_per_minute"`
	CleanupInterval  int  `mapstructure:"cleanup_interval_minutes"`
}

// SSELimitsConfig SSE 限制配置.
type SSELimitsConfig struct {
	MaxConnectionsPerIP   int `mapstructure:"max_connections_per_ip"`
	MaxTotalConnections   int `mapstructure:"max_total_connections"`
	MinConnectionInterval int `mapstructure:"min_connection_interval_seconds"`
	HeartbeatInterval     int `mapstructure:"heartbeat_interval_seconds"`
	MessageChannelBuffer  int `mapstructure:"message_channel_buffer"`
}

// PaginationLimitsConfig 分頁限制配置.
type PaginationLimitsConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength     int `mapstructure:"max_length"`
	ChannelBuffer int `mapstructure:"channel_buffer"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 如果直接傳入配置（主要用於測試），設定並驗證
	if len(testCfg) > 0 && testCfg[0] != nil {
		if err := validateConfig(testCfg[0]); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		config = testCfg[0]
		return nil
	}

	// 先載入 .env（不存在時忽略），讓 MONGO_PASSWORD 等密鑰不必寫入 yaml
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("讀取 .env 失敗: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// 檢查是否有 CONFIG_PATH 環境變數
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		// 從檔案名稱推斷環境
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 環境變數覆蓋，例如 CHAT_DATABASE_DRIVER=postgres
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	config = cfg
	return nil
}

// setDefaults 設定預設值，yaml 未填寫時使用
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverMongo)
	v.SetDefault("relay.driver", RelayMemory)
	v.SetDefault("timeline.time_zone", "UTC")
	v.SetDefault("timeline.date_layout", "Monday, January 2, 2006")
	v.SetDefault("timeline.poll_interval_seconds", 5)
	v.SetDefault("timeline.anonymous_name", "Anonymous")
	v.SetDefault("timeline.default_avatar", "/static/avatar.png")
	v.SetDefault("log.rotation_time_hours", 24)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.max_size_mb", 100)
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}
	if cfg.GRPC.Port == "" {
		return fmt.Errorf("gRPC 端口不能為空")
	}

	// 驗證資料庫配置
	switch cfg.Database.Driver {
	case DriverMongo:
		if cfg.Database.Mongo.URL == "" {
			return fmt.Errorf("MongoDB URL 不能為空")
		}
		if cfg.Database.Mongo.Database == "" {
			return fmt.Errorf("MongoDB 資料庫名稱不能為空")
		}
		if cfg.Database.Mongo.MaxPoolSize == 0 {
			return fmt.Errorf("MongoDB 最大連接池大小必須大於 0")
		}
		if cfg.Database.Mongo.MinPoolSize > cfg.Database.Mongo.MaxPoolSize {
			return fmt.Errorf("MongoDB 最小連接池大小不能大於最大連接池大小")
		}
	case DriverPostgres:
		if cfg.Database.Postgres.URL == "" {
			return fmt.Errorf("PostgreSQL URL 不能為空")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("不支援的資料庫驅動: %q", cfg.Database.Driver)
	}

	// 驗證 relay 配置
	switch cfg.Relay.Driver {
	case RelayMemory:
	case RelayRedis:
		if cfg.Relay.URL == "" {
			return fmt.Errorf("Redis relay URL 不能為空")
		}
	default:
		return fmt.Errorf("不支援的 relay 驅動: %q", cfg.Relay.Driver)
	}

	// 驗證時間軸配置：時區必須能被載入，分組結果才具決定性
	if _, err := time.LoadLocation(cfg.Timeline.TimeZone); err != nil {
		return fmt.Errorf("無效的時區 %q: %w", cfg.Timeline.TimeZone, err)
	}
	if cfg.Timeline.PollIntervalSeconds <= 0 {
		return fmt.Errorf("輪詢間隔必須大於 0")
	}

	// 驗證日誌配置
	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("日誌輪轉時間必須大於 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("日誌保留天數必須大於 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("日誌檔案最大大小必須大於 0")
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得伺服器地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:8080"
}

// GetGRPCAddr 取得 gRPC 服務地址
func GetGRPCAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.GRPC.Host, config.GRPC.Port)
	}
	return "localhost:8081"
}

// Location 取得時間軸分組使用的時區，未載入配置時為 UTC
func Location() *time.Location {
	if config == nil || config.Timeline.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(config.Timeline.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PollInterval 取得輪詢間隔
func PollInterval() time.Duration {
	if config == nil || config.Timeline.PollIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(config.Timeline.PollIntervalSeconds) * time.Second
}

package driver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConnectMongo 連接 MongoDB 並回傳 client 與資料庫.
func ConnectMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	timeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// 認證信息優先讀環境變量（.env 已由 config 載入）
	username := os.Getenv("MONGO_USERNAME")
	password := os.Getenv("MONGO_PASSWORD")
	if cfg.Username != "" {
		username = cfg.Username
	}
	if cfg.Password != "" {
		password = cfg.Password
	}

	opts := options.Client().ApplyURI(cfg.URL)
	if username != "" && password != "" {
		opts.SetAuth(options.Credential{Username: username, Password: password})
		logger.Info(ctx, "MongoDB 使用認證連接")
	}

	if cfg.TLSEnabled {
		tlsConfig, err := mongoTLSConfig(cfg)
		if err != nil {
			return nil, nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	opts.SetMinPoolSize(cfg.MinPoolSize)
	if cfg.MaxConnIdleTime > 0 {
		opts.SetMaxConnIdleTime(time.Duration(cfg.MaxConnIdleTime) * time.Second)
	}
	if cfg.ServerSelectionTimeout > 0 {
		opts.SetServerSelectionTimeout(time.Duration(cfg.ServerSelectionTimeout) * time.Second)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("連接 MongoDB 失敗: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("MongoDB ping 失敗: %w", err)
	}

	logger.Info(ctx, "MongoDB 連接成功", logger.WithDetails(map[string]any{"database": cfg.Database}))
	return client, client.Database(cfg.Database), nil
}

func mongoTLSConfig(cfg config.MongoConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSCAFile == "" {
		return tlsConfig, nil
	}

	caCert, err := os.ReadFile(cfg.TLSCAFile)
	if err != nil {
		return nil, fmt.Errorf("讀取 MongoDB CA 憑證失敗: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("無法解析 MongoDB CA 憑證")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

package driver

import (
	"context"
	"fmt"
	"time"

	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectPostgres 建立 PostgreSQL 連線池並確認可連線.
func ConnectPostgres(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("解析 PostgreSQL URL 失敗: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	timeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("建立 PostgreSQL 連線池失敗: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL ping 失敗: %w", err)
	}

	logger.Info(ctx, "PostgreSQL 連接成功", logger.WithDetails(map[string]any{"maxConns": poolCfg.MaxConns}))
	return pool, nil
}

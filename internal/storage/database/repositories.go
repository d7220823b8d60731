package database

import (
	"context"
	"fmt"

	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/driver"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/storage/database/message"
)

// OpenMessages 依 database.driver 建立訊息倉儲並準備索引或資料表.
func OpenMessages(ctx context.Context, cfg config.DatabaseConfig) (message.Repository, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, db, err := driver.ConnectMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		store := message.NewMongoStore(client, db)
		// 索引建立失敗不中斷啟動
		if err := store.EnsureIndexes(ctx); err != nil {
			logger.Warning(ctx, "創建訊息索引失敗", logger.WithError(err))
		}
		return store, nil

	case config.DriverPostgres:
		pool, err := driver.ConnectPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store := message.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	case config.DriverMemory:
		logger.Warning(ctx, "使用記憶體存儲，重啟後訊息會遺失")
		return message.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("不支援的資料庫驅動: %q", cfg.Driver)
}

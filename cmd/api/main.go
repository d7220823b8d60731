package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chat-timeline/internal/constants"
	timelinegrpc "chat-timeline/internal/grpc"
	"chat-timeline/internal/message"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/health"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/server"
	"chat-timeline/internal/relay"
	"chat-timeline/internal/security/audit"
	"chat-timeline/internal/security/encryption"
	"chat-timeline/internal/storage/database"
	"chat-timeline/internal/timeline"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// newSealer 建立訊息加密器
// 已啟用加密但未設置 MASTER_KEY 時，開發環境使用臨時隨機密鑰
func newSealer(ctx context.Context, enabled bool) (*encryption.Sealer, error) {
	if !enabled || os.Getenv("MASTER_KEY") != "" || config.GetEnv() == "production" {
		return encryption.NewSealerFromEnv(enabled)
	}

	masterKey := make([]byte, constants.MasterKeyLength)
	if _, err := rand.Read(masterKey); err != nil {
		return nil, fmt.Errorf("master key initialization failed: %w", err)
	}
	logger.Warning(ctx, "[WARNING] 開發模式：使用臨時主密鑰（重啟後舊訊息將無法解密）", logger.WithDetails(map[string]any{
		"masked": fmt.Sprintf("%x****", masterKey[:2]),
		"source": "randomly generated",
	}))
	logger.Info(ctx, "生成方式：export MASTER_KEY=$(openssl rand -base64 32)")
	return encryption.NewSealer(true, masterKey)
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := config.Get()

	// 連接資料庫.
	repo, err := database.OpenMessages(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Errorf(ctx, "關閉資料庫連接失敗: %v", err)
		}
	}()

	rl, err := relay.Open(ctx, cfg.Relay)
	if err != nil {
		return err
	}
	defer func() {
		if err := rl.Close(); err != nil {
			logger.Errorf(ctx, "關閉 relay 失敗: %v", err)
		}
	}()

	sealer, err := newSealer(ctx, cfg.Security.Encryption.Enabled)
	if err != nil {
		logger.Error(ctx, "無法載入主密鑰", logger.WithError(err))
		return fmt.Errorf("encryption initialization failed")
	}

	svc, err := message.NewService(repo, rl, sealer, message.WithAudit(audit.NewService(cfg.Security.Audit.Enabled)))
	if err != nil {
		return err
	}

	// 啟動 gRPC 服務器
	grpcServer, err := timelinegrpc.NewServer(svc, cfg.Security.TLS)
	if err != nil {
		logger.Error(ctx, "gRPC 服務器創建失敗", logger.WithError(err))
		return fmt.Errorf("server initialization failed")
	}
	go func() {
		if err := grpcServer.Start(config.GetGRPCAddr()); err != nil {
			logger.Errorf(ctx, "gRPC 服務器啟動失敗: %v", err)
			stop()
		}
	}()
	defer grpcServer.Stop()

	normalizer := timeline.NewNormalizer()
	normalizer.AnonymousName = cfg.Timeline.AnonymousName
	normalizer.DefaultAvatar = cfg.Timeline.DefaultAvatar

	checks := []health.Check{{Name: "storage", Pinger: repo}}
	if p, ok := rl.(health.Pinger); ok {
		checks = append(checks, health.Check{Name: "relay", Pinger: p})
	}

	router := server.Router(ctx, server.Handlers{
		Messages: message.NewMessageHandler(svc, normalizer, timeline.NewGrouper(config.Location(), cfg.Timeline.DateLayout)),
		Service:  svc,
		Health:   health.NewHealthHandler(checks...),
	})

	logger.Info(ctx, "[System] 服務器啟動完成", logger.WithDetails(map[string]any{
		"database": cfg.Database.Driver,
		"relay":    cfg.Relay.Driver,
		"env":      config.GetEnv(),
	}))

	// HTTP 服務器在收到中斷信號後返回
	if err := server.Run(ctx, router); err != nil {
		logger.Errorf(ctx, "HTTP 服務器錯誤: %v", err)
		return err
	}
	logger.Info(context.WithoutCancel(ctx), "正在關閉服務器...", logger.WithAction("shutdown"))
	return nil
}

package grpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"chat-timeline/internal/message"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/metrics"
	"chat-timeline/internal/platform/middleware"
	store "chat-timeline/internal/storage/database/message"
	"chat-timeline/proto/timelinepb"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server gRPC 服務器
type Server struct {
	timelinepb.UnimplementedTimelineServiceServer
	grpcServer *grpc.Server
	service    *message.Service
}

// NewServer 創建新的 gRPC 服務器
func NewServer(service *message.Service, tlsConfig config.TLSConfig) (*Server, error) {
	ctx := context.Background()
	identity := middleware.NewIdentityMiddleware()
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(identity.GRPCUnaryInterceptor()),
		grpc.ChainStreamInterceptor(identity.GRPCStreamInterceptor()),
	}

	// 根據 TLS 配置決定是否啟用 TLS
	if tlsConfig.Enabled {
		tlsCreds, err := loadTLSCredentials(tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(tlsCreds))
		logger.Info(ctx, "gRPC TLS 已啟用")
	} else {
		logger.Info(ctx, "gRPC 以非加密模式運行（開發環境）")
	}

	server := &Server{
		grpcServer: grpc.NewServer(opts...),
		service:    service,
	}
	timelinepb.RegisterTimelineServiceServer(server.grpcServer, server)

	return server, nil
}

// loadTLSCredentials 載入 TLS 憑證
func loadTLSCredentials(tlsConfig config.TLSConfig) (credentials.TransportCredentials, error) {
	serverCert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS12,
	}

	// 有 CA 文件時要求客戶端證書
	if tlsConfig.CAFile != "" {
		ca, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("failed to append CA certs")
		}
		cfg.ClientCAs = certPool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return credentials.NewTLS(cfg), nil
}

// Start 啟動 gRPC 服務器
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Infof(context.Background(), "gRPC 服務器啟動在 %s", addr)
	return s.Serve(lis)
}

// Serve 在指定的 listener 上提供服務
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop 停止 gRPC 服務器，串流會因 context 取消而結束
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// ListMessages 列出頻道訊息
func (s *Server) ListMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	since, err := parseSince(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	limit, _ := timelinepb.Number(req, "limit")

	recs, err := s.service.List(ctx, message.ListMessagesRequest{
		ChannelID: timelinepb.String(req, "channelId"),
		Since:     since,
		Limit:     int(limit),
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	items := make([]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.Raw())
	}
	return encode(map[string]any{"messages": items})
}

// SendMessage 發送訊息
func (s *Server) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.service.Send(ctx, message.SendMessageRequest{
		ChannelID: timelinepb.String(req, "channelId"),
		Content:   timelinepb.String(req, "content"),
		ClientID:  timelinepb.String(req, "clientId"),
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(rec.Raw())
}

// UpdateMessage 修改訊息
func (s *Server) UpdateMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.service.Update(ctx, message.UpdateMessageRequest{
		ID:      timelinepb.String(req, "id"),
		Content: timelinepb.String(req, "content"),
	})
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(rec.Raw())
}

// DeleteMessage 刪除訊息
func (s *Server) DeleteMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rec, err := s.service.Delete(ctx, timelinepb.String(req, "id"))
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return encode(message.DeletedEvent(rec))
}

// StreamMessages 轉送頻道的推送事件，直到客戶端斷線
func (s *Server) StreamMessages(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	channelID := timelinepb.String(req, "channelId")

	var events []string
	if e := timelinepb.String(req, "event"); e != "" {
		events = append(events, e)
	}
	ch, stop, err := s.service.Watch(ctx, channelID, events...)
	if err != nil {
		return toStatus(ctx, err)
	}
	defer stop()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()
	logger.Info(ctx, "開始訊息流", logger.WithChannelID(channelID))

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "訊息流結束", logger.WithChannelID(channelID))
			return nil

		case ev := <-ch:
			out, err := encode(map[string]any{"event": ev.Event, "message": ev.Data})
			if err != nil {
				logger.Error(ctx, "事件格式錯誤", logger.WithChannelID(channelID), logger.WithError(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				logger.Error(ctx, "推送訊息失敗", logger.WithChannelID(channelID), logger.WithError(err))
				return err
			}
		}
	}
}

// parseSince 接受 RFC3339 字串或毫秒時間戳
func parseSince(req *structpb.Struct) (time.Time, error) {
	if ms, ok := timelinepb.Number(req, "since"); ok {
		return time.UnixMilli(int64(ms)).UTC(), nil
	}
	raw := timelinepb.String(req, "since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("since 必須是 RFC3339 時間: %w", err)
	}
	return t, nil
}

func encode(m map[string]any) (*structpb.Struct, error) {
	out, err := timelinepb.FromMap(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus 把服務層錯誤轉成 gRPC 狀態碼，內部錯誤只寫日誌
func toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, message.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, message.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "未提供使用者身分")
	case errors.Is(err, message.ErrForbidden):
		return status.Error(codes.PermissionDenied, "只能修改自己的訊息")
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, "訊息不存在")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	logger.Error(ctx, "gRPC 請求失敗", logger.WithError(err))
	return status.Error(codes.Internal, "服務器內部錯誤")
}

// Package grpcclient 透過 TimelineService 實作 timeline 需要的抓取、持久化與訂閱接口.
package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/middleware"
	"chat-timeline/internal/timeline"
	"chat-timeline/proto/timelinepb"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// 串流中斷後的重連間隔
const (
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

// Client TimelineService 客戶端，同時實作 timeline.Fetcher、Persister、Subscriber 與 Identity.
type Client struct {
	api  timelinepb.TimelineServiceClient
	conn *grpc.ClientConn
	user *timeline.User
}

// New 以現有連線建立客戶端；user 為 nil 時只能讀取.
func New(cc grpc.ClientConnInterface, user *timeline.User) *Client {
	return &Client{api: timelinepb.NewTimelineServiceClient(cc), user: user}
}

// Dial 依配置連線到 gRPC 服務器.
func Dial(address string, tlsConfig config.TLSConfig, user *timeline.User) (*Client, error) {
	var (
		conn *grpc.ClientConn
		err  error
	)
	if tlsConfig.Enabled {
		conn, err = dialWithTLS(address, tlsConfig)
	} else {
		conn, err = dialInsecure(address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server at %s: %w", address, err)
	}
	c := New(conn, user)
	c.conn = conn
	return c, nil
}

// dialWithTLS 使用 TLS 連接
func dialWithTLS(address string, tlsConfig config.TLSConfig) (*grpc.ClientConn, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if tlsConfig.CAFile != "" {
		ca, err := os.ReadFile(tlsConfig.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		cfg.RootCAs = certPool
	}

	// 有客戶端證書時使用雙向 TLS
	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return grpc.NewClient(address, grpc.WithTransportCredentials(credentials.NewTLS(cfg)))
}

// dialInsecure 不使用 TLS 連接（僅開發環境）
func dialInsecure(address string) (*grpc.ClientConn, error) {
	logger.Warning(context.Background(), "gRPC 使用不安全連接（開發環境）", logger.WithDetails(map[string]any{"address": address}))
	return grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// Close 關閉由 Dial 建立的連線.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// CurrentUser 實作 timeline.Identity.
func (c *Client) CurrentUser(context.Context) (*timeline.User, error) {
	return c.user, nil
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	return middleware.OutgoingUser(ctx, c.user)
}

// FetchMessages 實作 timeline.Fetcher.
func (c *Client) FetchMessages(ctx context.Context, channelID string, since time.Time) ([]timeline.Raw, error) {
	req := map[string]any{"channelId": channelID}
	if !since.IsZero() {
		req["since"] = since.UTC().Format(time.RFC3339Nano)
	}
	in, err := timelinepb.FromMap(req)
	if err != nil {
		return nil, err
	}
	out, err := c.api.ListMessages(c.outgoing(ctx), in)
	if err != nil {
		return nil, fmt.Errorf("查詢訊息失敗: %w", err)
	}
	return timelinepb.List(out, "messages"), nil
}

// PersistMessage 實作 timeline.Persister.
func (c *Client) PersistMessage(ctx context.Context, req timeline.PersistRequest) (timeline.Raw, error) {
	in, err := timelinepb.FromMap(map[string]any{
		"channelId": req.ChannelID,
		"content":   req.Content,
		"clientId":  req.ClientID,
	})
	if err != nil {
		return nil, err
	}
	out, err := c.api.SendMessage(c.outgoing(ctx), in)
	if err != nil {
		return nil, fmt.Errorf("發送訊息失敗: %w", err)
	}
	return timelinepb.ToMap(out), nil
}

// UpdateMessage 修改自己的訊息.
func (c *Client) UpdateMessage(ctx context.Context, id, content string) (timeline.Raw, error) {
	in, err := timelinepb.FromMap(map[string]any{"id": id, "content": content})
	if err != nil {
		return nil, err
	}
	out, err := c.api.UpdateMessage(c.outgoing(ctx), in)
	if err != nil {
		return nil, fmt.Errorf("修改訊息失敗: %w", err)
	}
	return timelinepb.ToMap(out), nil
}

// DeleteMessage 刪除自己的訊息.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	in, err := timelinepb.FromMap(map[string]any{"id": id})
	if err != nil {
		return err
	}
	if _, err := c.api.DeleteMessage(c.outgoing(ctx), in); err != nil {
		return fmt.Errorf("刪除訊息失敗: %w", err)
	}
	return nil
}

// Subscribe 實作 timeline.Subscriber；channelName 為 relay 頻道名稱（chat-<channelId>）.
//
// 串流中斷時以指數退避重連，直到 Unsubscribe 或 ctx 結束.
func (c *Client) Subscribe(ctx context.Context, channelName, eventName string, handler func(timeline.Raw)) (timeline.Subscription, error) {
	channelID, ok := strings.CutPrefix(channelName, constants.RelayChannelPrefix)
	if !ok || channelID == "" {
		return nil, fmt.Errorf("無效的頻道名稱: %q", channelName)
	}
	in, err := timelinepb.FromMap(map[string]any{"channelId": channelID, "event": eventName})
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	stream, err := c.api.StreamMessages(c.outgoing(subCtx), in)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("建立訊息流失敗: %w", err)
	}

	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		delay := minReconnectDelay
		for {
			err := receive(stream, handler)
			if subCtx.Err() != nil {
				return
			}
			logger.Warning(subCtx, "訊息流中斷，準備重連",
				logger.WithChannelID(channelID),
				logger.WithAction(eventName),
				logger.WithError(err))

			select {
			case <-subCtx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxReconnectDelay)

			next, err := c.api.StreamMessages(c.outgoing(subCtx), in)
			if err != nil {
				continue
			}
			stream = next
			delay = minReconnectDelay
		}
	}()
	return sub, nil
}

// receive 讀取串流直到錯誤；伺服器正常結束時回傳 io.EOF
func receive(stream grpc.ServerStreamingClient[structpb.Struct], handler func(timeline.Raw)) error {
	for {
		ev, err := stream.Recv()
		if err != nil {
			return err
		}
		if msg := timelinepb.Object(ev, "message"); msg != nil {
			handler(msg)
		}
	}
}

type subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe 可重複呼叫.
func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// IsNotFound 判斷錯誤是否為訊息不存在.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

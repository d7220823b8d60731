package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"chat-timeline/internal/message"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/platform/middleware"
	"chat-timeline/internal/relay"
	"chat-timeline/internal/security/encryption"
	store "chat-timeline/internal/storage/database/message"
	"chat-timeline/internal/timeline"
	"chat-timeline/proto/timelinepb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type harness struct {
	client timelinepb.TimelineServiceClient
	repo   *store.MemoryStore
	relay  *relay.MemoryRelay
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sealer, err := encryption.NewSealer(true, key)
	require.NoError(t, err)

	repo := store.NewMemoryStore()
	rl := relay.NewMemoryRelay()
	svc, err := message.NewService(repo, rl, sealer)
	require.NoError(t, err)

	srv, err := NewServer(svc, config.TLSConfig{})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{client: timelinepb.NewTimelineServiceClient(conn), repo: repo, relay: rl}
}

func as(ctx context.Context, id, name string) context.Context {
	return middleware.OutgoingUser(ctx, &timeline.User{ID: id, Name: name})
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestSendAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sent, err := h.client.SendMessage(as(ctx, "u1", "Ada"), mustStruct(t, map[string]any{
		"channelId": "general",
		"content":   "hello",
		"clientId":  "local-01",
	}))
	require.NoError(t, err)
	assert.Equal(t, "hello", timelinepb.String(sent, "content"))
	assert.Equal(t, "local-01", timelinepb.String(sent, "clientId"))
	assert.Equal(t, "Ada", timelinepb.String(sent, "authorName"))

	// 存儲中的內容是密文
	stored, err := h.repo.GetByID(ctx, timelinepb.String(sent, "id"))
	require.NoError(t, err)
	assert.NotContains(t, stored.Content, "hello")

	// 相同 clientId 重送不會產生第二筆
	again, err := h.client.SendMessage(as(ctx, "u1", "Ada"), mustStruct(t, map[string]any{
		"channelId": "general",
		"content":   "hello",
		"clientId":  "local-01",
	}))
	require.NoError(t, err)
	assert.Equal(t, timelinepb.String(sent, "id"), timelinepb.String(again, "id"))

	list, err := h.client.ListMessages(ctx, mustStruct(t, map[string]any{"channelId": "general"}))
	require.NoError(t, err)
	msgs := timelinepb.List(list, "messages")
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0]["content"])
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sent, err := h.client.SendMessage(as(ctx, "u1", ""), mustStruct(t, map[string]any{"channelId": "general", "content": "mine"}))
	require.NoError(t, err)
	id := timelinepb.String(sent, "id")

	testCases := []struct {
		name string
		call func() error
		code codes.Code
	}{
		{"未帶身分", func() error {
			_, err := h.client.SendMessage(ctx, mustStruct(t, map[string]any{"channelId": "general", "content": "x"}))
			return err
		}, codes.Unauthenticated},
		{"空內容", func() error {
			_, err := h.client.SendMessage(as(ctx, "u1", ""), mustStruct(t, map[string]any{"channelId": "general", "content": "  "}))
			return err
		}, codes.InvalidArgument},
		{"非法頻道", func() error {
			_, err := h.client.ListMessages(ctx, mustStruct(t, map[string]any{"channelId": "a b"}))
			return err
		}, codes.InvalidArgument},
		{"錯誤的 since", func() error {
			_, err := h.client.ListMessages(ctx, mustStruct(t, map[string]any{"channelId": "general", "since": "yesterday"}))
			return err
		}, codes.InvalidArgument},
		{"非作者修改", func() error {
			_, err := h.client.UpdateMessage(as(ctx, "u2", ""), mustStruct(t, map[string]any{"id": id, "content": "hijack"}))
			return err
		}, codes.PermissionDenied},
		{"不存在的訊息", func() error {
			_, err := h.client.DeleteMessage(as(ctx, "u1", ""), mustStruct(t, map[string]any{"id": "missing"}))
			return err
		}, codes.NotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			require.Error(t, err)
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestStreamMessages(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.StreamMessages(ctx, mustStruct(t, map[string]any{"channelId": "general"}))
	require.NoError(t, err)

	// 等伺服器完成三個事件的訂閱
	require.Eventually(t, func() bool {
		return h.relay.Subscribers(timeline.RelayChannel("general")) == 3
	}, 2*time.Second, 10*time.Millisecond)

	sent, err := h.client.SendMessage(as(ctx, "u1", "Ada"), mustStruct(t, map[string]any{"channelId": "general", "content": "first"}))
	require.NoError(t, err)
	id := timelinepb.String(sent, "id")

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "new-message", timelinepb.String(ev, "event"))
	assert.Equal(t, "first", timelinepb.Object(ev, "message")["content"])

	_, err = h.client.UpdateMessage(as(ctx, "u1", "Ada"), mustStruct(t, map[string]any{"id": id, "content": "edited"}))
	require.NoError(t, err)
	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "message-updated", timelinepb.String(ev, "event"))
	assert.Equal(t, "edited", timelinepb.Object(ev, "message")["content"])

	_, err = h.client.DeleteMessage(as(ctx, "u1", "Ada"), mustStruct(t, map[string]any{"id": id}))
	require.NoError(t, err)
	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "message-deleted", timelinepb.String(ev, "event"))
	assert.Equal(t, id, timelinepb.Object(ev, "message")["id"])

	cancel()
	require.Eventually(t, func() bool {
		return h.relay.Subscribers(timeline.RelayChannel("general")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsUnknownEvent(t *testing.T) {
	h := newHarness(t)
	stream, err := h.client.StreamMessages(context.Background(), mustStruct(t, map[string]any{"channelId": "general", "event": "typing"}))
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

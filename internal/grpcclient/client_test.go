package grpcclient

import (
	"context"
	"net"
	"testing"
	"time"

	timelinegrpc "chat-timeline/internal/grpc"
	"chat-timeline/internal/message"
	"chat-timeline/internal/platform/config"
	"chat-timeline/internal/relay"
	store "chat-timeline/internal/storage/database/message"
	"chat-timeline/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

const testChannel = "general"

type testServer struct {
	conn  *grpc.ClientConn
	relay *relay.MemoryRelay
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	rl := relay.NewMemoryRelay()
	svc, err := message.NewService(store.NewMemoryStore(), rl, nil)
	require.NoError(t, err)
	srv, err := timelinegrpc.NewServer(svc, config.TLSConfig{})
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
	return &testServer{conn: conn, relay: rl}
}

func TestClientCRUD(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()
	alice := New(ts.conn, &timeline.User{ID: "alice", Name: "Alice"})
	bob := New(ts.conn, &timeline.User{ID: "bob"})

	raw, err := alice.PersistMessage(ctx, timeline.PersistRequest{ChannelID: testChannel, Content: "hi", ClientID: "local-1"})
	require.NoError(t, err)
	assert.Equal(t, "local-1", raw["clientId"])
	id, _ := raw["id"].(string)
	require.NotEmpty(t, id)

	raws, err := bob.FetchMessages(ctx, testChannel, time.Time{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "Alice", raws[0]["authorName"])

	// since 之後沒有更新的訊息時只回傳邊界上的那一筆
	msg := timeline.NewNormalizer().Normalize(raws[0])
	again, err := bob.FetchMessages(ctx, testChannel, msg.CreatedAt)
	require.NoError(t, err)
	assert.Len(t, again, 1)

	updated, err := alice.UpdateMessage(ctx, id, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", updated["content"])

	err = bob.DeleteMessage(ctx, id)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))

	require.NoError(t, alice.DeleteMessage(ctx, id))
	err = alice.DeleteMessage(ctx, id)
	assert.True(t, IsNotFound(err))
}

func TestSubscribeRejectsBadChannelName(t *testing.T) {
	ts := startServer(t)
	c := New(ts.conn, nil)
	_, err := c.Subscribe(context.Background(), testChannel, "new-message", func(timeline.Raw) {})
	assert.Error(t, err)
}

// TestSessionOverGRPC 時間軸 Session 透過 gRPC 抓取、推送與樂觀送出
func TestSessionOverGRPC(t *testing.T) {
	ts := startServer(t)
	ctx := context.Background()
	alice := New(ts.conn, &timeline.User{ID: "alice", Name: "Alice"})
	bob := New(ts.conn, &timeline.User{ID: "bob", Name: "Bob"})

	_, err := bob.PersistMessage(ctx, timeline.PersistRequest{ChannelID: testChannel, Content: "earlier"})
	require.NoError(t, err)

	session, err := timeline.NewSession(timeline.Options{
		ChannelID:    testChannel,
		Fetcher:      alice,
		Subscriber:   alice,
		Persister:    alice,
		Identity:     alice,
		PollInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, session.Start(ctx))
	defer session.Close()

	require.Len(t, session.Snapshot(), 1)
	require.Eventually(t, func() bool {
		return ts.relay.Subscribers(timeline.RelayChannel(testChannel)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// 其他人發送的訊息經由推送出現
	_, err = bob.PersistMessage(ctx, timeline.PersistRequest{ChannelID: testChannel, Content: "pushed"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(session.Snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// 樂觀送出：推送與回應都到達後只保留一筆已確認的訊息
	pending, err := session.Send(ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, timeline.StatusPending, pending.Status)
	session.Wait()

	require.Eventually(t, func() bool {
		snap := session.Snapshot()
		if len(snap) != 3 {
			return false
		}
		last := snap[2]
		return last.Status == timeline.StatusConfirmed && last.ClientID == pending.ClientID && last.ID != pending.ID
	}, 2*time.Second, 10*time.Millisecond)

	session.Close()
	require.Eventually(t, func() bool {
		return ts.relay.Subscribers(timeline.RelayChannel(testChannel)) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

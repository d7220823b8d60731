package timeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chat-timeline/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher 與儲存層相同：只回傳 createdAt >= since 的紀錄
type fakeFetcher struct {
	mu     sync.Mutex
	raws   map[string][]Raw
	err    error
	calls  atomic.Int32
	sinces []time.Time
}

func (f *fakeFetcher) FetchMessages(_ context.Context, channelID string, since time.Time) ([]Raw, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []Raw
	for _, raw := range f.raws[channelID] {
		if created, ok := firstTime(raw, createdAtKeys); ok && created.Before(since) {
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func (f *fakeFetcher) add(channelID string, raws ...Raw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raws == nil {
		f.raws = make(map[string][]Raw)
	}
	f.raws[channelID] = append(f.raws[channelID], raws...)
}

func (f *fakeFetcher) lastSince() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sinces[len(f.sinces)-1]
}

func (f *fakeFetcher) set(channelID string, raws ...Raw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.raws == nil {
		f.raws = make(map[string][]Raw)
	}
	f.raws[channelID] = raws
}

type fakeSub struct {
	relay *fakeRelay
	key   string
	once  sync.Once
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() {
		s.relay.mu.Lock()
		defer s.relay.mu.Unlock()
		delete(s.relay.handlers, s.key)
		s.relay.unsubscribed++
	})
}

type fakeRelay struct {
	mu           sync.Mutex
	handlers     map[string]func(Raw)
	unsubscribed int
}

func (r *fakeRelay) Subscribe(_ context.Context, channel, event string, h func(Raw)) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]func(Raw))
	}
	key := channel + "/" + event
	r.handlers[key] = h
	return &fakeSub{relay: r, key: key}, nil
}

func (r *fakeRelay) publish(channel, event string, raw Raw) bool {
	r.mu.Lock()
	h := r.handlers[channel+"/"+event]
	r.mu.Unlock()
	if h == nil {
		return false
	}
	h(raw)
	return true
}

func (r *fakeRelay) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

type persistFunc func(context.Context, PersistRequest) (Raw, error)

func (f persistFunc) PersistMessage(ctx context.Context, req PersistRequest) (Raw, error) {
	return f(ctx, req)
}

var me = IdentityFunc(func(context.Context) (*User, error) {
	return &User{ID: "me", Name: "Me"}, nil
})

func rawMsg(id, channel, author, content string, ts time.Time) Raw {
	return Raw{
		"id":        id,
		"channelId": channel,
		"authorId":  author,
		"content":   content,
		"createdAt": ts.Format(time.RFC3339Nano),
	}
}

func newTestSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.ChannelID == "" {
		opts.ChannelID = "general"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	s, err := NewSession(opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// Scenario C
func TestSessionOptimisticSendSupersededByConfirmation(t *testing.T) {
	release := make(chan struct{})
	persister := persistFunc(func(_ context.Context, req PersistRequest) (Raw, error) {
		<-release
		r := rawMsg("srv-1", req.ChannelID, "me", req.Content, base)
		r["clientId"] = req.ClientID
		return r, nil
	})
	relay := &fakeRelay{}
	s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Subscriber: relay, Persister: persister, Identity: me})
	require.NoError(t, s.Start(context.Background()))

	pending, err := s.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, IsClientID(pending.ID))
	assert.Equal(t, pending.ID, pending.ClientID)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusPending, snap[0].Status)

	// 推送比持久化回應先到
	pushed := rawMsg("srv-1", "general", "me", "hi", base)
	pushed["clientId"] = pending.ClientID
	require.True(t, relay.publish("chat-general", "new-message", pushed))

	close(release)
	s.Wait()

	snap = s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "srv-1", snap[0].ID)
	assert.Equal(t, "hi", snap[0].Content)
	assert.Equal(t, StatusConfirmed, snap[0].Status)
}

func TestSessionPersistFailureMarksFailedAndRetry(t *testing.T) {
	var attempts atomic.Int32
	persister := persistFunc(func(_ context.Context, req PersistRequest) (Raw, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("network down")
		}
		r := rawMsg("srv-2", req.ChannelID, "me", req.Content, base)
		r["clientId"] = req.ClientID
		return r, nil
	})
	s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Persister: persister, Identity: me})
	require.NoError(t, s.Start(context.Background()))

	pending, err := s.Send(context.Background(), "hello")
	require.NoError(t, err)
	s.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StatusFailed, snap[0].Status)
	assert.Equal(t, "network down", snap[0].Err)

	_, err = s.Retry(context.Background(), pending.ClientID)
	require.NoError(t, err)
	s.Wait()

	snap = s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "srv-2", snap[0].ID)
	assert.Equal(t, StatusConfirmed, snap[0].Status)

	_, err = s.Retry(context.Background(), pending.ClientID)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestSessionSendErrors(t *testing.T) {
	noop := persistFunc(func(context.Context, PersistRequest) (Raw, error) { return Raw{}, nil })

	t.Run("沒有使用者", func(t *testing.T) {
		nobody := IdentityFunc(func(context.Context) (*User, error) { return nil, nil })
		s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Persister: noop, Identity: nobody})
		_, err := s.Send(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNoIdentity)
		assert.Empty(t, s.Snapshot())
	})

	t.Run("空白內容", func(t *testing.T) {
		s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Persister: noop, Identity: me})
		_, err := s.Send(context.Background(), "   ")
		assert.ErrorIs(t, err, ErrEmptyContent)
	})

	t.Run("超過送出頻率", func(t *testing.T) {
		s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Persister: noop, Identity: me, SendsPerMinute: 1})
		_, err := s.Send(context.Background(), "one")
		require.NoError(t, err)
		_, err = s.Send(context.Background(), "two")
		assert.ErrorIs(t, err, ErrSendThrottled)
		s.Wait()
		assert.Len(t, s.Snapshot(), 1)
	})

	t.Run("已關閉", func(t *testing.T) {
		s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Persister: noop, Identity: me})
		s.Close()
		_, err := s.Send(context.Background(), "x")
		assert.ErrorIs(t, err, ErrSessionClosed)
	})

	t.Run("送出途中關閉", func(t *testing.T) {
		var persisted atomic.Int32
		counting := persistFunc(func(context.Context, PersistRequest) (Raw, error) {
			persisted.Add(1)
			return Raw{}, nil
		})
		s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Persister: counting, Identity: me})
		require.NoError(t, s.Start(context.Background()))
		s.Close()

		// 繞過 Session.Send 的前置檢查，模擬 Close 發生在檢查之後
		_, err := s.sender.Send(context.Background(), "x")
		assert.ErrorIs(t, err, ErrSessionClosed)
		s.Wait()
		assert.Zero(t, persisted.Load())
		assert.Empty(t, s.Snapshot())
	})
}

func TestSessionInitialFetchAndPushDedup(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("general",
		rawMsg("m2", "general", "u1", "second", base.Add(time.Minute)),
		rawMsg("m1", "general", "u1", "first", base),
	)
	relay := &fakeRelay{}
	var changes atomic.Int32
	s := newTestSession(t, Options{
		Fetcher:    fetcher,
		Subscriber: relay,
		OnChange:   func() { changes.Add(1) },
	})
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []string{"m1", "m2"}, ids(s.Snapshot()))
	assert.Equal(t, 3, relay.active())

	before := changes.Load()
	relay.publish("chat-general", "new-message", rawMsg("m2", "general", "u1", "second", base.Add(time.Minute)))
	assert.Equal(t, before, changes.Load(), "重複推送不應觸發重繪")

	relay.publish("chat-general", "new-message", rawMsg("m3", "general", "u2", "third", base.Add(2*time.Minute)))
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Snapshot()))

	relay.publish("chat-general", "message-deleted", Raw{"id": "m1", "channelId": "general"})
	assert.Equal(t, []string{"m2", "m3"}, ids(s.Snapshot()))

	groups := s.Groups()
	assert.Len(t, filterKind(groups, KindRun), 2)
}

func TestSessionDropsForeignChannelEvents(t *testing.T) {
	relay := &fakeRelay{}
	s := newTestSession(t, Options{Fetcher: &fakeFetcher{}, Subscriber: relay})
	require.NoError(t, s.Start(context.Background()))

	relay.publish("chat-general", "new-message", rawMsg("x1", "random", "u1", "leak", base))
	assert.Empty(t, s.Snapshot())
}

func TestSessionPollFailureKeepsState(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("general", rawMsg("m1", "general", "u1", "first", base))
	s := newTestSession(t, Options{Fetcher: fetcher, PollInterval: 10 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	require.Len(t, s.Snapshot(), 1)

	fetcher.mu.Lock()
	fetcher.err = errors.New("timeout")
	fetcher.mu.Unlock()

	calls := fetcher.calls.Load()
	require.Eventually(t, func() bool { return fetcher.calls.Load() > calls+1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, s.Snapshot(), 1)

	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()
	fetcher.set("general",
		rawMsg("m1", "general", "u1", "first", base),
		rawMsg("m2", "general", "u1", "second", base.Add(time.Minute)),
	)
	require.Eventually(t, func() bool { return len(s.Snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestConversationsSwitchUnsubscribesPrevious(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.set("a", rawMsg("a1", "a", "u1", "in a", base))
	fetcher.set("b", rawMsg("b1", "b", "u1", "in b", base))
	relay := &fakeRelay{}

	convs := NewConversations(Options{Fetcher: fetcher, Subscriber: relay, PollInterval: time.Hour})
	t.Cleanup(convs.Close)

	first, err := convs.Open(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 3, relay.active())

	second, err := convs.Open(context.Background(), "b")
	require.NoError(t, err)
	assert.Same(t, second, convs.Current())
	assert.Equal(t, 3, relay.active())
	assert.Equal(t, 3, relay.unsubscribed)

	// 舊頻道的事件已無訂閱者
	assert.False(t, relay.publish("chat-a", "new-message", rawMsg("a2", "a", "u1", "late", base)))
	assert.Equal(t, []string{"a1"}, ids(first.Snapshot()))
	assert.Equal(t, []string{"b1"}, ids(second.Snapshot()))

	// 關閉後直接呼叫舊的 handler 也不會改變狀態
	first.onPushed(rawMsg("a3", "a", "u1", "after close", base))
	assert.Equal(t, []string{"a1"}, ids(first.Snapshot()))

	same, err := convs.Open(context.Background(), "b")
	require.NoError(t, err)
	assert.Same(t, second, same)
}

func TestSessionPollRecoversDroppedPush(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.add("general", rawMsg("m0", "general", "u1", "before", base))
	relay := &fakeRelay{}
	s := newTestSession(t, Options{Fetcher: fetcher, Subscriber: relay})
	require.NoError(t, s.Start(context.Background()))

	m1 := rawMsg("m1", "general", "u1", "dropped", base.Add(time.Hour))
	m2 := rawMsg("m2", "general", "u2", "delivered", base.Add(time.Hour+time.Second))
	fetcher.add("general", m1, m2)

	// m1 的推送遺失，只收到較新的 m2
	require.True(t, relay.publish("chat-general", "new-message", m2))
	assert.Equal(t, []string{"m0", "m2"}, ids(s.Snapshot()))

	s.poll(context.Background(), "poll")
	assert.Equal(t, []string{"m0", "m1", "m2"}, ids(s.Snapshot()))
	assert.True(t, fetcher.lastSince().Before(base), "推送的訊息不應推進輪詢起點")

	s.poll(context.Background(), "poll")
	want := base.Add(time.Hour + time.Second).Add(-constants.PollOverlapSeconds * time.Second)
	assert.True(t, want.Equal(fetcher.lastSince()), "got %s", fetcher.lastSince())
}

func TestSessionPollIgnoresLocalClockTimestamps(t *testing.T) {
	future := base.Add(24 * time.Hour)
	fetcher := &fakeFetcher{}
	fetcher.add("general",
		rawMsg("m1", "general", "u1", "ok", base),
		Raw{"id": "bad", "channelId": "general", "authorId": "u1", "content": "no time"},
	)
	s := newTestSession(t, Options{
		Fetcher:    fetcher,
		Normalizer: &Normalizer{Now: func() time.Time { return future }},
	})
	require.NoError(t, s.Start(context.Background()))
	require.Len(t, s.Snapshot(), 2)

	s.poll(context.Background(), "poll")
	want := base.Add(-constants.PollOverlapSeconds * time.Second)
	assert.True(t, want.Equal(fetcher.lastSince()), "got %s", fetcher.lastSince())
}

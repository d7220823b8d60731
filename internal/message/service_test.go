package message

import (
	"context"
	"testing"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/middleware"
	"chat-timeline/internal/relay"
	"chat-timeline/internal/security/encryption"
	store "chat-timeline/internal/storage/database/message"
	"chat-timeline/internal/timeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, sealer *encryption.Sealer) (*Service, *store.MemoryStore) {
	t.Helper()
	repo := store.NewMemoryStore()
	svc, err := NewService(repo, relay.NewMemoryRelay(), sealer)
	require.NoError(t, err)
	return svc, repo
}

func as(id string) context.Context {
	return middleware.WithUser(context.Background(), &timeline.User{ID: id, Name: id})
}

func collect(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSendRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Send(context.Background(), SendMessageRequest{ChannelID: "general", Content: "hi"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSendDedupesByClientID(t *testing.T) {
	svc, _ := newTestService(t, nil)
	events, stop, err := svc.Watch(context.Background(), "general", constants.EventNewMessage)
	require.NoError(t, err)
	defer stop()

	req := SendMessageRequest{ChannelID: "general", Content: "hi", ClientID: "local-1"}
	first, err := svc.Send(as("alice"), req)
	require.NoError(t, err)
	again, err := svc.Send(as("alice"), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	got := collect(events)
	require.Len(t, got, 1, "a resend must not be published twice")
	assert.Equal(t, first.ID, got[0].Data["id"])
	assert.Equal(t, "local-1", got[0].Data["clientId"])
}

func TestUpdateAndDeleteAreAuthorOnly(t *testing.T) {
	svc, _ := newTestService(t, nil)
	events, stop, err := svc.Watch(context.Background(), "general", constants.EventMessageUpdated, constants.EventMessageDeleted)
	require.NoError(t, err)
	defer stop()

	rec, err := svc.Send(as("alice"), SendMessageRequest{ChannelID: "general", Content: "draft"})
	require.NoError(t, err)

	_, err = svc.Update(as("bob"), UpdateMessageRequest{ID: rec.ID, Content: "mine now"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Delete(as("bob"), rec.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.Update(as("alice"), UpdateMessageRequest{ID: rec.ID, Content: "final"})
	require.NoError(t, err)
	assert.Equal(t, "final", updated.Content)
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))

	_, err = svc.Delete(as("alice"), rec.ID)
	require.NoError(t, err)
	_, err = svc.Delete(as("alice"), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got := collect(events)
	require.Len(t, got, 2)
	assert.Equal(t, constants.EventMessageUpdated, got[0].Event)
	assert.Equal(t, "final", got[0].Data["content"])
	assert.Equal(t, constants.EventMessageDeleted, got[1].Event)
	assert.Equal(t, timeline.Raw{"id": rec.ID, "channelId": "general", "deleted": true}, got[1].Data)
}

func TestWatchValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, _, err := svc.Watch(context.Background(), "bad channel")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, _, err = svc.Watch(context.Background(), "general", "typing")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestWatchStopUnsubscribes(t *testing.T) {
	svc, _ := newTestService(t, nil)
	events, stop, err := svc.Watch(context.Background(), "general")
	require.NoError(t, err)
	stop()

	_, err = svc.Send(as("alice"), SendMessageRequest{ChannelID: "general", Content: "after stop"})
	require.NoError(t, err)
	assert.Empty(t, collect(events))
}

func TestContentSealedAtRest(t *testing.T) {
	key := make([]byte, constants.MasterKeyLength)
	for i := range key {
		key[i] = byte(i)
	}
	sealer, err := encryption.NewSealer(true, key)
	require.NoError(t, err)
	svc, repo := newTestService(t, sealer)

	rec, err := svc.Send(as("alice"), SendMessageRequest{ChannelID: "general", Content: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "secret", rec.Content)

	stored, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.Content, "secret")

	recs, err := svc.List(context.Background(), ListMessagesRequest{ChannelID: "general"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "secret", recs[0].Content)

	// 換了金鑰的服務讀不出內容，但不會讓整批查詢失敗
	other, err := NewService(repo, relay.NewMemoryRelay(), nil)
	require.NoError(t, err)
	recs, err = other.List(context.Background(), ListMessagesRequest{ChannelID: "general"})
	require.NoError(t, err)
	assert.Equal(t, DecryptFailedText, recs[0].Content)
}

func TestTimelineGroupsByDayAndAuthor(t *testing.T) {
	svc, repo := newTestService(t, nil)
	clock := time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
	repo.Now = func() time.Time {
		clock = clock.Add(5 * time.Minute)
		return clock
	}

	for _, send := range []struct{ user, content string }{
		{"alice", "late"},  // 23:55
		{"alice", "later"}, // 00:00 next day
		{"bob", "morning"}, // 00:05
	} {
		_, err := svc.Send(as(send.user), SendMessageRequest{ChannelID: "general", Content: send.content})
		require.NoError(t, err)
	}

	groups, err := svc.Timeline(context.Background(), "general", nil, timeline.NewGrouper(time.UTC, time.DateOnly))
	require.NoError(t, err)

	kinds := make([]timeline.Kind, 0, len(groups))
	for _, g := range groups {
		kinds = append(kinds, g.Kind)
	}
	assert.Equal(t, []timeline.Kind{
		timeline.KindSeparator, timeline.KindRun,
		timeline.KindSeparator, timeline.KindRun, timeline.KindRun,
	}, kinds)
	assert.Equal(t, "2024-03-02", groups[2].Label)
	assert.Equal(t, "later", groups[3].Messages[0].Content)
	assert.Equal(t, "bob", groups[4].AuthorID)
}

func TestFetchMessagesSatisfiesFetcher(t *testing.T) {
	svc, _ := newTestService(t, nil)
	var fetcher timeline.Fetcher = svc
	_, err := svc.Send(as("alice"), SendMessageRequest{ChannelID: "general", Content: "hi"})
	require.NoError(t, err)

	raws, err := fetcher.FetchMessages(context.Background(), "general", time.Time{})
	require.NoError(t, err)
	require.Len(t, raws, 1)
	msg := timeline.NewNormalizer().Normalize(raws[0])
	assert.Equal(t, "hi", msg.Content)
	assert.Empty(t, msg.Degraded)
}

package render

import (
	"bytes"
	"testing"
	"time"

	"chat-timeline/internal/timeline"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

func fixture() []timeline.Message {
	alice := timeline.Message{AuthorID: "alice", AuthorName: "Alice", Status: timeline.StatusConfirmed}
	bob := timeline.Message{AuthorID: "bob", AuthorName: "Bob", Status: timeline.StatusConfirmed}

	msg := func(base timeline.Message, id, content string, ts time.Time) timeline.Message {
		base.ID, base.Content, base.CreatedAt, base.UpdatedAt = id, content, ts, ts
		return base
	}

	edited := msg(bob, "m3", "yes please", at(1, 9, 20))
	edited.UpdatedAt = at(1, 9, 25)

	pending := msg(alice, "local-1", "on my way", at(2, 8, 5))
	pending.Status = timeline.StatusPending
	pending.ClientID = "local-1"

	failed := msg(alice, "local-2", "ok", at(2, 8, 6))
	failed.Status = timeline.StatusFailed
	failed.ClientID = "local-2"
	failed.Err = "network down"

	return []timeline.Message{
		msg(alice, "m1", "good morning", at(1, 9, 15)),
		msg(alice, "m2", "coffee?\nanyone", at(1, 9, 16)),
		edited,
		msg(bob, "m4", "new day", at(2, 8, 0)),
		pending,
		failed,
	}
}

func TestTextGolden(t *testing.T) {
	groups := timeline.NewGrouper(time.UTC, "").Group(fixture())

	var buf bytes.Buffer
	require.NoError(t, Text{}.Write(&buf, groups))

	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "timeline", buf.Bytes())
}

func TestTextUsesLocation(t *testing.T) {
	taipei := time.FixedZone("CST", 8*60*60)
	groups := timeline.NewGrouper(taipei, "2006-01-02").Group(fixture()[:1])

	out := Text{Location: taipei}.String(groups)
	assert.Equal(t, "--- 2024-03-01 ---\nAlice\n  17:15  good morning\n", out)
}

func TestTextEmpty(t *testing.T) {
	assert.Empty(t, Text{}.String(nil))
}

func TestAuthorFallsBackToID(t *testing.T) {
	msgs := []timeline.Message{{ID: "x", AuthorID: "ghost", Content: "boo", CreatedAt: at(3, 0, 0), UpdatedAt: at(3, 0, 0)}}
	out := Text{}.String(timeline.NewGrouper(time.UTC, "").Group(msgs))
	assert.Contains(t, out, "\nghost\n")
}

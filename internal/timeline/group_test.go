package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterKind(groups []RenderGroup, kind Kind) []RenderGroup {
	var out []RenderGroup
	for _, g := range groups {
		if g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}

func at(id, author string, ts time.Time) Message {
	return Message{ID: id, AuthorID: author, CreatedAt: ts, UpdatedAt: ts, Status: StatusConfirmed}
}

// Scenario B
func TestGroupSpansTwoDays(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	ordered := []Message{
		at("a", "u1", day1),
		at("b", "u1", day1.Add(30*time.Minute)),
		at("c", "u1", day2),
	}

	groups := NewGrouper(time.UTC, "2006-01-02").Group(ordered)

	require.Len(t, groups, 4)
	assert.Equal(t, KindSeparator, groups[0].Kind)
	assert.Equal(t, "2024-03-01", groups[0].Label)
	assert.Equal(t, KindRun, groups[1].Kind)
	assert.Equal(t, []string{"a", "b"}, ids(groups[1].Messages))
	assert.Equal(t, KindSeparator, groups[2].Kind)
	assert.Equal(t, "2024-03-02", groups[2].Label)
	assert.Equal(t, KindRun, groups[3].Kind)
	assert.Equal(t, []string{"c"}, ids(groups[3].Messages))
}

func TestGroupUsesConfiguredLocation(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	// 兩則訊息在 UTC 是不同日，在洛杉磯是同一日
	ordered := []Message{
		at("a", "u1", time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)),
		at("b", "u1", time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)),
	}

	utc := NewGrouper(time.UTC, "").Group(ordered)
	local := NewGrouper(la, "").Group(ordered)

	assert.Len(t, filterKind(utc, KindSeparator), 2)
	assert.Len(t, filterKind(local, KindSeparator), 1)
	assert.Equal(t, "Friday, March 1, 2024", local[0].Label)
}

func TestGroupSplitsOnAuthorChange(t *testing.T) {
	ordered := []Message{
		at("a", "u1", base),
		at("b", "u2", base.Add(time.Minute)),
		at("c", "u2", base.Add(2*time.Minute)),
		at("d", "u1", base.Add(3*time.Minute)),
	}

	runs := filterKind(NewGrouper(time.UTC, "").Group(ordered), KindRun)

	require.Len(t, runs, 3)
	assert.Equal(t, "u1", runs[0].AuthorID)
	assert.Equal(t, []string{"b", "c"}, ids(runs[1].Messages))
	assert.Equal(t, "u1", runs[2].AuthorID)
}

func TestGroupRunsAreHomogeneous(t *testing.T) {
	authors := []string{"u1", "u1", "u2", "u1", "u3", "u3", "u3", "u2"}
	var ordered []Message
	for i, a := range authors {
		ordered = append(ordered, at(string(rune('a'+i)), a, base.Add(time.Duration(i)*7*time.Hour)))
	}

	g := NewGrouper(time.UTC, "")
	var total int
	for _, run := range filterKind(g.Group(ordered), KindRun) {
		y, m, d := run.Messages[0].CreatedAt.Date()
		for _, msg := range run.Messages {
			assert.Equal(t, run.AuthorID, msg.AuthorID)
			my, mm, md := msg.CreatedAt.Date()
			assert.Equal(t, []int{y, int(m), d}, []int{my, int(mm), md})
		}
		total += len(run.Messages)
	}
	assert.Equal(t, len(ordered), total)
}

func TestGroupAllRestartableAndStoppable(t *testing.T) {
	ordered := []Message{at("a", "u1", base), at("b", "u2", base.Add(time.Minute))}
	g := NewGrouper(time.UTC, "")

	first := g.Group(ordered)
	second := g.Group(ordered)
	assert.Equal(t, first, second)

	var n int
	for range g.All(ordered) {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestGroupEmpty(t *testing.T) {
	assert.Empty(t, NewGrouper(nil, "").Group(nil))
}

func TestDirectChannelID(t *testing.T) {
	assert.Equal(t, DirectChannelID("bob", "alice"), DirectChannelID("alice", "bob"))
	assert.Equal(t, "alice-bob", DirectChannelID("bob", "alice"))
	assert.Equal(t, "chat-alice-bob", RelayChannel("alice-bob"))
	assert.True(t, IsClientID(NewClientID()))
	assert.False(t, IsClientID("65f1c0ffee"))
}

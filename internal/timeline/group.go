package timeline

import (
	"iter"
	"slices"
	"time"

	"chat-timeline/internal/constants"
)

// Kind 分組類型.
type Kind int

const (
	// KindSeparator 日期分隔線
	KindSeparator Kind = iota + 1
	// KindRun 同一作者連續的訊息
	KindRun
)

func (k Kind) String() string {
	switch k {
	case KindSeparator:
		return "separator"
	case KindRun:
		return "run"
	}
	return "unknown"
}

// RenderGroup 日期分隔線或同一作者的連續訊息.
type RenderGroup struct {
	Kind Kind
	// Day 該日在 Grouper.Location 中的零點
	Day   time.Time
	Label string

	AuthorID    string
	AuthorName  string
	AuthorImage string
	Messages    []Message
}

// Grouper 依日曆日與作者切分已排序的訊息.
type Grouper struct {
	Location *time.Location
	Layout   string
}

// NewGrouper 建立 Grouper，loc 為 nil 時使用 UTC.
func NewGrouper(loc *time.Location, layout string) Grouper {
	if loc == nil {
		loc = time.UTC
	}
	if layout == "" {
		layout = constants.DefaultDateLayout
	}
	return Grouper{Location: loc, Layout: layout}
}

// Group 回傳完整的分組結果.
func (g Grouper) Group(ordered []Message) []RenderGroup {
	return slices.Collect(g.All(ordered))
}

// All 以可重複迭代的序列輸出分組，每次迭代都從頭計算.
func (g Grouper) All(ordered []Message) iter.Seq[RenderGroup] {
	loc := g.Location
	if loc == nil {
		loc = time.UTC
	}
	layout := g.Layout
	if layout == "" {
		layout = constants.DefaultDateLayout
	}

	return func(yield func(RenderGroup) bool) {
		var (
			day      time.Time
			haveDay  bool
			start    int
			inRun    bool
			authorID string
		)

		flush := func(end int) bool {
			if !inRun {
				return true
			}
			inRun = false
			first := ordered[start]
			return yield(RenderGroup{
				Kind:        KindRun,
				Day:         day,
				AuthorID:    first.AuthorID,
				AuthorName:  first.AuthorName,
				AuthorImage: first.AuthorImage,
				Messages:    ordered[start:end:end],
			})
		}

		for i, m := range ordered {
			d := startOfDay(m.CreatedAt, loc)
			if !haveDay || !d.Equal(day) {
				if !flush(i) {
					return
				}
				day, haveDay = d, true
				if !yield(RenderGroup{Kind: KindSeparator, Day: d, Label: d.Format(layout)}) {
					return
				}
			}
			if inRun && m.AuthorID == authorID {
				continue
			}
			if !flush(i) {
				return
			}
			start, inRun, authorID = i, true, m.AuthorID
		}
		flush(len(ordered))
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

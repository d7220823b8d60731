// Package render 把時間軸分組輸出成終端機可讀的純文字.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"chat-timeline/internal/timeline"
)

const (
	timeLayout = "15:04"
	indent     = "  "

	// 內容續行對齊在時間欄之後
	continuation = indent + "       "
)

// Text 純文字渲染器.
type Text struct {
	// Location 訊息時間的顯示時區，nil 時使用 UTC
	Location *time.Location
}

// Write 依序輸出日期分隔線、作者標題與訊息行.
func (t Text) Write(w io.Writer, groups []timeline.RenderGroup) error {
	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	for i, g := range groups {
		switch g.Kind {
		case timeline.KindSeparator:
			if i > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "--- %s ---\n", g.Label)
		case timeline.KindRun:
			b.WriteString(author(g))
			b.WriteByte('\n')
			for _, m := range g.Messages {
				writeMessage(&b, m, loc)
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// String 回傳渲染結果.
func (t Text) String(groups []timeline.RenderGroup) string {
	var b strings.Builder
	_ = t.Write(&b, groups)
	return b.String()
}

func author(g timeline.RenderGroup) string {
	if g.AuthorName != "" {
		return g.AuthorName
	}
	return g.AuthorID
}

func writeMessage(b *strings.Builder, m timeline.Message, loc *time.Location) {
	content := strings.ReplaceAll(m.Content, "\n", "\n"+continuation)
	fmt.Fprintf(b, "%s%s  %s%s\n", indent, m.CreatedAt.In(loc).Format(timeLayout), content, marker(m))
}

func marker(m timeline.Message) string {
	switch m.Status {
	case timeline.StatusPending:
		return " (sending…)"
	case timeline.StatusFailed:
		if m.Err == "" {
			return " (failed)"
		}
		return " (failed: " + m.Err + ")"
	}
	if m.UpdatedAt.After(m.CreatedAt) {
		return " (edited)"
	}
	return ""
}

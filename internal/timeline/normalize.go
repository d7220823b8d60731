package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"chat-timeline/internal/constants"
)

// 正規化時可能被替換的欄位
const (
	FieldID        = "id"
	FieldAuthorID  = "authorId"
	FieldContent   = "content"
	FieldCreatedAt = "createdAt"
)

var (
	idKeys        = []string{"id", "_id"}
	authorIDKeys  = []string{"authorId", "userId", "author_id", "user_id", "sender_id"}
	contentKeys   = []string{"content", "text"}
	createdAtKeys = []string{"createdAt", "created_at"}
	updatedAtKeys = []string{"updatedAt", "updated_at"}
	channelKeys   = []string{"channelId", "channel_id"}
	clientIDKeys  = []string{"clientId", "client_id"}
	nameKeys      = []string{"authorName", "author_name"}
	imageKeys     = []string{"authorImage", "author_image"}
	userKeys      = []string{"user", "author"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// Normalizer 把鬆散的訊息紀錄轉成 Message，本身沒有副作用.
type Normalizer struct {
	// Now 時間戳無法解析時使用
	Now           func() time.Time
	AnonymousName string
	DefaultAvatar string
}

// NewNormalizer 建立使用預設替代值的 Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		Now:           time.Now,
		AnonymousName: constants.DefaultAnonymousName,
		DefaultAvatar: constants.DefaultAvatar,
	}
}

// Normalize 轉換單筆紀錄，缺漏欄位以替代值補上並記錄於 Message.Degraded.
func (n *Normalizer) Normalize(raw Raw) Message {
	var degraded []string

	m := Message{
		ChannelID: firstString(raw, channelKeys),
		AuthorID:  firstString(raw, authorIDKeys),
		ClientID:  firstString(raw, clientIDKeys),
		Status:    StatusConfirmed,
	}

	if m.AuthorID == "" {
		degraded = append(degraded, FieldAuthorID)
	}

	content, ok := firstValue(raw, contentKeys)
	if s, isString := content.(string); ok && isString {
		m.Content = s
	} else {
		degraded = append(degraded, FieldContent)
	}

	createdAt, ok := firstTime(raw, createdAtKeys)
	if !ok {
		createdAt = n.now()
		degraded = append(degraded, FieldCreatedAt)
	}
	m.CreatedAt = createdAt

	if updatedAt, ok := firstTime(raw, updatedAtKeys); ok {
		m.UpdatedAt = updatedAt
	} else {
		m.UpdatedAt = m.CreatedAt
	}

	m.AuthorName = firstString(raw, nameKeys)
	m.AuthorImage = firstString(raw, imageKeys)
	if nested, ok := firstValue(raw, userKeys); ok {
		if user, isMap := nested.(map[string]any); isMap {
			if m.AuthorName == "" {
				m.AuthorName = firstString(user, []string{"name"})
			}
			if m.AuthorImage == "" {
				m.AuthorImage = firstString(user, []string{"image"})
			}
			if m.AuthorID == "" {
				if id := firstString(user, []string{"id"}); id != "" {
					m.AuthorID = id
					degraded = removeField(degraded, FieldAuthorID)
				}
			}
		}
	}
	if m.AuthorName == "" {
		m.AuthorName = n.anonymous()
	}
	if m.AuthorImage == "" {
		m.AuthorImage = n.avatar()
	}

	m.ID = firstString(raw, idKeys)
	if m.ID == "" {
		// 同一作者同一毫秒的兩筆紀錄會得到相同 ID
		m.ID = SynthesizeID(m.AuthorID, m.CreatedAt)
		degraded = append(degraded, FieldID)
	}

	m.Degraded = degraded
	return m
}

// NormalizeAll 依序轉換多筆紀錄.
func (n *Normalizer) NormalizeAll(raws []Raw) []Message {
	out := make([]Message, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw))
	}
	return out
}

// SynthesizeID 缺少 ID 時由作者與建立時間（毫秒）組成.
func SynthesizeID(authorID string, createdAt time.Time) string {
	return authorID + ":" + strconv.FormatInt(createdAt.UnixMilli(), 10)
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Normalizer) anonymous() string {
	if n.AnonymousName == "" {
		return constants.DefaultAnonymousName
	}
	return n.AnonymousName
}

func (n *Normalizer) avatar() string {
	if n.DefaultAvatar == "" {
		return constants.DefaultAvatar
	}
	return n.DefaultAvatar
}

func firstValue(raw Raw, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw Raw, keys []string) string {
	v, ok := firstValue(raw, keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	case float64:
		if s == math.Trunc(s) && s >= math.MinInt64 && s < math.MaxInt64 {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(s)
	case fmt.Stringer:
		return s.String()
	}
	return ""
}

func firstTime(raw Raw, keys []string) (time.Time, bool) {
	v, ok := firstValue(raw, keys)
	if !ok {
		return time.Time{}, false
	}
	return parseTime(v)
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return fromEpoch(n)
		}
	case float64:
		if t >= 0 && t < maxEpochMillis {
			return fromEpoch(int64(t))
		}
	case int64:
		return fromEpoch(t)
	case int:
		return fromEpoch(int64(t))
	}
	return time.Time{}, false
}

// 合理的 epoch 範圍：秒為 2001 年起的十位或十一位數，毫秒為十三或十四位數.
// 其餘數值（例如 "20240101"）視為無法解析.
const (
	minEpochSeconds = 1e9
	maxEpochSeconds = 1e11
	minEpochMillis  = 1e12
	maxEpochMillis  = 1e14
)

// fromEpoch 十三位數以上視為毫秒，範圍外回傳 false
func fromEpoch(n int64) (time.Time, bool) {
	switch {
	case n >= minEpochMillis && n < maxEpochMillis:
		return time.UnixMilli(n).UTC(), true
	case n >= minEpochSeconds && n < maxEpochSeconds:
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

func removeField(fields []string, field string) []string {
	out := fields[:0]
	for _, f := range fields {
		if f != field {
			out = append(out, f)
		}
	}
	return out
}

package timeline

import (
	"cmp"
	"slices"
	"time"
)

// Outcome 單筆訊息合併的結果.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeReplaced Outcome = "replaced"
	OutcomeIgnored  Outcome = "ignored"
)

// MergeResult 一次合併的統計.
type MergeResult struct {
	Inserted int
	Replaced int
	Ignored  int
}

// Changed 是否有任何訊息被新增或替換.
func (r MergeResult) Changed() bool {
	return r.Inserted > 0 || r.Replaced > 0
}

func (r *MergeResult) add(o Outcome) {
	switch o {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeReplaced:
		r.Replaced++
	default:
		r.Ignored++
	}
}

type entry struct {
	msg Message
	seq uint64 // 抵達順序，CreatedAt 相同時用來排序
}

// Set 以 ID 為鍵的頻道訊息集合，零值可直接使用.
//
// Set 本身不做同步，由持有者（Session）負責加鎖.
type Set struct {
	entries  map[string]*entry
	byClient map[string]string // ClientID -> ID
	next     uint64
}

// NewSet 建立集合並合併初始訊息.
func NewSet(msgs ...Message) *Set {
	s := &Set{}
	s.Merge(msgs...)
	return s
}

// Merge 對既有集合的複本合併 incoming，不修改 existing.
func Merge(existing *Set, incoming []Message) *Set {
	out := existing.Clone()
	out.Merge(incoming...)
	return out
}

// Merge 就地合併訊息.
//
// 相同 ID 已存在時，權威副本會取代它，除非既有的權威副本 UpdatedAt 較新；
// 樂觀副本永遠不取代既有項目。帶有 ClientID 的權威副本會取代同一 ClientID
// 的樂觀項目並沿用其抵達順序。
func (s *Set) Merge(incoming ...Message) MergeResult {
	var res MergeResult
	for _, m := range incoming {
		res.add(s.mergeOne(m))
	}
	return res
}

func (s *Set) mergeOne(m Message) Outcome {
	s.init()

	if m.Optimistic() {
		if _, ok := s.entries[m.ID]; ok {
			return OutcomeIgnored
		}
		// 權威副本比樂觀副本先到
		if m.ClientID != "" {
			if _, ok := s.byClient[m.ClientID]; ok {
				return OutcomeIgnored
			}
		}
		s.insert(m, s.nextSeq())
		return OutcomeInserted
	}

	if m.ClientID != "" {
		if id, ok := s.byClient[m.ClientID]; ok && id != m.ID {
			placeholder := s.entries[id]
			if placeholder != nil && placeholder.msg.Optimistic() {
				seq := placeholder.seq
				s.delete(id)
				if cur, exists := s.entries[m.ID]; exists {
					return s.replace(cur, m)
				}
				s.insert(m, seq)
				return OutcomeReplaced
			}
		}
	}

	cur, ok := s.entries[m.ID]
	if !ok {
		s.insert(m, s.nextSeq())
		return OutcomeInserted
	}
	return s.replace(cur, m)
}

func (s *Set) replace(cur *entry, m Message) Outcome {
	if !cur.msg.Optimistic() && cur.msg.UpdatedAt.After(m.UpdatedAt) {
		return OutcomeIgnored
	}
	if equalMessage(cur.msg, m) {
		return OutcomeIgnored
	}
	if cur.msg.ClientID != "" && cur.msg.ClientID != m.ClientID {
		delete(s.byClient, cur.msg.ClientID)
	}
	cur.msg = m
	if m.ClientID != "" {
		s.byClient[m.ClientID] = m.ID
	}
	return OutcomeReplaced
}

func (s *Set) insert(m Message, seq uint64) {
	s.entries[m.ID] = &entry{msg: m, seq: seq}
	if m.ClientID != "" {
		s.byClient[m.ClientID] = m.ID
	}
}

func (s *Set) delete(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.msg.ClientID != "" && s.byClient[e.msg.ClientID] == id {
		delete(s.byClient, e.msg.ClientID)
	}
	delete(s.entries, id)
}

func (s *Set) nextSeq() uint64 {
	s.next++
	return s.next
}

func (s *Set) init() {
	if s.entries == nil {
		s.entries = make(map[string]*entry)
		s.byClient = make(map[string]string)
	}
}

// Remove 刪除指定 ID（推送的刪除事件）.
func (s *Set) Remove(id string) bool {
	if _, ok := s.entries[id]; !ok {
		return false
	}
	s.delete(id)
	return true
}

// MarkFailed 把樂觀項目標記為送出失敗，項目仍保留.
func (s *Set) MarkFailed(clientID string, cause error) bool {
	e := s.optimistic(clientID)
	if e == nil {
		return false
	}
	e.msg.Status = StatusFailed
	if cause != nil {
		e.msg.Err = cause.Error()
	}
	return true
}

// MarkPending 把失敗項目改回等待中，回傳更新後的訊息.
func (s *Set) MarkPending(clientID string) (Message, bool) {
	e := s.optimistic(clientID)
	if e == nil || e.msg.Status != StatusFailed {
		return Message{}, false
	}
	e.msg.Status = StatusPending
	e.msg.Err = ""
	return e.msg, true
}

func (s *Set) optimistic(clientID string) *entry {
	id, ok := s.byClient[clientID]
	if !ok {
		return nil
	}
	e := s.entries[id]
	if e == nil || !e.msg.Optimistic() {
		return nil
	}
	return e
}

// Get 依 ID 取得訊息.
func (s *Set) Get(id string) (Message, bool) {
	e, ok := s.entries[id]
	if !ok {
		return Message{}, false
	}
	return e.msg, true
}

// ByClientID 依 ClientID 取得訊息.
func (s *Set) ByClientID(clientID string) (Message, bool) {
	id, ok := s.byClient[clientID]
	if !ok {
		return Message{}, false
	}
	return s.Get(id)
}

// Len 訊息數量.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Watermark 一批輪詢結果中最新的可信建立時間.
//
// 樂觀訊息與建立時間由本地時鐘補上的訊息不列入.
func Watermark(msgs []Message) (mark time.Time, ok bool) {
	for _, m := range msgs {
		if m.Optimistic() || slices.Contains(m.Degraded, FieldCreatedAt) {
			continue
		}
		if !ok || m.CreatedAt.After(mark) {
			mark, ok = m.CreatedAt, true
		}
	}
	return mark, ok
}

// Clone 深層複製集合.
func (s *Set) Clone() *Set {
	out := &Set{}
	out.init()
	if s == nil {
		return out
	}
	out.next = s.next
	for id, e := range s.entries {
		cp := *e
		cp.msg.Degraded = slices.Clone(e.msg.Degraded)
		out.entries[id] = &cp
	}
	for k, v := range s.byClient {
		out.byClient[k] = v
	}
	return out
}

// Messages 依 CreatedAt 升冪排序，時間相同時依抵達順序.
func (s *Set) Messages() []Message {
	if s == nil {
		return nil
	}
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *entry) int {
		if c := a.msg.CreatedAt.Compare(b.msg.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]Message, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

func equalMessage(a, b Message) bool {
	return a.ID == b.ID &&
		a.ChannelID == b.ChannelID &&
		a.AuthorID == b.AuthorID &&
		a.AuthorName == b.AuthorName &&
		a.AuthorImage == b.AuthorImage &&
		a.Content == b.Content &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		a.ClientID == b.ClientID &&
		a.Status == b.Status &&
		a.Err == b.Err
}

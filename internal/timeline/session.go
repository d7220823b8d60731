package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-timeline/internal/constants"
	"chat-timeline/internal/platform/logger"
	"chat-timeline/internal/platform/metrics"

	"golang.org/x/time/rate"
)

// Options Session 的依賴與設定.
type Options struct {
	ChannelID  string
	Fetcher    Fetcher
	Subscriber Subscriber
	Persister  Persister
	Identity   Identity
	Normalizer *Normalizer
	Grouper    Grouper

	// PollInterval 輪詢間隔，0 使用預設 5 秒
	PollInterval time.Duration
	// SendsPerMinute 每分鐘可送出的訊息數，0 表示不限制
	SendsPerMinute int
	// OnChange 每次集合變動後呼叫（不持有鎖）
	OnChange func()
	Now      func() time.Time
}

// Session 一個對話的完整狀態：訊息集合、輪詢計時器與推送訂閱.
//
// 所有變更都透過 Set 的方法在 mu 之下進行.
type Session struct {
	opts Options

	mu      sync.Mutex
	set     *Set
	subs    []Subscription
	// polled 只由輪詢結果推進，推送的訊息不影響
	polled  time.Time
	started bool
	looping bool
	closed  bool

	sender *Sender
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession 建立尚未啟動的 Session.
func NewSession(opts Options) (*Session, error) {
	if opts.ChannelID == "" {
		return nil, errors.New("timeline: channel id is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("timeline: fetcher is required")
	}
	if opts.Normalizer == nil {
		opts.Normalizer = NewNormalizer()
	}
	if opts.Grouper.Location == nil {
		opts.Grouper = NewGrouper(nil, opts.Grouper.Layout)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = constants.DefaultPollIntervalSeconds * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:   opts,
		set:    NewSet(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var limiter *rate.Limiter
	if opts.SendsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.SendsPerMinute)), opts.SendsPerMinute)
	}
	s.sender = &Sender{
		channelID:  opts.ChannelID,
		ledger:     s,
		persister:  opts.Persister,
		identity:   opts.Identity,
		normalizer: opts.Normalizer,
		limiter:    limiter,
		now:        opts.Now,
		ctx:        ctx,
	}
	return s, nil
}

// ChannelID 對話的頻道 ID.
func (s *Session) ChannelID() string {
	return s.opts.ChannelID
}

// Start 載入初始訊息、訂閱推送事件並開始輪詢.
//
// 初次載入或訂閱失敗不會中止 Session，畫面維持目前狀態並等下次輪詢.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.poll(ctx, "fetch")

	if s.opts.Subscriber != nil {
		handlers := map[string]func(Raw){
			constants.EventNewMessage:     s.onPushed,
			constants.EventMessageUpdated: s.onPushed,
			constants.EventMessageDeleted: s.onDeleted,
		}
		channel := RelayChannel(s.opts.ChannelID)
		for _, event := range []string{constants.EventNewMessage, constants.EventMessageUpdated, constants.EventMessageDeleted} {
			sub, err := s.opts.Subscriber.Subscribe(s.ctx, channel, event, handlers[event])
			if err != nil {
				logger.Warning(ctx, "訂閱推送事件失敗，僅使用輪詢",
					logger.WithChannelID(s.opts.ChannelID),
					logger.WithAction(event),
					logger.WithError(err))
				continue
			}
			if !s.track(sub) {
				return ErrSessionClosed
			}
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.looping = true
	s.mu.Unlock()

	go s.loop()
	return nil
}

// track 記錄訂閱；Session 已關閉時立即取消訂閱
func (s *Session) track(sub Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.Unsubscribe()
		return false
	}
	s.subs = append(s.subs, sub)
	return true
}

func (s *Session) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll(s.ctx, "poll")
		}
	}
}

func (s *Session) poll(ctx context.Context, source string) {
	var since time.Time
	s.mu.Lock()
	if !s.polled.IsZero() {
		since = s.polled.Add(-constants.PollOverlapSeconds * time.Second)
	}
	s.mu.Unlock()

	raws, err := s.opts.Fetcher.FetchMessages(ctx, s.opts.ChannelID, since)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		metrics.PollErrors.Inc()
		logger.Warning(ctx, "取得訊息失敗，保留目前畫面",
			logger.WithChannelID(s.opts.ChannelID),
			logger.WithAction(source),
			logger.WithError(err))
		return
	}

	msgs := make([]Message, 0, len(raws))
	for _, raw := range raws {
		if m, ok := s.normalize(ctx, raw); ok {
			msgs = append(msgs, m)
		}
	}
	if !s.apply(source, msgs...) {
		return
	}

	if mark, ok := Watermark(msgs); ok {
		s.mu.Lock()
		if mark.After(s.polled) {
			s.polled = mark
		}
		s.mu.Unlock()
	}
}

func (s *Session) onPushed(raw Raw) {
	if m, ok := s.normalize(s.ctx, raw); ok {
		s.apply("push", m)
	}
}

func (s *Session) onDeleted(raw Raw) {
	id := firstString(raw, idKeys)
	if id == "" {
		return
	}
	if ch := firstString(raw, channelKeys); ch != "" && ch != s.opts.ChannelID {
		s.dropForeign(ch, id)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	removed := s.set.Remove(id)
	s.mu.Unlock()

	if removed {
		metrics.MergeTotal.WithLabelValues("push", "removed").Inc()
		s.notify()
	}
}

// normalize 轉換紀錄並過濾其他頻道的訊息
func (s *Session) normalize(ctx context.Context, raw Raw) (Message, bool) {
	m := s.opts.Normalizer.Normalize(raw)
	for _, field := range m.Degraded {
		metrics.NormalizeDegraded.WithLabelValues(field).Inc()
	}
	if len(m.Degraded) > 0 {
		logger.Warning(ctx, "訊息資料不完整，已使用替代值",
			logger.WithChannelID(s.opts.ChannelID),
			logger.WithMessageID(m.ID),
			logger.WithDetails(map[string]any{"fields": m.Degraded}))
	}

	if m.ChannelID == "" {
		m.ChannelID = s.opts.ChannelID
	}
	if m.ChannelID != s.opts.ChannelID {
		s.dropForeign(m.ChannelID, m.ID)
		return Message{}, false
	}
	return m, true
}

func (s *Session) dropForeign(channelID, id string) {
	logger.Warning(s.ctx, "忽略其他頻道的事件",
		logger.WithChannelID(s.opts.ChannelID),
		logger.WithMessageID(id),
		logger.WithDetails(map[string]any{"eventChannelId": channelID}))
}

// apply 實作 ledger；Session 已關閉時回傳 false
func (s *Session) apply(source string, msgs ...Message) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	res := s.merge(source, msgs)
	s.mu.Unlock()

	if res.Changed() {
		s.notify()
	}
	return true
}

// enqueue 插入等待中的訊息並登記背景送出，兩者在同一把鎖下完成
func (s *Session) enqueue(msg Message) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	res := s.merge("send", []Message{msg})
	s.sender.wg.Add(1)
	s.mu.Unlock()

	if res.Changed() {
		s.notify()
	}
	return true
}

// merge 需持有 mu
func (s *Session) merge(source string, msgs []Message) MergeResult {
	var res MergeResult
	for _, m := range msgs {
		one := s.set.Merge(m)
		switch {
		case one.Inserted > 0:
			metrics.MergeTotal.WithLabelValues(source, string(OutcomeInserted)).Inc()
		case one.Replaced > 0:
			metrics.MergeTotal.WithLabelValues(source, string(OutcomeReplaced)).Inc()
		default:
			metrics.MergeTotal.WithLabelValues(source, string(OutcomeIgnored)).Inc()
		}
		res.Inserted += one.Inserted
		res.Replaced += one.Replaced
		res.Ignored += one.Ignored
	}
	return res
}

func (s *Session) markFailed(clientID string, cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := s.set.MarkFailed(clientID, cause)
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// markPending 成功時同時登記背景送出
func (s *Session) markPending(clientID string) (Message, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Message{}, false
	}
	m, ok := s.set.MarkPending(clientID)
	if ok {
		s.sender.wg.Add(1)
	}
	s.mu.Unlock()

	if ok {
		s.notify()
	}
	return m, ok
}

func (s *Session) notify() {
	if s.opts.OnChange != nil {
		s.opts.OnChange()
	}
}

// Send 樂觀送出訊息.
func (s *Session) Send(ctx context.Context, content string) (Message, error) {
	if s.isClosed() {
		return Message{}, ErrSessionClosed
	}
	msg, err := s.sender.Send(ctx, content)
	if err != nil {
		return Message{}, fmt.Errorf("送出訊息失敗: %w", err)
	}
	return msg, nil
}

// Retry 重新送出失敗的訊息.
func (s *Session) Retry(ctx context.Context, clientID string) (Message, error) {
	if s.isClosed() {
		return Message{}, ErrSessionClosed
	}
	return s.sender.Retry(ctx, clientID)
}

// Wait 等待背景送出完成.
func (s *Session) Wait() {
	s.sender.Wait()
}

// Snapshot 目前已合併的訊息（已排序）.
func (s *Session) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Messages()
}

// Groups 依目前訊息重新計算分組.
func (s *Session) Groups() []RenderGroup {
	return s.opts.Grouper.Group(s.Snapshot())
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close 停止輪詢、取消訂閱，之後到達的事件一律丟棄；可重複呼叫.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	looping := s.looping
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if looping {
		<-s.done
	}
	s.sender.Wait()
}

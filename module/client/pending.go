package client

import (
	"context"
	"sync"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// 待确认消息状态
const (
	StatusSending   = "SENDING"
	StatusDelivered = "DELIVERED"
	StatusFailed    = "FAILED"
)

type PendingMessage struct {
	ClientSeq       string
	Content         string
	To              string
	ConvType        int32
	SendTime        time.Time // 最近一次发出的时间
	CreatedAt       time.Time
	RetryCount      int
	Status          string
	ServerMsgID     string
	ConversationSeq int64
	ConversationID  string
}

// Request 重发用的原始请求
func (p *PendingMessage) Request(from string) model.SendRequest {
	return model.SendRequest{From: from, To: p.To, ConvType: p.ConvType, ClientSeq: p.ClientSeq, Content: p.Content}
}

type ResendFunc func(ctx context.Context, p PendingMessage) error

type PendingOptions struct {
	Capacity      int
	AckTimeout    time.Duration
	MaxRetry      int
	TTL           time.Duration
	PurgeInterval time.Duration
	Scheduler     TimeoutScheduler
	Clock         clockwork.Clock
	Metrics       *Metrics
	OnDelivered   func(p PendingMessage)
	OnFailed      func(p PendingMessage) // 每条消息最多触发一次
}

func (o *PendingOptions) norm() {
	if o.Capacity <= 0 {
		o.Capacity = 10000
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = 5 * time.Second
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 3
	}
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.PurgeInterval <= 0 {
		o.PurgeInterval = time.Minute
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Scheduler == nil {
		o.Scheduler = NewSweepScheduler(time.Second, o.Clock)
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
}

// PendingAckTracker 发送端待确认集合：SENDING -> DELIVERED / FAILED。
// 超时检测交给 TimeoutScheduler，Cancel 只是移除，不打断已到期的处理
type PendingAckTracker struct {
	user    string
	resend  ResendFunc
	cursors CursorStore
	opts    PendingOptions
	log     *zap.Logger

	mu    sync.Mutex
	items map[string]*PendingMessage
}

func NewPendingAckTracker(user string, resend ResendFunc, cursors CursorStore, opts PendingOptions) *PendingAckTracker {
	opts.norm()
	return &PendingAckTracker{
		user:    user,
		resend:  resend,
		cursors: cursors,
		opts:    opts,
		items:   make(map[string]*PendingMessage),
		log:     logger.Named("client.pending").With(zap.String("user", user)),
	}
}

// Track 登记一条刚发出的消息；集合满时拒绝
func (t *PendingAckTracker) Track(p PendingMessage) error {
	if p.ClientSeq == "" {
		return errs.ErrArgs.WrapMsg("clientSeq empty")
	}
	now := t.opts.Clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[p.ClientSeq]; ok {
		return errs.ErrArgs.WrapMsg("clientSeq already pending", "clientSeq", p.ClientSeq)
	}
	if len(t.items) >= t.opts.Capacity {
		t.opts.Metrics.AckResults.WithLabelValues("rejected").Inc()
		return errs.ErrPendingFull.WrapMsg("pending set full", "cap", t.opts.Capacity)
	}
	p.Status = StatusSending
	p.SendTime = now
	p.CreatedAt = now
	p.RetryCount = 0
	t.items[p.ClientSeq] = &p
	t.opts.Scheduler.Schedule(p.ClientSeq, t.opts.AckTimeout)
	t.opts.Metrics.Pending.Set(float64(len(t.items)))
	return nil
}

// Fail 服务端明确拒绝时直接判失败；摘除与置 FAILED 在同一临界区，和超时路径互斥，回调只会触发一次
func (t *PendingAckTracker) Fail(clientSeq, reason string) bool {
	t.mu.Lock()
	p, ok := t.items[clientSeq]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.items, clientSeq)
	t.opts.Scheduler.Cancel(clientSeq)
	t.opts.Metrics.Pending.Set(float64(len(t.items)))
	p.Status = StatusFailed
	failed := *p
	t.mu.Unlock()

	t.fail(failed, reason)
	return true
}

// OnAck 按 clientSeq 关联确认；重复或过期的确认忽略
func (t *PendingAckTracker) OnAck(ctx context.Context, ack model.SendAck) bool {
	t.mu.Lock()
	p, ok := t.items[ack.ClientSeq]
	if !ok {
		t.mu.Unlock()
		t.opts.Metrics.AckResults.WithLabelValues("stale").Inc()
		t.log.Debug("stale ack ignored", zap.String("clientSeq", ack.ClientSeq))
		return false
	}
	delete(t.items, ack.ClientSeq)
	t.opts.Scheduler.Cancel(ack.ClientSeq)
	t.opts.Metrics.Pending.Set(float64(len(t.items)))
	p.Status = StatusDelivered
	p.ServerMsgID = ack.ServerMsgID
	p.ConversationSeq = ack.ConversationSeq
	p.ConversationID = ack.ConversationID
	done := *p
	t.mu.Unlock()

	t.opts.Metrics.AckResults.WithLabelValues("delivered").Inc()
	t.raiseCursor(ctx, done, ack)
	if t.opts.OnDelivered != nil {
		t.opts.OnDelivered(done)
	}
	return true
}

// 单聊推全局游标，群聊推群流游标
func (t *PendingAckTracker) raiseCursor(ctx context.Context, p PendingMessage, ack model.SendAck) {
	if t.cursors == nil || ack.ConversationSeq <= 0 {
		return
	}
	stream := GlobalStream(t.user)
	if p.ConvType == model.ConvTypeGroup {
		stream = model.GroupStream(p.To)
	}
	cur, err := t.cursors.Raise(ctx, t.user, stream, ack.ConversationSeq)
	if err != nil {
		t.log.Warn("raise cursor on ack failed", zap.String("stream", stream), zap.Error(err))
		return
	}
	if cur > ack.ConversationSeq {
		t.log.Debug("cursor already ahead", zap.String("stream", stream),
			zap.Int64("cursor", cur), zap.Int64("ackSeq", ack.ConversationSeq))
	}
}

// Tick 处理到期条目：未达上限的重发，达到上限的转 FAILED
func (t *PendingAckTracker) Tick(ctx context.Context) {
	for _, key := range t.opts.Scheduler.Advance() {
		t.expire(ctx, key)
	}
}

func (t *PendingAckTracker) expire(ctx context.Context, key string) {
	t.mu.Lock()
	p, ok := t.items[key]
	if !ok || p.Status != StatusSending {
		t.mu.Unlock()
		return
	}
	if p.RetryCount >= t.opts.MaxRetry {
		delete(t.items, key)
		t.opts.Metrics.Pending.Set(float64(len(t.items)))
		p.Status = StatusFailed
		failed := *p
		t.mu.Unlock()
		t.fail(failed, "retries exhausted")
		return
	}
	p.RetryCount++
	p.SendTime = t.opts.Clock.Now()
	t.opts.Scheduler.Schedule(key, t.opts.AckTimeout)
	snap := *p
	t.mu.Unlock()

	t.opts.Metrics.Resends.Inc()
	t.log.Info("ack timeout, resending", zap.String("clientSeq", key), zap.Int("retry", snap.RetryCount))
	if t.resend == nil {
		return
	}
	if err := t.resend(ctx, snap); err != nil {
		// 下一次超时还会再来
		t.log.Warn("resend failed", zap.String("clientSeq", key), zap.Error(err))
	}
}

func (t *PendingAckTracker) fail(p PendingMessage, reason string) {
	t.opts.Metrics.AckResults.WithLabelValues("failed").Inc()
	t.log.Warn("message failed", zap.String("clientSeq", p.ClientSeq), zap.Int("retries", p.RetryCount), zap.String("reason", reason))
	if t.opts.OnFailed != nil {
		t.opts.OnFailed(p)
	}
}

// Purge 清掉超过 TTL 的条目，按 FAILED 处理
func (t *PendingAckTracker) Purge() int {
	now := t.opts.Clock.Now()
	var purged []PendingMessage
	t.mu.Lock()
	for k, p := range t.items {
		if now.Sub(p.CreatedAt) < t.opts.TTL {
			continue
		}
		delete(t.items, k)
		t.opts.Scheduler.Cancel(k)
		p.Status = StatusFailed
		purged = append(purged, *p)
	}
	t.opts.Metrics.Pending.Set(float64(len(t.items)))
	t.mu.Unlock()

	for _, p := range purged {
		t.opts.Metrics.AckResults.WithLabelValues("purged").Inc()
		t.fail(p, "ttl expired")
	}
	return len(purged)
}

// Get 返回副本
func (t *PendingAckTracker) Get(clientSeq string) (PendingMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[clientSeq]
	if !ok {
		return PendingMessage{}, false
	}
	return *p, true
}

func (t *PendingAckTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

// Run 按调度器间隔推进，ctx 结束退出
func (t *PendingAckTracker) Run(ctx context.Context) {
	tick := t.opts.Clock.NewTicker(t.opts.Scheduler.Interval())
	defer tick.Stop()
	purge := t.opts.Clock.NewTicker(t.opts.PurgeInterval)
	defer purge.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			t.Tick(ctx)
		case <-purge.Chan():
			t.Purge()
		}
	}
}

package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"

	"github.com/jonboulle/clockwork"
	cmap "github.com/orcaman/concurrent-map"
	"go.uber.org/zap"
)

const defaultGapRetryDelay = 2 * time.Second

// GapResult 一次区间补拉的结果；To 为服务端实际覆盖到的位置
type GapResult struct {
	Stream   string
	From     int64
	To       int64
	Messages []*model.Message
	Err      error
}

// GapFiller 异步补拉 [from, to]，完成后调用 done
type GapFiller interface {
	Fill(stream string, from, to int64, done func(GapResult))
}

type DeliverFunc func(msg *model.Message)

type ReconcilerOptions struct {
	MaxSkipped int           // 每个流记住的已跳过 seq 数
	RetryDelay time.Duration // 补拉失败后隔多久重新发起
	Clock      clockwork.Clock
	Metrics    *Metrics
}

type gapSpan struct {
	gen      uint64
	from, to int64
}

type fillReq struct {
	stream   string
	gen      uint64
	from, to int64
}

// streamState 单个流的全部可变状态，只在 mu 下读写
type streamState struct {
	mu       sync.Mutex
	loaded   bool
	expected int64
	buf      *ReorderBuffer
	gap      *gapSpan
	gen      uint64
	skipped  map[int64]struct{}
	skipFIFO []int64
	retry    clockwork.Timer // 补拉失败后待触发的重试
}

// Reconciler 按流维护 expected 游标和乱序缓冲，决定投递、缓冲或丢弃。
// 同一个流的所有输入（推送、补拉结果、离线同步）都在该流的锁内串行处理
type Reconciler struct {
	user    string
	streams cmap.ConcurrentMap
	cursors CursorStore
	filler  GapFiller
	deliver DeliverFunc
	opts    ReconcilerOptions
	log     *zap.Logger

	stopMu  sync.Mutex
	stopped bool
}

func NewReconciler(user string, cursors CursorStore, filler GapFiller, deliver DeliverFunc, opts ReconcilerOptions) *Reconciler {
	if opts.MaxSkipped <= 0 {
		opts.MaxSkipped = 1024
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultGapRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if deliver == nil {
		deliver = func(*model.Message) {}
	}
	return &Reconciler{
		user:    user,
		streams: cmap.New(),
		cursors: cursors,
		filler:  filler,
		deliver: deliver,
		opts:    opts,
		log:     logger.Named("client.reconciler").With(zap.String("user", user)),
	}
}

// SetFiller 构造期存在环（filler 回调 reconciler）时使用
func (r *Reconciler) SetFiller(f GapFiller) { r.filler = f }

func (r *Reconciler) state(stream string) *streamState {
	v := r.streams.Upsert(stream, nil, func(exist bool, old interface{}, _ interface{}) interface{} {
		if exist {
			return old
		}
		return &streamState{buf: NewReorderBuffer(), skipped: make(map[int64]struct{})}
	})
	return v.(*streamState)
}

// 首次使用时从游标恢复 expected，调用方持有 st.mu
func (r *Reconciler) ensureLoaded(ctx context.Context, stream string, st *streamState) error {
	if st.loaded {
		return nil
	}
	cur, err := r.cursors.Load(ctx, r.user, stream)
	if err != nil {
		return err
	}
	st.expected = cur + 1
	st.loaded = true
	return nil
}

// Expected 流的下一个期望 seq；未加载过的流返回游标 + 1
func (r *Reconciler) Expected(ctx context.Context, stream string) (int64, error) {
	st := r.state(stream)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := r.ensureLoaded(ctx, stream, st); err != nil {
		return 0, err
	}
	return st.expected, nil
}

// Buffered 流当前缓冲条数
func (r *Reconciler) Buffered(stream string) int {
	st := r.state(stream)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.buf.Len()
}

// OnMessage 实时推送到达
func (r *Reconciler) OnMessage(ctx context.Context, msg *model.Message) error {
	if msg == nil || msg.Stream == "" || msg.Seq <= 0 {
		return nil
	}
	st := r.state(msg.Stream)
	st.mu.Lock()
	if err := r.ensureLoaded(ctx, msg.Stream, st); err != nil {
		st.mu.Unlock()
		return err
	}
	before := st.expected
	switch {
	case msg.Seq == st.expected:
		r.emit(st, msg)
		r.drain(st)
	case msg.Seq > st.expected:
		if st.buf.Put(msg) {
			r.opts.Metrics.Arrivals.WithLabelValues("buffered").Inc()
		}
	default:
		r.stale(st, msg)
	}
	req := r.settleGap(msg.Stream, st)
	r.raise(ctx, msg.Stream, before, st.expected)
	st.mu.Unlock()

	r.issue(req)
	return nil
}

// Apply 权威区间：[from, to] 内未出现在 msgs 与缓冲中的 seq 视为不存在，expected 越过 to。
// 离线同步与补拉结果都走这里
func (r *Reconciler) Apply(ctx context.Context, stream string, from, to int64, msgs []*model.Message) error {
	st := r.state(stream)
	st.mu.Lock()
	if err := r.ensureLoaded(ctx, stream, st); err != nil {
		st.mu.Unlock()
		return err
	}
	before := st.expected
	r.settle(st, to, msgs)
	req := r.settleGap(stream, st)
	r.raise(ctx, stream, before, st.expected)
	st.mu.Unlock()

	r.issue(req)
	return nil
}

func (r *Reconciler) resolve(gen uint64, res GapResult) {
	st := r.state(res.Stream)
	st.mu.Lock()
	if st.gap != nil && st.gap.gen == gen {
		st.gap = nil
	}
	if res.Err != nil {
		// 清掉未决区间并延迟重试；期间新到的乱序消息也可以先行发起
		r.scheduleRetry(res.Stream, st)
		st.mu.Unlock()
		r.opts.Metrics.GapFills.WithLabelValues("failed").Inc()
		r.log.Warn("gap fill failed", zap.String("stream", res.Stream),
			zap.Int64("from", res.From), zap.Int64("to", res.To), zap.Error(res.Err))
		return
	}
	r.opts.Metrics.GapFills.WithLabelValues("ok").Inc()
	ctx := context.Background()
	before := st.expected
	r.settle(st, res.To, res.Messages)
	req := r.settleGap(res.Stream, st)
	r.raise(ctx, res.Stream, before, st.expected)
	st.mu.Unlock()

	r.issue(req)
}

// scheduleRetry 调用方持有 st.mu；每个流最多挂一个重试
func (r *Reconciler) scheduleRetry(stream string, st *streamState) {
	if st.retry != nil || r.isStopped() {
		return
	}
	st.retry = r.opts.Clock.AfterFunc(r.opts.RetryDelay, func() { r.retryGap(stream) })
}

// retryGap 缓冲里仍有断档且没有在途补拉时重新发起
func (r *Reconciler) retryGap(stream string) {
	st := r.state(stream)
	st.mu.Lock()
	st.retry = nil
	if r.isStopped() {
		st.mu.Unlock()
		return
	}
	req := r.settleGap(stream, st)
	st.mu.Unlock()

	if req != nil {
		r.opts.Metrics.GapFills.WithLabelValues("retried").Inc()
	}
	r.issue(req)
}

func (r *Reconciler) isStopped() bool {
	r.stopMu.Lock()
	defer r.stopMu.Unlock()
	return r.stopped
}

// Stop 取消所有待触发的补拉重试，之后不再发起新的重试
func (r *Reconciler) Stop() {
	r.stopMu.Lock()
	r.stopped = true
	r.stopMu.Unlock()
	for _, v := range r.streams.Items() {
		st := v.(*streamState)
		st.mu.Lock()
		if st.retry != nil {
			st.retry.Stop()
			st.retry = nil
		}
		st.mu.Unlock()
	}
}

// settle 先吸收 msgs，再把 expected 推进到 to 之后，中间缺的 seq 记为跳过
func (r *Reconciler) settle(st *streamState, to int64, msgs []*model.Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	for _, m := range msgs {
		if m.Seq >= st.expected {
			st.buf.Put(m)
		} else {
			r.stale(st, m)
		}
	}
	for st.expected <= to {
		min, ok := st.buf.Min()
		if ok && min == st.expected {
			m, _ := st.buf.Take(min)
			r.emit(st, m)
			continue
		}
		end := to
		if ok && min-1 < end {
			end = min - 1
		}
		r.skip(st, st.expected, end)
		st.expected = end + 1
	}
	r.drain(st)
}

func (r *Reconciler) drain(st *streamState) {
	for {
		m, ok := st.buf.Take(st.expected)
		if !ok {
			return
		}
		r.emit(st, m)
	}
}

func (r *Reconciler) emit(st *streamState, m *model.Message) {
	r.deliver(m)
	st.expected = m.Seq + 1
	r.opts.Metrics.Arrivals.WithLabelValues("delivered").Inc()
}

// stale seq < expected：之前被判定跳过的只补投一次，其余丢弃
func (r *Reconciler) stale(st *streamState, m *model.Message) {
	if _, ok := st.skipped[m.Seq]; ok {
		delete(st.skipped, m.Seq)
		r.deliver(m)
		r.opts.Metrics.Arrivals.WithLabelValues("late").Inc()
		return
	}
	r.opts.Metrics.Arrivals.WithLabelValues("dropped").Inc()
}

// skip 记录 [from, to] 为跳过，只保留最近 MaxSkipped 个
func (r *Reconciler) skip(st *streamState, from, to int64) {
	r.opts.Metrics.Skipped.Add(float64(to - from + 1))
	if keep := to - int64(r.opts.MaxSkipped) + 1; keep > from {
		from = keep
	}
	for seq := from; seq <= to; seq++ {
		st.skipped[seq] = struct{}{}
		st.skipFIFO = append(st.skipFIFO, seq)
	}
	for len(st.skipFIFO) > r.opts.MaxSkipped {
		delete(st.skipped, st.skipFIFO[0])
		st.skipFIFO = st.skipFIFO[1:]
	}
}

// settleGap 缓冲非空且没有未决区间时登记一次补拉，返回需要发出的请求
func (r *Reconciler) settleGap(stream string, st *streamState) *fillReq {
	if st.gap != nil && st.gap.to < st.expected {
		// 缺口已被自然到达填上，旧请求的结果到了按普通权威区间处理
		st.gap = nil
	}
	if st.gap != nil || r.filler == nil {
		return nil
	}
	min, ok := st.buf.Min()
	if !ok || min <= st.expected {
		return nil
	}
	st.gen++
	st.gap = &gapSpan{gen: st.gen, from: st.expected, to: min - 1}
	return &fillReq{stream: stream, gen: st.gen, from: st.expected, to: min - 1}
}

func (r *Reconciler) issue(req *fillReq) {
	if req == nil {
		return
	}
	r.opts.Metrics.GapFills.WithLabelValues("issued").Inc()
	r.log.Debug("gap detected", zap.String("stream", req.stream), zap.Int64("from", req.from), zap.Int64("to", req.to))
	gen := req.gen
	r.filler.Fill(req.stream, req.from, req.to, func(res GapResult) {
		if res.Stream == "" {
			res.Stream = req.stream
		}
		r.resolve(gen, res)
	})
}

// raise 游标跟随 expected-1 单调上升
func (r *Reconciler) raise(ctx context.Context, stream string, before, after int64) {
	if after <= before {
		return
	}
	if _, err := r.cursors.Raise(ctx, r.user, stream, after-1); err != nil {
		r.log.Warn("raise cursor failed", zap.String("stream", stream), zap.Int64("seq", after-1), zap.Error(err))
	}
}

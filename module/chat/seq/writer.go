package seq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var ErrDrainTimeout = errors.New("persistence writer drain timeout")

type WriterOptions struct {
	PoolSize        int
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
	Metrics         *Metrics
}

func (o *WriterOptions) norm() {
	if o.PoolSize <= 0 {
		o.PoolSize = 32
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 50 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 3 * time.Second
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
}

type WriterStats struct {
	Persisted  int64
	Dropped    int64
	CallerRuns int64
	Running    int
}

// PersistenceWriter 异步持久化分片水位。
// 池满时由提交方自己执行写入（不丢写）；失败按指数退避重试，重试耗尽记日志后放弃该次写入
type PersistenceWriter struct {
	store SectionStore
	pool  *ants.Pool
	opts  WriterOptions
	log   *zap.Logger

	// mu 让 closed 的翻转与 wg.Add 互斥，Close 开始等待后不再有新的 Add
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	persisted  atomic.Int64
	dropped    atomic.Int64
	callerRuns atomic.Int64
}

func NewPersistenceWriter(store SectionStore, opts WriterOptions) (*PersistenceWriter, error) {
	opts.norm()
	w := &PersistenceWriter{
		store: store,
		opts:  opts,
		log:   logger.Named("seq.writer"),
	}
	pool, err := ants.NewPool(opts.PoolSize,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(time.Minute),
		ants.WithPanicHandler(func(p any) {
			w.log.Error("persist task panic", zap.Error(errs.ErrPanic(p)))
		}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "new writer pool", "size", opts.PoolSize)
	}
	w.pool = pool
	return w, nil
}

// Submit 只在 PERSIST 时调用；不阻塞热路径，池满时在当前 goroutine 执行
func (w *PersistenceWriter) Submit(sec model.Section) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		w.write(sec)
		return
	}
	w.wg.Add(1)
	w.mu.RUnlock()
	task := func() {
		defer w.wg.Done()
		w.write(sec)
	}
	if err := w.pool.Submit(task); err != nil {
		// ErrPoolOverload / ErrPoolClosed
		w.callerRuns.Add(1)
		w.opts.Metrics.CallerRuns.Inc()
		w.log.Debug("pool busy, caller runs", zap.String("section", sec.SectionKey), zap.Error(err))
		task()
	}
}

func (w *PersistenceWriter) write(sec model.Section) {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(w.opts.InitialInterval),
		backoff.WithMaxInterval(w.opts.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	), uint64(w.opts.MaxRetries))

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.AttemptTimeout)
		defer cancel()
		return w.store.Upsert(ctx, sec)
	}
	notify := func(err error, next time.Duration) {
		w.opts.Metrics.PersistRetries.Inc()
		w.log.Warn("persist section failed, retrying",
			zap.String("section", sec.SectionKey), zap.Int64("maxSeq", sec.MaxSeq),
			zap.Duration("next", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		w.dropped.Add(1)
		w.opts.Metrics.PersistResults.WithLabelValues("dropped").Inc()
		w.log.Error("persist section abandoned",
			zap.String("section", sec.SectionKey), zap.Int64("maxSeq", sec.MaxSeq), zap.Error(err))
		return
	}
	w.persisted.Add(1)
	w.opts.Metrics.PersistResults.WithLabelValues("ok").Inc()
}

// Recover 读持久水位；没有记录视为 0
func (w *PersistenceWriter) Recover(ctx context.Context, sectionKey string) (int64, error) {
	sec, ok, err := w.store.Load(ctx, sectionKey)
	if err != nil {
		return 0, errs.ErrStoreUnavailable.WrapMsg("recover section", "section", sectionKey, "err", err)
	}
	if !ok {
		return 0, nil
	}
	return sec.MaxSeq, nil
}

func (w *PersistenceWriter) Stats() WriterStats {
	return WriterStats{
		Persisted:  w.persisted.Load(),
		Dropped:    w.dropped.Load(),
		CallerRuns: w.callerRuns.Load(),
		Running:    w.pool.Running(),
	}
}

// Close 等待已提交的写入完成（最多 timeout），然后释放池
func (w *PersistenceWriter) Close(timeout time.Duration) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = ErrDrainTimeout
		w.log.Error("drain timeout, pending section writes abandoned", zap.Duration("timeout", timeout))
	}
	w.pool.Release()
	w.log.Info("persistence writer closed",
		zap.Int64("persisted", w.persisted.Load()),
		zap.Int64("dropped", w.dropped.Load()),
		zap.Int64("callerRuns", w.callerRuns.Load()))
	return err
}

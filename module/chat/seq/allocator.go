package seq

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultStep int32 = 100

type AllocatorOptions struct {
	Step    int32
	Metrics *Metrics
}

// Allocator 组合 SectionRouter + SegmentCache，续段时交给 PersistenceWriter 异步落盘
type Allocator struct {
	router  *SectionRouter
	cache   SegmentCache
	writer  *PersistenceWriter
	step    int32
	metrics *Metrics
	log     *zap.Logger

	// 同一分片并发冷启动只回源一次
	recovering singleflight.Group

	generated atomic.Int64
	failed    atomic.Int64
}

func NewAllocator(router *SectionRouter, cache SegmentCache, writer *PersistenceWriter, opts AllocatorOptions) *Allocator {
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Allocator{
		router:  router,
		cache:   cache,
		writer:  writer,
		step:    opts.Step,
		metrics: opts.Metrics,
		log:     logger.Named("seq.allocator"),
	}
}

func (a *Allocator) Router() *SectionRouter { return a.router }

// Allocate 为业务 key 分配一个序号。分片内严格递增，跨分片不连续，缓存丢失后可能跳号但不复用
func (a *Allocator) Allocate(ctx context.Context, businessKey string) (int64, error) {
	if businessKey == "" {
		return 0, errs.ErrArgs.WrapMsg("business key empty")
	}
	start := time.Now()
	defer func() { a.metrics.AllocLatency.Observe(time.Since(start).Seconds()) }()

	shard := a.router.Route(businessKey)

	// 1) 热路径：不带种子直接发号
	res := a.cache.Allocate(ctx, shard, a.step, NoInitialValue)

	// 2) 分片未初始化：回源持久水位作为种子再发一次
	if res.Kind == Unseeded {
		init, err := a.recover(ctx, shard)
		if err != nil {
			a.fail()
			return 0, err
		}
		res = a.cache.Allocate(ctx, shard, a.step, init)
	}

	switch res.Kind {
	case Allocated:
		a.succeed("nop")
		return res.Seq, nil
	case Exhausted:
		// 3) 续段：异步持久化新上界
		a.writer.Submit(model.Section{SectionKey: shard, MaxSeq: res.MaxSeq, Step: a.step})
		a.succeed("persist")
		return res.Seq, nil
	default:
		a.fail()
		reason := res.Reason
		if res.Kind == Unseeded {
			reason = "shard still unseeded after recovery"
		}
		a.log.Warn("allocate failed", zap.String("key", businessKey), zap.String("shard", shard), zap.String("reason", reason))
		return 0, errs.ErrAllocFailed.WrapMsg(reason, "key", businessKey, "shard", shard)
	}
}

func (a *Allocator) recover(ctx context.Context, shard string) (int64, error) {
	v, err, _ := a.recovering.Do(shard, func() (interface{}, error) {
		return a.writer.Recover(ctx, shard)
	})
	if err != nil {
		return 0, err
	}
	init := v.(int64)
	a.metrics.Recovered.Inc()
	a.log.Info("shard reseeded", zap.String("shard", shard), zap.Int64("from", init))
	return init, nil
}

func (a *Allocator) succeed(action string) {
	a.generated.Add(1)
	a.metrics.Allocated.WithLabelValues(action).Inc()
}

func (a *Allocator) fail() {
	a.failed.Add(1)
	a.metrics.AllocErrors.Inc()
}

// BatchResult 单个 key 的批量结果。同分片被其他 key 共享，Seqs 不保证连续
type BatchResult struct {
	StartSeq     int64   `json:"startSeq"`
	Count        int     `json:"count"`
	Seqs         []int64 `json:"seqs"`
	Success      bool    `json:"success"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// AllocateBatch 每个 key 顺序做 count 次单次分配，耗时随 count 线性增长
func (a *Allocator) AllocateBatch(ctx context.Context, keys []string, count int) map[string]BatchResult {
	out := make(map[string]BatchResult, len(keys))
	if count <= 0 {
		count = 1
	}
	for _, key := range keys {
		if _, dup := out[key]; dup {
			continue
		}
		br := BatchResult{Seqs: make([]int64, 0, count), Success: true}
		for i := 0; i < count; i++ {
			s, err := a.Allocate(ctx, key)
			if err != nil {
				br.Success = false
				br.ErrorMessage = err.Error()
				break
			}
			br.Seqs = append(br.Seqs, s)
		}
		br.Count = len(br.Seqs)
		if br.Count > 0 {
			br.StartSeq = br.Seqs[0]
		}
		out[key] = br
	}
	return out
}

type AllocatorStats struct {
	TotalGenerated int64
	TotalErrors    int64
}

func (a *Allocator) Stats() AllocatorStats {
	return AllocatorStats{TotalGenerated: a.generated.Load(), TotalErrors: a.failed.Load()}
}

func (s AllocatorStats) SuccessRate() float64 {
	total := s.TotalGenerated + s.TotalErrors
	if total == 0 {
		return 1
	}
	// 保留四位小数
	return math.Round(float64(s.TotalGenerated)/float64(total)*1e4) / 1e4
}

package seq

import (
	"context"
	"time"
)

// DefaultCacheTTL 计数器缓存 7 天，只是缓存不是持久化保证
const DefaultCacheTTL = 7 * 24 * time.Hour

// NoInitialValue 调用方不知道持久水位时传这个，未见过的分片返回 Unseeded
const NoInitialValue int64 = -1

// ResultKind 原子脚本的结果标签
type ResultKind int

const (
	// Allocated 段内发号（NOP）
	Allocated ResultKind = iota
	// Exhausted 段用尽并已续段，需要持久化新的 max（PERSIST）
	Exhausted
	// Unseeded 分片未初始化且调用方没给初始值
	Unseeded
	// Failed 脚本返回哨兵 -1 或执行失败
	Failed
)

func (k ResultKind) String() string {
	switch k {
	case Allocated:
		return "allocated"
	case Exhausted:
		return "exhausted"
	case Unseeded:
		return "unseeded"
	default:
		return "failed"
	}
}

// Result 一次原子分配的结果
type Result struct {
	Kind   ResultKind
	Seq    int64  // Allocated/Exhausted 时有效
	MaxSeq int64  // 当前段上界；Exhausted 时为续段后的新 max
	Reason string // Failed 时的原因
}

func allocatedResult(seq, max int64) Result { return Result{Kind: Allocated, Seq: seq, MaxSeq: max} }
func exhaustedResult(seq, newMax int64) Result {
	return Result{Kind: Exhausted, Seq: seq, MaxSeq: newMax}
}
func failedResult(reason string) Result { return Result{Kind: Failed, Reason: reason} }

// NeedPersist 只有续段才触发持久化
func (r Result) NeedPersist() bool { return r.Kind == Exhausted }

// CachedCounter 分片在缓存中的状态，cur <= max 且 cur 只增
type CachedCounter struct {
	CurSeq int64
	MaxSeq int64
}

// SegmentCache 可原子脚本化的共享计数器，每个分片一个计数器
type SegmentCache interface {
	// Allocate 单次原子发号；initialValue 仅在分片首次出现时作为种子
	Allocate(ctx context.Context, shardKey string, step int32, initialValue int64) Result
	// Peek 读当前计数器，不存在返回 ok=false
	Peek(ctx context.Context, shardKey string) (CachedCounter, bool, error)
	// Evict 丢弃分片缓存（运维/测试模拟缓存丢失）
	Evict(ctx context.Context, shardKey string) error
	Ping(ctx context.Context) error
}

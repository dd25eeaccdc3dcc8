package seq

import (
	"context"
	"sync"
)

// memSegmentCache 进程内实现，语义与 Lua 脚本一致；单机模式与测试用
type memSegmentCache struct {
	mu       sync.Mutex
	counters map[string]*CachedCounter
}

func NewMemSegmentCache() SegmentCache {
	return &memSegmentCache{counters: make(map[string]*CachedCounter)}
}

func (c *memSegmentCache) Allocate(_ context.Context, shardKey string, step int32, initialValue int64) Result {
	if step <= 0 {
		return failedResult("script sentinel -1")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, ok := c.counters[shardKey]
	if !ok {
		if initialValue < 0 {
			return Result{Kind: Unseeded}
		}
		cc = &CachedCounter{CurSeq: initialValue, MaxSeq: initialValue}
		c.counters[shardKey] = cc
	}
	cc.CurSeq++
	if cc.CurSeq <= cc.MaxSeq {
		return allocatedResult(cc.CurSeq, cc.MaxSeq)
	}
	cc.MaxSeq += int64(step)
	return exhaustedResult(cc.CurSeq, cc.MaxSeq)
}

func (c *memSegmentCache) Peek(_ context.Context, shardKey string) (CachedCounter, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.counters[shardKey]; ok {
		return *cc, true, nil
	}
	return CachedCounter{}, false, nil
}

func (c *memSegmentCache) Evict(_ context.Context, shardKey string) error {
	c.mu.Lock()
	delete(c.counters, shardKey)
	c.mu.Unlock()
	return nil
}

func (c *memSegmentCache) Ping(context.Context) error { return nil }

package seq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func segmentCaches(t *testing.T) map[string]SegmentCache {
	_, rdb := newMiniRedis(t)
	return map[string]SegmentCache{
		"redis": NewRedisSegmentCache(rdb, time.Hour),
		"mem":   NewMemSegmentCache(),
	}
}

func TestSegmentCache_Tagged(t *testing.T) {
	ctx := context.Background()
	for name, c := range segmentCaches(t) {
		t.Run(name, func(t *testing.T) {
			r := c.Allocate(ctx, "u_1", 10, NoInitialValue)
			assert.Equal(t, Unseeded, r.Kind)

			r = c.Allocate(ctx, "u_1", 10, 0)
			require.Equal(t, Exhausted, r.Kind)
			assert.Equal(t, int64(1), r.Seq)
			assert.Equal(t, int64(10), r.MaxSeq)
			assert.True(t, r.NeedPersist())

			// 已存在的分片忽略 initialValue
			r = c.Allocate(ctx, "u_1", 10, 999)
			require.Equal(t, Allocated, r.Kind)
			assert.Equal(t, int64(2), r.Seq)
			assert.False(t, r.NeedPersist())

			for i := 3; i <= 10; i++ {
				r = c.Allocate(ctx, "u_1", 10, NoInitialValue)
				require.Equal(t, Allocated, r.Kind)
			}
			r = c.Allocate(ctx, "u_1", 10, NoInitialValue)
			require.Equal(t, Exhausted, r.Kind)
			assert.Equal(t, int64(11), r.Seq)
			assert.Equal(t, int64(20), r.MaxSeq)

			cc, ok, err := c.Peek(ctx, "u_1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, CachedCounter{CurSeq: 11, MaxSeq: 20}, cc)
		})
	}
}

func TestSegmentCache_SentinelOnBadStep(t *testing.T) {
	ctx := context.Background()
	for name, c := range segmentCaches(t) {
		t.Run(name, func(t *testing.T) {
			r := c.Allocate(ctx, "u_2", 0, 0)
			assert.Equal(t, Failed, r.Kind)
			assert.NotEmpty(t, r.Reason)
			_, ok, err := c.Peek(ctx, "u_2")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSegmentCache_NoDuplicatesConcurrent(t *testing.T) {
	ctx := context.Background()
	for name, c := range segmentCaches(t) {
		t.Run(name, func(t *testing.T) {
			const workers, per = 8, 50
			var (
				mu   sync.Mutex
				seen = make(map[int64]struct{}, workers*per)
				wg   sync.WaitGroup
			)
			for w := 0; w < workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < per; i++ {
						r := c.Allocate(ctx, "g_7", 7, 0)
						if !assert.Contains(t, []ResultKind{Allocated, Exhausted}, r.Kind) {
							return
						}
						mu.Lock()
						_, dup := seen[r.Seq]
						seen[r.Seq] = struct{}{}
						mu.Unlock()
						assert.False(t, dup, "duplicate seq %d", r.Seq)
					}
				}()
			}
			wg.Wait()
			assert.Len(t, seen, workers*per)
		})
	}
}

func TestRedisSegmentCache_TTLAndEvict(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	c := NewRedisSegmentCache(rdb, time.Minute)

	r := c.Allocate(ctx, "c_3", 5, 40)
	require.Equal(t, Exhausted, r.Kind)
	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+"c_3"))
	assert.Equal(t, "41", mr.HGet(keyPrefix+"c_3", fieldCur))
	assert.Equal(t, "45", mr.HGet(keyPrefix+"c_3", fieldMax))

	require.NoError(t, c.Evict(ctx, "c_3"))
	_, ok, err := c.Peek(ctx, "c_3")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Unseeded, c.Allocate(ctx, "c_3", 5, NoInitialValue).Kind)
}

func TestRedisSegmentCache_Unreachable(t *testing.T) {
	mr, rdb := newMiniRedis(t)
	c := NewRedisSegmentCache(rdb, time.Minute)
	mr.Close()

	r := c.Allocate(context.Background(), "u_1", 10, 0)
	assert.Equal(t, Failed, r.Kind)
	assert.Error(t, c.Ping(context.Background()))
}

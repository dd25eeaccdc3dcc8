package seq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allocFixture struct {
	alloc  *Allocator
	cache  SegmentCache
	store  *hookStore
	writer *PersistenceWriter
}

func newAllocFixture(t *testing.T, cache SegmentCache, step int32) *allocFixture {
	t.Helper()
	store := newHookStore()
	w, err := NewPersistenceWriter(store, fastWriterOpts())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close(time.Second) })
	return &allocFixture{
		alloc:  NewAllocator(NewSectionRouter(DefaultSections), cache, w, AllocatorOptions{Step: step}),
		cache:  cache,
		store:  store,
		writer: w,
	}
}

// drain 等异步持久化落盘
func (f *allocFixture) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, f.writer.Close(time.Second))
}

func TestAllocator_EndToEndSeed500(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniRedis(t)
	f := newAllocFixture(t, NewRedisSegmentCache(rdb, time.Hour), 100)

	shard := f.alloc.Router().Route("user_7")
	require.NoError(t, f.store.Upsert(ctx, model.Section{SectionKey: shard, MaxSeq: 500, Step: 100}))

	first, err := f.alloc.Allocate(ctx, "user_7")
	require.NoError(t, err)
	assert.Equal(t, int64(501), first)

	var last int64
	for i := 2; i <= 101; i++ {
		last, err = f.alloc.Allocate(ctx, "user_7")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(601), last)

	f.drain(t)
	sec, ok, err := f.store.Load(ctx, shard)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(700), sec.MaxSeq)
	// 初始种子 + 两次续段
	assert.Equal(t, int32(3), sec.Version)
	assert.Equal(t, int64(2), f.writer.Stats().Persisted)
}

func TestAllocator_ColdStartAfterCacheLoss(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newMiniRedis(t)
	f := newAllocFixture(t, NewRedisSegmentCache(rdb, time.Hour), 10)

	var last int64
	for i := 0; i < 25; i++ {
		v, err := f.alloc.Allocate(ctx, "group_1")
		require.NoError(t, err)
		require.Greater(t, v, last)
		last = v
	}
	require.Eventually(t, func() bool { return f.writer.Stats().Persisted == 3 }, time.Second, 5*time.Millisecond)

	shard := f.alloc.Router().Route("group_1")
	sec, _, err := f.store.Load(ctx, shard)
	require.NoError(t, err)

	mr.FlushAll()

	v, err := f.alloc.Allocate(ctx, "group_1")
	require.NoError(t, err)
	assert.Greater(t, v, sec.MaxSeq)
	assert.Greater(t, v, last)
}

func TestAllocator_ConcurrentColdStartRecoversOnce(t *testing.T) {
	ctx := context.Background()
	f := newAllocFixture(t, NewMemSegmentCache(), 50)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				v, err := f.alloc.Allocate(ctx, "user_3")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[v], "duplicate %d", v)
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 320)
	assert.Equal(t, int64(320), f.alloc.Stats().TotalGenerated)
}

func TestAllocator_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty key", func(t *testing.T) {
		f := newAllocFixture(t, NewMemSegmentCache(), 10)
		_, err := f.alloc.Allocate(ctx, "")
		assert.ErrorIs(t, err, errs.ErrArgs)
	})

	t.Run("store unavailable on recovery", func(t *testing.T) {
		f := newAllocFixture(t, NewMemSegmentCache(), 10)
		f.store.loadErr = errors.New("conn refused")
		_, err := f.alloc.Allocate(ctx, "user_1")
		assert.ErrorIs(t, err, errs.ErrAllocFailed)
		assert.Equal(t, int64(1), f.alloc.Stats().TotalErrors)
	})

	t.Run("cache down", func(t *testing.T) {
		mr, rdb := newMiniRedis(t)
		f := newAllocFixture(t, NewRedisSegmentCache(rdb, time.Hour), 10)
		mr.Close()
		_, err := f.alloc.Allocate(ctx, "user_1")
		assert.ErrorIs(t, err, errs.ErrAllocFailed)
	})
}

func TestAllocator_Batch(t *testing.T) {
	ctx := context.Background()
	f := newAllocFixture(t, NewMemSegmentCache(), 10)

	res := f.alloc.AllocateBatch(ctx, []string{"user_1", "user_1025", "group_2"}, 5)
	require.Len(t, res, 3)

	a, b := res["user_1"], res["user_1025"]
	assert.True(t, a.Success)
	assert.Equal(t, 5, a.Count)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, a.Seqs)
	assert.Equal(t, int64(1), a.StartSeq)
	// user_1 与 user_1025 同分片，不复用
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, b.Seqs)
	assert.Equal(t, int64(6), b.StartSeq)

	assert.Equal(t, 1.0, f.alloc.Stats().SuccessRate())
}

func TestAllocatorStats_SuccessRate(t *testing.T) {
	for _, tc := range []struct {
		st   AllocatorStats
		want float64
	}{
		{AllocatorStats{}, 1},
		{AllocatorStats{TotalGenerated: 2, TotalErrors: 1}, 0.6667},
		{AllocatorStats{TotalGenerated: 1, TotalErrors: 2}, 0.3333},
		{AllocatorStats{TotalGenerated: 99999, TotalErrors: 1}, 1},
		{AllocatorStats{TotalErrors: 3}, 0},
	} {
		assert.Equal(t, tc.want, tc.st.SuccessRate(), "%+v", tc.st)
	}
}

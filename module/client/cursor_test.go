package client

import (
	"context"
	"testing"

	"PPSeq/module/chat/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cursorStores(t *testing.T) map[string]CursorStore {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return map[string]CursorStore{
		"mem":   NewMemCursorStore(),
		"redis": NewRedisCursorStore(rdb),
	}
}

func TestCursorStore_Monotonic(t *testing.T) {
	ctx := context.Background()
	for name, cs := range cursorStores(t) {
		t.Run(name, func(t *testing.T) {
			v, err := cs.Load(ctx, "1", "u:1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), v)

			v, err = cs.Raise(ctx, "1", "u:1", 10)
			require.NoError(t, err)
			assert.Equal(t, int64(10), v)

			// 更小的值不生效
			v, err = cs.Raise(ctx, "1", "u:1", 7)
			require.NoError(t, err)
			assert.Equal(t, int64(10), v)
			v, err = cs.Load(ctx, "1", "u:1")
			require.NoError(t, err)
			assert.Equal(t, int64(10), v)

			// 用户与流互相独立
			_, err = cs.Raise(ctx, "1", "g:7", 3)
			require.NoError(t, err)
			v, _ = cs.Load(ctx, "2", "u:1")
			assert.Equal(t, int64(0), v)
			v, _ = cs.Load(ctx, "1", "g:7")
			assert.Equal(t, int64(3), v)
		})
	}
}

func TestReorderBuffer(t *testing.T) {
	b := NewReorderBuffer()
	_, ok := b.Min()
	assert.False(t, ok)

	assert.True(t, b.Put(&model.Message{Seq: 9}))
	assert.True(t, b.Put(&model.Message{Seq: 4, Content: "first"}))
	assert.False(t, b.Put(&model.Message{Seq: 4, Content: "dup"}))
	min, ok := b.Min()
	require.True(t, ok)
	assert.Equal(t, int64(4), min)

	m, ok := b.Take(4)
	require.True(t, ok)
	assert.Equal(t, "first", m.Content)
	_, ok = b.Take(4)
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())
}

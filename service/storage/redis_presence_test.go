package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresence(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	p := NewPresence(rdb, 30*time.Second)

	_, online, err := p.Lookup(ctx, "1")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, p.Online(ctx, "1", "node-a"))
	node, online, err := p.Lookup(ctx, "1")
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "node-a", node)

	// 用户漂移到 node-b 后，node-a 的下线不生效
	require.NoError(t, p.Online(ctx, "1", "node-b"))
	ok, err := p.Offline(ctx, "1", "node-a")
	require.NoError(t, err)
	assert.False(t, ok)
	node, _, _ = p.Lookup(ctx, "1")
	assert.Equal(t, "node-b", node)

	ok, err = p.Offline(ctx, "1", "node-b")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Online(ctx, "2", "node-a"))
	mr.FastForward(31 * time.Second)
	_, online, _ = p.Lookup(ctx, "2")
	assert.False(t, online)
}

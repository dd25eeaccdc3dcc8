package client

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"PPSeq/module/chat/model"

	"github.com/redis/go-redis/v9"
)

// CursorStore 同步游标：单聊收件箱 u:<user> 即全局 lastSyncSeq，群流 g:<gid> 为会话游标。
// Raise 只升不降，返回写后的值
type CursorStore interface {
	Load(ctx context.Context, user, stream string) (int64, error)
	Raise(ctx context.Context, user, stream string, seq int64) (int64, error)
}

// GlobalStream 用户的全局游标
func GlobalStream(user string) string { return model.UserStream(user) }

type memCursors struct {
	mu  sync.Mutex
	cur map[string]int64
}

func NewMemCursorStore() CursorStore {
	return &memCursors{cur: make(map[string]int64)}
}

func (m *memCursors) Load(_ context.Context, user, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur[user+"|"+stream], nil
}

func (m *memCursors) Raise(_ context.Context, user, stream string, seq int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := user + "|" + stream
	if seq > m.cur[k] {
		m.cur[k] = seq
	}
	return m.cur[k], nil
}

// cursor key: im:cursor:<user>，field 为 stream
func cursorKey(user string) string { return "im:cursor:" + user }

// KEYS[1]=cursor hash; ARGV[1]=stream; ARGV[2]=seq；返回写后的值
var luaRaiseCursor = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local v = tonumber(ARGV[2])
if v > cur then
  redis.call('HSET', KEYS[1], ARGV[1], v)
  return v
end
return cur
`)

// RedisCursorStore 服务端托管的客户端（机器人、代理）用
type RedisCursorStore struct {
	rdb redis.UniversalClient
}

func NewRedisCursorStore(rdb redis.UniversalClient) *RedisCursorStore {
	return &RedisCursorStore{rdb: rdb}
}

func (s *RedisCursorStore) Load(ctx context.Context, user, stream string) (int64, error) {
	v, err := s.rdb.HGet(ctx, cursorKey(user), stream).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (s *RedisCursorStore) Raise(ctx context.Context, user, stream string, seq int64) (int64, error) {
	return luaRaiseCursor.Run(ctx, s.rdb, []string{cursorKey(user)}, stream, seq).Int64()
}

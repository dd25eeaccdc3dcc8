package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>
// Value: gateway 节点 id，TTL 控制在线有效期，心跳续期
func presenceKey(user string) string { return "im:presence:" + user }

// 只删除自己节点写入的在线记录，避免用户已漂移到其他节点时被误删
// KEYS[1]=presence key; ARGV[1]=nodeID
var luaOfflineIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type Presence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewPresence(rdb redis.UniversalClient, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

func (p *Presence) TTL() time.Duration { return p.ttl }

// Online 设置在线并续期
func (p *Presence) Online(ctx context.Context, user, nodeID string) error {
	return p.rdb.Set(ctx, presenceKey(user), nodeID, p.ttl).Err()
}

// Offline 仅当记录仍属于 nodeID 时删除
func (p *Presence) Offline(ctx context.Context, user, nodeID string) (bool, error) {
	n, err := luaOfflineIfOwner.Run(ctx, p.rdb, []string{presenceKey(user)}, nodeID).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Lookup 查询用户所在节点
func (p *Presence) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

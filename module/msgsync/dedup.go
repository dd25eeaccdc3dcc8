package msgsync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	defaultDedupTTL  = 10 * time.Minute
	defaultDedupSize = 100_000
)

// AckCache 记住 (from, clientSeq) 第一次的 ack；客户端丢 ack 后重发时原样返回，不再发号
type AckCache interface {
	Get(ctx context.Context, from, clientSeq string) (model.SendAck, bool, error)
	// Put 只在不存在时写入，返回最终生效的 ack
	Put(ctx context.Context, from string, ack model.SendAck) (model.SendAck, error)
}

func dedupKey(from, clientSeq string) string { return from + "|" + clientSeq }

// MemAckCache 单进程，容量与 TTL 双重上限
type MemAckCache struct {
	lru *expirable.LRU[string, model.SendAck]
}

func NewMemAckCache(size int, ttl time.Duration) *MemAckCache {
	if size <= 0 {
		size = defaultDedupSize
	}
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &MemAckCache{lru: expirable.NewLRU[string, model.SendAck](size, nil, ttl)}
}

func (m *MemAckCache) Get(_ context.Context, from, clientSeq string) (model.SendAck, bool, error) {
	ack, ok := m.lru.Get(dedupKey(from, clientSeq))
	return ack, ok, nil
}

func (m *MemAckCache) Put(_ context.Context, from string, ack model.SendAck) (model.SendAck, error) {
	key := dedupKey(from, ack.ClientSeq)
	if prev, ok := m.lru.Get(key); ok {
		return prev, nil
	}
	m.lru.Add(key, ack)
	return ack, nil
}

// RedisAckCache 多节点共享：SET NX EX，落败方读回先写入的 ack
type RedisAckCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisAckCache(rdb redis.UniversalClient, ttl time.Duration) *RedisAckCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisAckCache{rdb: rdb, ttl: ttl}
}

func (r *RedisAckCache) key(from, clientSeq string) string {
	return "ppseq:sendack:{" + from + "}:" + clientSeq
}

func (r *RedisAckCache) Get(ctx context.Context, from, clientSeq string) (model.SendAck, bool, error) {
	b, err := r.rdb.Get(ctx, r.key(from, clientSeq)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.SendAck{}, false, nil
	}
	if err != nil {
		return model.SendAck{}, false, errs.ErrStoreUnavailable.WrapMsg("get send ack", "from", from, "err", err)
	}
	var ack model.SendAck
	if err := json.Unmarshal(b, &ack); err != nil {
		return model.SendAck{}, false, errs.WrapMsg(err, "decode send ack", "from", from)
	}
	return ack, true, nil
}

func (r *RedisAckCache) Put(ctx context.Context, from string, ack model.SendAck) (model.SendAck, error) {
	b, err := json.Marshal(ack)
	if err != nil {
		return ack, errs.WrapMsg(err, "encode send ack", "from", from)
	}
	ok, err := r.rdb.SetNX(ctx, r.key(from, ack.ClientSeq), b, r.ttl).Result()
	if err != nil {
		return ack, errs.ErrStoreUnavailable.WrapMsg("put send ack", "from", from, "err", err)
	}
	if ok {
		return ack, nil
	}
	prev, found, err := r.Get(ctx, from, ack.ClientSeq)
	if err != nil || !found {
		return ack, err
	}
	return prev, nil
}

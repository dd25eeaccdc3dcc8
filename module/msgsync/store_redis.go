package msgsync

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"

	"github.com/redis/go-redis/v9"
)

const defaultRedisMaxLen = 100_000

// 每个流一个 ZSET：score=seq，member=消息 JSON；已送达的 msgId 单独放一个 SET
func streamKey(stream string) string    { return "im:stream:" + stream }
func deliveredKey(stream string) string { return "im:stream:" + stream + ":delivered" }

// 同一 seq 已存在则忽略；超过 maxLen 从最小 seq 开始裁掉
// KEYS[1]=stream key; ARGV[1]=seq ARGV[2]=member ARGV[3]=maxLen
var luaAddIfAbsent = redis.NewScript(`
if #redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1], 'LIMIT', 0, 1) > 0 then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
local limit = tonumber(ARGV[3])
if limit > 0 then
  local n = redis.call('ZCARD', KEYS[1])
  if n > limit then
    redis.call('ZREMRANGEBYRANK', KEYS[1], 0, n - limit - 1)
  end
end
return 1
`)

type RedisMessageStore struct {
	rdb    redis.UniversalClient
	maxLen int64
}

func NewRedisMessageStore(rdb redis.UniversalClient, maxLen int64) *RedisMessageStore {
	if maxLen <= 0 {
		maxLen = defaultRedisMaxLen
	}
	return &RedisMessageStore{rdb: rdb, maxLen: maxLen}
}

func (r *RedisMessageStore) Save(ctx context.Context, msgs ...*model.Message) error {
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return errs.WrapMsg(err, "marshal message", "stream", m.Stream, "seq", m.Seq)
		}
		err = luaAddIfAbsent.Run(ctx, r.rdb, []string{streamKey(m.Stream)}, m.Seq, string(b), r.maxLen).Err()
		if err != nil {
			return errs.WrapMsg(err, "redis save message", "stream", m.Stream, "seq", m.Seq)
		}
	}
	return nil
}

func (r *RedisMessageStore) MaxSeq(ctx context.Context, stream string) (int64, error) {
	zs, err := r.rdb.ZRevRangeWithScores(ctx, streamKey(stream), 0, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, errs.WrapMsg(err, "redis max seq", "stream", stream)
	}
	if len(zs) == 0 {
		return 0, nil
	}
	return int64(zs[0].Score), nil
}

func (r *RedisMessageStore) Range(ctx context.Context, stream string, from, to int64, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	maxScore := "+inf"
	if to > 0 {
		maxScore = strconv.FormatInt(to, 10)
	}
	vals, err := r.rdb.ZRangeByScore(ctx, streamKey(stream), &redis.ZRangeBy{
		Min:   strconv.FormatInt(from, 10),
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "redis range", "stream", stream)
	}
	out := make([]*model.Message, 0, len(vals))
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, errs.WrapMsg(err, "unmarshal message", "stream", stream)
		}
		out = append(out, &m)
	}
	return out, nil
}

// MarkDelivered 返回新加入已送达集合的条数
func (r *RedisMessageStore) MarkDelivered(ctx context.Context, stream string, msgIDs []string) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	members := make([]any, len(msgIDs))
	for i, id := range msgIDs {
		members[i] = id
	}
	n, err := r.rdb.SAdd(ctx, deliveredKey(stream), members...).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "redis mark delivered", "stream", stream)
	}
	return n, nil
}

func (r *RedisMessageStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

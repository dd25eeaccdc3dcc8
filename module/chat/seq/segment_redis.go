package seq

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "im:seq:"

const (
	fieldCur = "cur_seq"
	fieldMax = "max_seq"
)

// 分片原子发号：KEYS[1]=key; ARGV[1]=step; ARGV[2]=initialValue; ARGV[3]=ttlSeconds
// 返回：{0,seq,max} 段内；{1,seq,newMax} 续段需持久化；{2,0,0} 未初始化；{-1,0,0} 参数非法
var luaAllocate = redis.NewScript(`
  local k = KEYS[1]
  local step = tonumber(ARGV[1])
  local init = tonumber(ARGV[2])
  local ttl = tonumber(ARGV[3])
  if not step or step <= 0 or not init or not ttl then
    return {-1, 0, 0}
  end

  local cur = redis.call('HGET', k, 'cur_seq')
  local maxv = redis.call('HGET', k, 'max_seq')
  if not cur or not maxv then
    if init < 0 then
      return {2, 0, 0}
    end
    cur = init
    maxv = init
  else
    cur = tonumber(cur)
    maxv = tonumber(maxv)
  end

  cur = cur + 1
  if cur <= maxv then
    redis.call('HSET', k, 'cur_seq', cur)
    redis.call('EXPIRE', k, ttl)
    return {0, cur, maxv}
  end

  -- 段用尽：从当前 max 往后续一段
  local newMax = maxv + step
  redis.call('HSET', k, 'cur_seq', cur, 'max_seq', newMax)
  redis.call('EXPIRE', k, ttl)
  return {1, cur, newMax}
`)

// RedisSegmentCache 基于 Redis Lua 的分片计数器
type RedisSegmentCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisSegmentCache(rdb redis.UniversalClient, ttl time.Duration) *RedisSegmentCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisSegmentCache{rdb: rdb, ttl: ttl}
}

func (c *RedisSegmentCache) key(shardKey string) string { return keyPrefix + shardKey }

func (c *RedisSegmentCache) Allocate(ctx context.Context, shardKey string, step int32, initialValue int64) Result {
	ttl := int64(c.ttl / time.Second)
	arr, err := luaAllocate.Run(ctx, c.rdb, []string{c.key(shardKey)}, step, initialValue, ttl).Int64Slice()
	if err != nil {
		return failedResult("redis: " + err.Error())
	}
	if len(arr) != 3 {
		return failedResult("unexpected script reply len=" + strconv.Itoa(len(arr)))
	}
	switch arr[0] {
	case 0:
		return allocatedResult(arr[1], arr[2])
	case 1:
		return exhaustedResult(arr[1], arr[2])
	case 2:
		return Result{Kind: Unseeded}
	default:
		return failedResult("script sentinel " + strconv.FormatInt(arr[0], 10))
	}
}

func (c *RedisSegmentCache) Peek(ctx context.Context, shardKey string) (CachedCounter, bool, error) {
	vals, err := c.rdb.HMGet(ctx, c.key(shardKey), fieldCur, fieldMax).Result()
	if err != nil {
		return CachedCounter{}, false, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return CachedCounter{}, false, nil
	}
	cur, err := toInt64(vals[0])
	if err != nil {
		return CachedCounter{}, false, err
	}
	max, err := toInt64(vals[1])
	if err != nil {
		return CachedCounter{}, false, err
	}
	return CachedCounter{CurSeq: cur, MaxSeq: max}, true, nil
}

func (c *RedisSegmentCache) Evict(ctx context.Context, shardKey string) error {
	return c.rdb.Del(ctx, c.key(shardKey)).Err()
}

func (c *RedisSegmentCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseInt(x, 10, 64)
	case int64:
		return x, nil
	default:
		return 0, fmt.Errorf("unexpected counter type %T", v)
	}
}

package redis

import (
	"context"
	"time"

	"PPSeq/global/config"
	"PPSeq/logger"
	"PPSeq/tools/errs"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewClient 构造并 Ping，失败时关闭连接；调用方持有并负责 Close
func NewClient(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.ErrStoreUnavailable.WrapMsg("redis ping", "addr", c.Addr, "err", err)
	}
	logger.Info("redis connected", zap.String("addr", c.Addr), zap.Int("db", c.DB))
	return rdb, nil
}

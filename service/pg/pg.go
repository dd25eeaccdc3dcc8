package pg

import (
	"context"
	"time"

	"PPSeq/global/config"
	"PPSeq/logger"
	"PPSeq/tools/errs"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// NewPool 解析 DSN 建连接池并 Ping，调用方负责 Close
func NewPool(ctx context.Context, c config.PostgresConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(c.Dsn)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("parse postgres dsn", "err", err)
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	pc.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("postgres pool", "err", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errs.ErrStoreUnavailable.WrapMsg("postgres ping", "host", pc.ConnConfig.Host, "err", err)
	}
	logger.Info("postgres connected", zap.String("host", pc.ConnConfig.Host), zap.String("db", pc.ConnConfig.Database))
	return pool, nil
}

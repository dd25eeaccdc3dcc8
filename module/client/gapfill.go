package client

import (
	"context"
	"errors"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"
	"PPSeq/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

type RetryOptions struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	AttemptTimeout  time.Duration
}

func (o *RetryOptions) norm() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 200 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 2 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 5 * time.Second
	}
}

func (o RetryOptions) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(o.InitialInterval),
		backoff.WithMaxInterval(o.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	), uint64(o.MaxRetries))
	return backoff.WithContext(b, ctx)
}

// GapFillClient 区间补拉，带退避重试
type GapFillClient struct {
	user string
	api  SyncAPI
	opts RetryOptions
	log  *zap.Logger
}

func NewGapFillClient(user string, api SyncAPI, opts RetryOptions) *GapFillClient {
	opts.norm()
	return &GapFillClient{user: user, api: api, opts: opts, log: logger.Named("client.gapfill").With(zap.String("user", user))}
}

// PullRange 拉 [from, to]；返回的 ToSeq 可能因服务端限额小于 to
func (g *GapFillClient) PullRange(ctx context.Context, stream string, from, to int64) (*model.RangeResp, error) {
	var out *model.RangeResp
	op := func() error {
		actx, cancel := context.WithTimeout(ctx, g.opts.AttemptTimeout)
		defer cancel()
		resp, err := g.api.PullRange(actx, model.RangeReq{UserID: g.user, Stream: stream, FromSeq: from, ToSeq: to})
		if err != nil {
			// 参数或权限错误重试无意义
			if errors.Is(err, errs.ErrArgs) || errors.Is(err, errs.ErrNoPermission) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = resp
		return nil
	}
	notify := func(err error, next time.Duration) {
		g.log.Info("pull range failed, retrying", zap.String("stream", stream),
			zap.Int64("from", from), zap.Int64("to", to), zap.Duration("next", next), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, g.opts.backOff(ctx), notify); err != nil {
		return nil, errs.ErrGapFillFailed.WrapMsg("pull range", "stream", stream, "from", from, "to", to, "err", err)
	}
	return out, nil
}

// Fill 异步补拉，结果交给 done
func (g *GapFillClient) Fill(stream string, from, to int64, done func(GapResult)) {
	safe.SafeGo(func() {
		res := GapResult{Stream: stream, From: from, To: to}
		resp, err := g.PullRange(context.Background(), stream, from, to)
		if err != nil {
			res.Err = err
		} else {
			res.Messages = resp.Messages
			if resp.ToSeq >= from && resp.ToSeq < to {
				res.To = resp.ToSeq
			}
		}
		done(res)
	})
}

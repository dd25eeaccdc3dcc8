package natsx

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Publisher 按 biz 发布，NatsManager 与测试替身都实现它
type Publisher interface {
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
}

// SyncPublisher 同步发布器（带退避重试）
type SyncPublisher struct {
	P       Publisher
	Retries int
	Backoff time.Duration
}

func (sp *SyncPublisher) Publish(ctx context.Context, biz string, payload []byte, hdr map[string]string) error {
	interval := sp.Backoff
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(interval),
		backoff.WithMaxElapsedTime(0),
	), uint64(max(sp.Retries, 0))), ctx)
	return backoff.Retry(func() error {
		return sp.P.Publish(ctx, biz, payload, hdr)
	}, b)
}

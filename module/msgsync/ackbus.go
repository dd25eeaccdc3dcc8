package msgsync

import (
	"context"
	"encoding/json"
	"time"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/service/natsx"
	"PPSeq/tools/errs"

	"go.uber.org/zap"
)

// AckBiz natsx 路由的 biz 名
const AckBiz = "sync.ack"

type AckHandler func(ctx context.Context, ev model.AckEvent) error

// AckBus BatchAck 的异步通道：接口层只管发，消费端落库
type AckBus interface {
	Publish(ctx context.Context, ev model.AckEvent) error
}

// Subscriber *natsx.NatsManager 实现
type Subscriber interface {
	Subscribe(biz string, h natsx.Handler) error
}

type NatsAckBus struct {
	pub *natsx.SyncPublisher
	log *zap.Logger
}

func NewNatsAckBus(p natsx.Publisher, retries int) *NatsAckBus {
	return &NatsAckBus{
		pub: &natsx.SyncPublisher{P: p, Retries: retries, Backoff: 50 * time.Millisecond},
		log: logger.Named("sync.ackbus"),
	}
}

// Publish 每条事件带独立 Nats-Msg-Id，重发与 JetStream 重投都由消费端幂等中间件去重
func (b *NatsAckBus) Publish(ctx context.Context, ev model.AckEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "marshal ack event")
	}
	hdr := natsx.WithMsgID(nil, "")
	if err := b.pub.Publish(ctx, AckBiz, data, hdr); err != nil {
		b.log.Warn("publish batch ack failed", zap.String("user", ev.UserID), zap.Error(err))
		return err
	}
	return nil
}

// Consume 订阅 AckBiz，解码后交给 h；坏消息丢弃不重投
func (b *NatsAckBus) Consume(sub Subscriber, h AckHandler) error {
	return sub.Subscribe(AckBiz, func(ctx context.Context, msg natsx.Message) error {
		var ev model.AckEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Error("bad ack event", zap.String("subject", msg.Subject), zap.Error(err))
			return nil
		}
		return h(ctx, ev)
	})
}

// DirectAckBus 单进程：直接调用处理函数，未 Bind 时丢弃
type DirectAckBus struct {
	h AckHandler
}

func NewDirectAckBus() *DirectAckBus { return &DirectAckBus{} }

// Bind SyncService 构造后回填 ApplyAck
func (b *DirectAckBus) Bind(h AckHandler) { b.h = h }

func (b *DirectAckBus) Publish(ctx context.Context, ev model.AckEvent) error {
	if b.h == nil {
		return nil
	}
	return b.h(ctx, ev)
}

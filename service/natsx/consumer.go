package natsx

import (
	"context"

	"PPSeq/tools/errs"
	"PPSeq/tools/safe"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Consumer 消费端
type Consumer struct {
	c   *Client
	mws []Middleware
}

func NewConsumer(c *Client, mws ...Middleware) *Consumer {
	return &Consumer{c: c, mws: mws}
}

// Subscribe Core / JetStream Push 订阅（JS 按 handler 结果 ACK/NACK）
func (cs *Consumer) Subscribe(biz string, h Handler) error {
	r, ok := cs.c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not registered", "biz", biz)
	}
	h = Chain(h, cs.mws...)
	log := cs.c.log.With(zap.String("biz", biz), zap.String("subject", r.Subject))

	var (
		sub *nats.Subscription
		err error
	)
	cb := dispatch(h, log, r.Mode == JetStreamPush)
	switch r.Mode {
	case Core:
		if r.Queue == "" {
			sub, err = cs.c.nc.Subscribe(r.Subject, cb)
		} else {
			sub, err = cs.c.nc.QueueSubscribe(r.Subject, r.Queue, cb)
		}
		if err == nil {
			_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
		}
	case JetStreamPush:
		if cs.c.js == nil {
			return errs.ErrArgs.WrapMsg("jetstream not initialized", "biz", biz)
		}
		opts := []nats.SubOpt{nats.ManualAck(), nats.AckWait(r.AckWait), nats.MaxAckPending(r.MaxAckPending)}
		if r.Durable != "" {
			opts = append(opts, nats.Durable(r.Durable))
		}
		if r.Queue == "" {
			sub, err = cs.c.js.Subscribe(r.Subject, cb, opts...)
		} else {
			sub, err = cs.c.js.QueueSubscribe(r.Subject, r.Queue, cb, opts...)
		}
	default:
		return errs.ErrArgs.WrapMsg("unsupported mode", "biz", biz, "mode", int(r.Mode))
	}
	if err != nil {
		return errs.WrapMsg(err, "nats subscribe", "subject", r.Subject)
	}
	cs.c.mu.Lock()
	cs.c.subs[biz] = sub
	cs.c.mu.Unlock()
	log.Info("subscribed", zap.String("queue", r.Queue))
	return nil
}

// dispatch 回调里跑 handler；ackable 时按结果 Ack/Nak，失败交给服务端重投
func dispatch(h Handler, log *zap.Logger, ackable bool) nats.MsgHandler {
	return func(m *nats.Msg) {
		safe.Run(func() {
			err := h(context.Background(), toMessage(m))
			if err != nil {
				log.Warn("handle failed", zap.Bool("nak", ackable), zap.Error(err))
			}
			if !ackable {
				return
			}
			if err != nil {
				_ = m.Nak()
				return
			}
			_ = m.Ack()
		})
	}
}

func toMessage(m *nats.Msg) Message {
	return Message{
		Subject: m.Subject,
		Data:    append([]byte(nil), m.Data...),
		Header:  headerToMap(m.Header),
	}
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

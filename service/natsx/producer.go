package natsx

import (
	"context"

	"PPSeq/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Producer 生产端，按 biz 找路由再决定走 core 还是 JetStream
type Producer struct{ c *Client }

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

func (p *Producer) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := p.c.route(biz)
	if !ok {
		return errs.ErrArgs.WrapMsg("route not registered", "biz", biz)
	}
	msg := newMsg(r.Subject, data, hdr)
	if r.Mode == Core {
		if err := p.c.nc.PublishMsg(msg); err != nil {
			return errs.WrapMsg(err, "nats publish", "subject", r.Subject)
		}
		return nil
	}
	if p.c.js == nil {
		return errs.ErrArgs.WrapMsg("jetstream not initialized", "biz", biz)
	}
	ack, err := p.c.js.PublishMsg(msg, nats.Context(ctx))
	if err != nil {
		return errs.WrapMsg(err, "jetstream publish", "subject", r.Subject)
	}
	p.c.log.Debug("published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Set(k, v)
	}
	return msg
}

package natsx

import (
	"context"

	"PPSeq/tools/errs"
)

var errNotReady = errs.ErrInternalServer.WithDetail("nats manager not initialized")

// NatsManager 对外唯一入口：ack 扇入与网关转推都只依赖它
type NatsManager struct {
	client   *Client
	producer *Producer
	consumer *Consumer
}

// NewNatsManager middlewares 作用于所有订阅，幂等中间件放这里
func NewNatsManager(cfg Config, middlewares ...Middleware) (*NatsManager, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client:   c,
		producer: NewProducer(c),
		consumer: NewConsumer(c, middlewares...),
	}, nil
}

func (m *NatsManager) ready() bool { return m != nil && m.client != nil }

func (m *NatsManager) Close() error {
	if !m.ready() {
		return nil
	}
	return m.client.Close()
}

func (m *NatsManager) RegisterRoute(r Route) error {
	if !m.ready() {
		return errNotReady
	}
	return m.client.RegisterRoute(r)
}

func (m *NatsManager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if !m.ready() {
		return errNotReady
	}
	return m.producer.Publish(ctx, biz, data, hdr)
}

// Subscribe 同组内用 Queue 分摊；广播则 Queue 置空
func (m *NatsManager) Subscribe(biz string, h Handler) error {
	if !m.ready() {
		return errNotReady
	}
	return m.consumer.Subscribe(biz, h)
}

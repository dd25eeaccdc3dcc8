package kafka

import (
	"context"
	"fmt"
	"sync"
)

type MessageHandler func(ctx context.Context, topic string, key, value []byte) error

// Dispatcher 按 topic 分发，未注册的 topic 走 fallback
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	fallback MessageHandler
}

func NewDispatcher(fallback MessageHandler) *Dispatcher {
	return &Dispatcher{handlers: make(map[string]MessageHandler), fallback: fallback}
}

func (d *Dispatcher) Register(topic string, h MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = h
}

// RegisterAll 给所有大 Topic 注册同一处理逻辑
func (d *Dispatcher) RegisterAll(topics []string, h MessageHandler) {
	for _, t := range topics {
		d.Register(t, h)
	}
}

func (d *Dispatcher) Handle(ctx context.Context, topic string, key, value []byte) error {
	d.mu.RLock()
	h, ok := d.handlers[topic]
	d.mu.RUnlock()
	if !ok {
		h = d.fallback
	}
	if h == nil {
		return fmt.Errorf("no handler registered for topic: %s", topic)
	}
	return h(ctx, topic, key, value)
}

package kafka

import (
	"context"
	"errors"
	"time"

	"PPSeq/logger"
	"PPSeq/tools/safe"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// ConsumerGroup 一个分区内串行处理，处理完才提交位点（至少一次）
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	log     *zap.Logger
}

func NewConsumerGroup(g sarama.ConsumerGroup, topics []string, h MessageHandler) *ConsumerGroup {
	return &ConsumerGroup{group: g, topics: topics, handler: h, log: logger.Named("kafka.consumer")}
}

// Run 阻塞直到 ctx 结束；rebalance 后自动重新 Consume
func (c *ConsumerGroup) Run(ctx context.Context) error {
	safe.SafeGo(func() {
		for err := range c.group.Errors() {
			c.log.Warn("consumer group error", zap.Error(err))
		}
	})
	h := &groupHandler{handler: c.handler, log: c.log}
	for {
		if err := c.group.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.log.Error("consume error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *ConsumerGroup) Close() error { return c.group.Close() }

type groupHandler struct {
	handler MessageHandler
	log     *zap.Logger
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group setup", zap.Any("claims", s.Claims()))
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.log.Info("consumer group cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := consumeOne(session.Context(), h.handler, msg); err != nil {
				// 只有上下文结束才会失败，不提交位点，rebalance 后重投
				return nil
			}
			session.MarkMessage(msg, "")
		}
	}
}

// consumeOne 处理失败按退避重试直到成功或 ctx 结束，保持分区内顺序
func consumeOne(ctx context.Context, h MessageHandler, msg *sarama.ConsumerMessage) error {
	wait := 100 * time.Millisecond
	for {
		err := h(ctx, msg.Topic, msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSkip) {
			logger.Warn("kafka message skipped", zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			return nil
		}
		logger.Warn("kafka handler failed, retrying", zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset),
			zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if wait < 5*time.Second {
			wait *= 2
		}
	}
}

// ErrSkip handler 返回它表示消息无法处理（如格式错误），跳过不重试
var ErrSkip = errors.New("kafka: skip message")

package kafka

import (
	"context"

	"PPSeq/tools/errs"

	"github.com/Shopify/sarama"
)

// Producer 同步生产者：按 key 选大 Topic，再由 hash 分区器选分区，同 key 严格有序
type Producer struct {
	sp     sarama.SyncProducer
	topics []string
}

func NewProducer(sp sarama.SyncProducer, topics []string) *Producer {
	return &Producer{sp: sp, topics: topics}
}

// Send 返回写入的 topic/partition/offset
func (p *Producer) Send(ctx context.Context, key string, value []byte) (string, int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	topic := SelectTopic(key, p.topics)
	if topic == "" {
		return "", 0, 0, errs.ErrArgs.WrapMsg("no kafka topic configured")
	}
	part, off, err := p.sp.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return topic, 0, 0, errs.WrapMsg(err, "kafka send", "topic", topic, "key", key)
	}
	return topic, part, off, nil
}

func (p *Producer) Close() error { return p.sp.Close() }

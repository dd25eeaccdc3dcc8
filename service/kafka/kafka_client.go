package kafka

import (
	"PPSeq/global/config"
	"PPSeq/logger"
	"PPSeq/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Client 持有 sarama.Client 与同步生产者，serve 构造后注入使用方
type Client struct {
	cfg      config.KafkaConfig
	client   sarama.Client
	producer *Producer
	topics   []string
}

func NewClient(c config.KafkaConfig) (*Client, error) {
	scfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka config", "version", c.Version)
	}
	cl, err := sarama.NewClient(c.Brokers, scfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka connect", "brokers", c.Brokers)
	}
	topics := GenTopics(c.TopicPattern, c.TopicCount)
	if c.AutoCreateTopics {
		admin, err := sarama.NewClusterAdminFromClient(cl)
		if err != nil {
			_ = cl.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		// admin 与 client 共用连接，这里不 Close admin
		if err := EnsureTopics(admin, topics, c); err != nil {
			_ = cl.Close()
			return nil, err
		}
	}
	sp, err := sarama.NewSyncProducerFromClient(cl)
	if err != nil {
		_ = cl.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	logger.Info("kafka connected", zap.Strings("brokers", c.Brokers), zap.Int("topics", len(topics)))
	return &Client{cfg: c, client: cl, producer: NewProducer(sp, topics), topics: topics}, nil
}

func (c *Client) Producer() *Producer { return c.producer }

func (c *Client) Topics() []string { return c.topics }

// NewConsumerGroup 与 producer 共用底层 client
func (c *Client) NewConsumerGroup(groupID string, h MessageHandler) (*ConsumerGroup, error) {
	g, err := sarama.NewConsumerGroupFromClient(groupID, c.client)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka consumer group", "group", groupID)
	}
	return NewConsumerGroup(g, c.topics, h), nil
}

func (c *Client) Close() error {
	if err := c.producer.Close(); err != nil {
		logger.Warn("kafka producer close", zap.Error(err))
	}
	return c.client.Close()
}

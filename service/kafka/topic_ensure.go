package kafka

import (
	"errors"
	"fmt"

	"PPSeq/global/config"
	"PPSeq/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopics 会：
// 1) 不存在就按配置创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 仅支持增加分区，不能减少）。
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, c config.KafkaConfig) error {
	minISR := "1"
	if c.ReplicationFactor >= 3 {
		minISR = "2"
	}
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return fmt.Errorf("describe topic %s: %w", t, err)
		}
		exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     c.PartitionsPerTopic,
				ReplicationFactor: c.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					logger.Info("[Topic] exists (race)", zap.String("topic", t))
					continue
				}
				return fmt.Errorf("create topic %s: %w", t, err)
			}
			logger.Info("[Topic] created", zap.String("topic", t),
				zap.Int32("partitions", c.PartitionsPerTopic), zap.Int16("rf", c.ReplicationFactor))
			continue
		}

		curParts := int32(len(descs[0].Partitions))
		if c.PartitionsPerTopic > curParts {
			if err := admin.CreatePartitions(t, c.PartitionsPerTopic, nil, false); err != nil {
				return fmt.Errorf("expand partitions %s from %d to %d: %w", t, curParts, c.PartitionsPerTopic, err)
			}
			logger.Info("[Topic] partitions expanded", zap.String("topic", t),
				zap.Int32("from", curParts), zap.Int32("to", c.PartitionsPerTopic))
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }

package kafka

import (
	"strings"
	"time"

	"PPSeq/global/config"
	"PPSeq/logger"

	"github.com/Shopify/sarama"
)

func init() {
	// sarama 内部日志走 zap
	sarama.Logger = logger.StdLog("sarama")
}

// BuildBaseConfig 按应用配置生成 sarama 配置，producer/consumer/admin 共用
func BuildBaseConfig(c config.KafkaConfig) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	ver := sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, err
		}
		ver = v
	}
	cfg.Version = ver
	cfg.ClientID = "ppseq"

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = max(c.ProducerRetries, 1)
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ 关键：Key 控制分区，同会话有序
	cfg.Producer.Idempotent = false
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.ConsumerInitialOffset) {
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}

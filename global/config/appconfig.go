package config

import "time"

const (
	RoleSeq     = "seq"     // 发号服务 /sequence/*
	RoleSync    = "sync"    // 同步接口 /sync/* /msg/send
	RoleGateway = "gateway" // websocket 网关
	RoleDeliver = "deliver" // kafka 消费落库+推送
)

type AppConfig struct {
	NodeId string   `mapstructure:"nodeId"` // 节点ID，同时作为雪花 nodeID
	Roles  []string `mapstructure:"roles"`

	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Nats     NatsConfig     `mapstructure:"nats"`
	Nacos    NacosConfig    `mapstructure:"nacos"`
	Seq      SeqConfig      `mapstructure:"seq"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`     // http 启动端口
	GrpcPort        int           `mapstructure:"grpcPort"` // grpc health
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"` // ws Origin 白名单，空为不限制
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuthConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Secret  string        `mapstructure:"secret"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
}

type MongoConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Uri         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	MaxPoolSize int    `mapstructure:"maxPoolSize"`
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Dsn      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"maxConns"`
}

type KafkaConfig struct {
	Enabled               bool     `mapstructure:"enabled"`
	Brokers               []string `mapstructure:"brokers"`
	GroupID               string   `mapstructure:"groupId"`
	TopicPattern          string   `mapstructure:"topicPattern"` // 例如 "im.msg-%02d"
	TopicCount            int      `mapstructure:"topicCount"`
	PartitionsPerTopic    int32    `mapstructure:"partitionsPerTopic"`
	ReplicationFactor     int16    `mapstructure:"replicationFactor"`
	ProducerRetries       int      `mapstructure:"producerRetries"`
	ProducerCompression   string   `mapstructure:"producerCompression"` // none/snappy/lz4/zstd
	ConsumerInitialOffset string   `mapstructure:"consumerInitialOffset"`
	Version               string   `mapstructure:"version"`
	AutoCreateTopics      bool     `mapstructure:"autoCreateTopics"`
}

type NatsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Servers       []string      `mapstructure:"servers"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	AckSubject    string        `mapstructure:"ackSubject"`
	AckQueue      string        `mapstructure:"ackQueue"`
	ReconnectWait time.Duration `mapstructure:"reconnectWait"`
	Mode          string        `mapstructure:"mode"`    // core / js_push
	Durable       string        `mapstructure:"durable"` // js_push 时的 durable 名
}

type NacosConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      uint64 `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	DataId    string `mapstructure:"dataId"`
	Group     string `mapstructure:"group"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

type SeqConfig struct {
	Sections       int           `mapstructure:"sections"` // 分片数 N
	Step           int32         `mapstructure:"step"`     // 每段预分配
	CacheTTL       time.Duration `mapstructure:"cacheTTL"`
	WriterPoolSize int           `mapstructure:"writerPoolSize"`
	WriterRetries  int           `mapstructure:"writerRetries"`
	DrainTimeout   time.Duration `mapstructure:"drainTimeout"`
	SectionStore   string        `mapstructure:"sectionStore"` // pg/mongo/memory
	MaxBatchKeys   int           `mapstructure:"maxBatchKeys"`
	MaxBatchCount  int           `mapstructure:"maxBatchCount"`
}

type SyncConfig struct {
	MessageStore string        `mapstructure:"messageStore"` // mongo/redis/memory
	DefaultLimit int           `mapstructure:"defaultLimit"`
	MaxLimit     int           `mapstructure:"maxLimit"`
	PresenceTTL  time.Duration `mapstructure:"presenceTTL"` // 跨节点在线状态 TTL，心跳续期
	RedisMaxLen  int64         `mapstructure:"redisMaxLen"` // redis 消息存储每个 stream 保留条数
	SendDedupTTL time.Duration `mapstructure:"sendDedupTTL"` // 重发去重窗口，按 (from, clientSeq)
}

type ClientConfig struct {
	Server         string        `mapstructure:"server"`
	BatchSize      int           `mapstructure:"batchSize"`
	PullRetries    int           `mapstructure:"pullRetries"`
	AckTimeout     time.Duration `mapstructure:"ackTimeout"`
	MaxRetry       int           `mapstructure:"maxRetry"`
	PendingCap     int           `mapstructure:"pendingCap"`
	PendingTTL     time.Duration `mapstructure:"pendingTTL"`
	SweepInterval  time.Duration `mapstructure:"sweepInterval"`
	Scheduler      string        `mapstructure:"scheduler"` // sweep/wheel
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	GapRetryDelay  time.Duration `mapstructure:"gapRetryDelay"` // 补拉失败后的重试间隔
}

// Has 是否启用某角色
func (c *AppConfig) Has(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

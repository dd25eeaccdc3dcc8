package natsx

import (
	"strings"
	"sync"
	"time"

	"PPSeq/logger"
	"PPSeq/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Mode 投递语义
type Mode int

const (
	Core          Mode = iota // 至多一次，ack 扇入用这个
	JetStreamPush             // 持久化 + 手动 ack
)

// ParseMode core / js_push，未知值按 core
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "js_push", "jetstream":
		return JetStreamPush
	}
	return Core
}

// Route biz 到 subject 的绑定；Queue 非空时同组分摊
type Route struct {
	Biz           string
	Subject       string
	Mode          Mode
	Queue         string
	Durable       string
	AckWait       time.Duration
	MaxAckPending int
}

type Config struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
}

func (c *Config) setDefaults() {
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax == 0 {
		c.PublishAsyncMax = 4096
	}
}

func (c *Config) options(log *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if c.User != "" {
		opts = append(opts, nats.UserInfo(c.User, c.Password))
	}
	return opts
}

// Client 一条连接 + 路由表 + 活跃订阅
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger

	mu     sync.RWMutex
	routes map[string]Route
	subs   map[string]*nats.Subscription
}

func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nats servers missing")
	}
	cfg.setDefaults()
	log := logger.Named("natsx")
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), cfg.options(log)...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	return &Client{
		cfg:    cfg,
		nc:     nc,
		log:    log,
		routes: make(map[string]Route),
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Close 先停订阅再 drain 连接，已收到的消息处理完
func (c *Client) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}
	if c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

// RegisterRoute JetStream 路由会顺带初始化 JS 上下文
func (c *Client) RegisterRoute(r Route) error {
	if r.Biz == "" || r.Subject == "" {
		return errs.ErrArgs.WrapMsg("invalid route", "biz", r.Biz, "subject", r.Subject)
	}
	if r.AckWait == 0 {
		r.AckWait = 30 * time.Second
	}
	if r.MaxAckPending == 0 {
		r.MaxAckPending = 1024
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.Mode == JetStreamPush && c.js == nil {
		js, err := c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
		if err != nil {
			return errs.WrapMsg(err, "init jetstream", "biz", r.Biz)
		}
		c.js = js
	}
	c.routes[r.Biz] = r
	return nil
}

func (c *Client) route(biz string) (Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[biz]
	return r, ok
}

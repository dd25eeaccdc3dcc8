package client

import (
	"context"
	"sync"
	"time"

	"PPSeq/global/config"
	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/tools/errs"
	"PPSeq/tools/safe"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Options struct {
	Server         string
	Token          string
	BatchSize      int
	PullRetries    int
	AckTimeout     time.Duration
	MaxRetry       int
	PendingCap     int
	PendingTTL     time.Duration
	SweepInterval  time.Duration
	Scheduler      string // sweep/wheel
	RequestTimeout time.Duration
	GapRetryDelay  time.Duration
	AnonymousWS    bool // 服务端未开鉴权时用 ?userId= 建连

	Cursors   CursorStore
	Clock     clockwork.Clock
	Metrics   *Metrics
	OnMessage DeliverFunc
	OnFailed  func(p PendingMessage)
}

func OptionsFromConfig(c config.ClientConfig) Options {
	return Options{
		Server:         c.Server,
		BatchSize:      c.BatchSize,
		PullRetries:    c.PullRetries,
		AckTimeout:     c.AckTimeout,
		MaxRetry:       c.MaxRetry,
		PendingCap:     c.PendingCap,
		PendingTTL:     c.PendingTTL,
		SweepInterval:  c.SweepInterval,
		Scheduler:      c.Scheduler,
		RequestTimeout: c.RequestTimeout,
		GapRetryDelay:  c.GapRetryDelay,
	}
}

// Client 把 reconciler、补拉、离线同步、待确认跟踪和 ws 传输组装在一起
type Client struct {
	user string
	api  SyncAPI
	opts Options
	log  *zap.Logger

	Reconciler *Reconciler
	GapFill    *GapFillClient
	Offline    *OfflineSync
	Pending    *PendingAckTracker

	mu     sync.Mutex
	ws     *WSTransport
	cancel context.CancelFunc
}

func New(user string, api SyncAPI, opts Options) *Client {
	if opts.Cursors == nil {
		opts.Cursors = NewMemCursorStore()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.OnMessage == nil {
		opts.OnMessage = func(*model.Message) {}
	}
	c := &Client{user: user, api: api, opts: opts, log: logger.Named("client").With(zap.String("user", user))}

	retry := RetryOptions{MaxRetries: opts.PullRetries, AttemptTimeout: opts.RequestTimeout}
	c.GapFill = NewGapFillClient(user, api, retry)
	c.Reconciler = NewReconciler(user, opts.Cursors, c.GapFill, opts.OnMessage, ReconcilerOptions{
		RetryDelay: opts.GapRetryDelay, Clock: opts.Clock, Metrics: opts.Metrics,
	})
	c.Offline = NewOfflineSync(user, api, c.Reconciler, opts.Cursors, OfflineSyncOptions{
		BatchSize: opts.BatchSize, Retry: retry, Metrics: opts.Metrics,
	})
	c.Pending = NewPendingAckTracker(user, c.resend, opts.Cursors, PendingOptions{
		Capacity:   opts.PendingCap,
		AckTimeout: opts.AckTimeout,
		MaxRetry:   opts.MaxRetry,
		TTL:        opts.PendingTTL,
		Scheduler:  NewScheduler(opts.Scheduler, opts.SweepInterval, opts.Clock),
		Clock:      opts.Clock,
		Metrics:    opts.Metrics,
		OnFailed:   opts.OnFailed,
	})
	return c
}

// Connect 建立 ws、先做一次离线同步，再启动待确认跟踪。离线同步部分失败不阻止上线
func (c *Client) Connect(ctx context.Context) (SyncReport, error) {
	wsOpts := WSOptions{}
	if c.opts.AnonymousWS {
		wsOpts.UserID = c.user
	}
	ws, err := DialWS(ctx, c.opts.Server, c.opts.Token, FrameHandlers{
		OnMessage: c.onPush,
		OnAck:     func(ack model.SendAck) { c.Pending.OnAck(context.Background(), ack) },
		OnError:   c.onErrorFrame,
		OnClose: func(err error) {
			c.log.Info("ws closed", zap.Error(err))
		},
	}, wsOpts)
	if err != nil {
		return SyncReport{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.ws = ws
	c.cancel = cancel
	c.mu.Unlock()
	safe.SafeGo(func() { c.Pending.Run(runCtx) })

	rep, err := c.Offline.SyncIfNeeded(ctx)
	if err != nil {
		c.log.Warn("offline sync incomplete", zap.Int64("cursor", rep.Cursor), zap.Error(err))
	}
	return rep, err
}

func (c *Client) onPush(msg *model.Message) {
	if err := c.Reconciler.OnMessage(context.Background(), msg); err != nil {
		c.log.Warn("reconcile push failed", zap.String("stream", msg.Stream), zap.Int64("seq", msg.Seq), zap.Error(err))
	}
}

// 参数类错误不会因重发变好，直接判失败
func (c *Client) onErrorFrame(ef model.ErrorFrame) {
	c.log.Warn("server error frame", zap.String("clientSeq", ef.ClientSeq), zap.Int("code", ef.Code), zap.String("msg", ef.Msg))
	if ef.ClientSeq == "" || ef.Code != errs.ArgsError {
		return
	}
	c.Pending.Fail(ef.ClientSeq, "rejected by server: "+ef.Msg)
}

// Send 登记后发出；有 ws 走 ws 异步等 ack，否则走 HTTP 同步拿 ack
func (c *Client) Send(ctx context.Context, to string, convType int32, content string) (string, error) {
	p := PendingMessage{ClientSeq: uuid.NewString(), To: to, ConvType: convType, Content: content}
	if err := c.Pending.Track(p); err != nil {
		return "", err
	}
	if err := c.deliver(ctx, p); err != nil {
		// 首发失败也保留登记，由超时重发
		c.log.Info("first send failed, will retry", zap.String("clientSeq", p.ClientSeq), zap.Error(err))
	}
	return p.ClientSeq, nil
}

func (c *Client) resend(ctx context.Context, p PendingMessage) error {
	return c.deliver(ctx, p)
}

func (c *Client) deliver(ctx context.Context, p PendingMessage) error {
	req := p.Request(c.user)
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		select {
		case <-ws.Done():
		default:
			return ws.Send(req)
		}
	}
	ack, err := c.api.Send(ctx, req)
	if err != nil {
		return err
	}
	c.Pending.OnAck(ctx, *ack)
	return nil
}

func (c *Client) SyncGroup(ctx context.Context, gid string) (SyncReport, error) {
	return c.Offline.SyncConversation(ctx, gid)
}

func (c *Client) Close() error {
	c.Reconciler.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.ws != nil {
		return c.ws.Close()
	}
	return nil
}

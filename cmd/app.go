package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"PPSeq/global/config"
	"PPSeq/logger"
	"PPSeq/middleware"
	authmw "PPSeq/middleware/security"
	"PPSeq/module/chat/model"
	"PPSeq/module/chat/seq"
	"PPSeq/module/gateway"
	"PPSeq/module/msgsync"
	"PPSeq/service/kafka"
	"PPSeq/service/mgo"
	"PPSeq/service/nacos"
	"PPSeq/service/natsx"
	"PPSeq/service/pg"
	"PPSeq/service/rpc"
	"PPSeq/service/storage"
	rediscli "PPSeq/service/storage/redis"
	"PPSeq/tools/errs"
	"PPSeq/tools/ids"
	"PPSeq/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 幂等窗口，覆盖 JetStream 重投周期
const idemTTL = 10 * time.Minute

type sendFunc func(ctx context.Context, req model.SendRequest) (model.SendAck, error)

func (f sendFunc) Send(ctx context.Context, req model.SendRequest) (model.SendAck, error) {
	return f(ctx, req)
}

// App 一个进程内按 roles 装配的全部组件，构造顺序即依赖顺序
type App struct {
	cfg    *config.AppConfig
	loader *config.Loader
	log    *zap.Logger
	reg    *prometheus.Registry
	Engine *gin.Engine

	rdb   *redis.Client
	mongo *mgo.MongoManager
	pool  *pgxpool.Pool
	kc    *kafka.Client
	nm    *natsx.NatsManager
	idem  *natsx.MemIdem

	Seq      *seq.Service
	writer   *seq.PersistenceWriter
	Sync     *msgsync.SyncService
	Send     *msgsync.SendService
	deliver  *msgsync.Deliverer
	consumer *kafka.ConsumerGroup
	Gateway  *gateway.Server
	relay    *gateway.NatsRelay
	health   *rpc.HealthServer
	naming   *nacos.Registry

	closers []func()
}

// NewApp 失败时已构造的部分会被释放
func NewApp(ctx context.Context, loader *config.Loader) (*App, error) {
	a := &App{cfg: loader.Get(), loader: loader, log: logger.Named("app")}
	if err := a.init(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg

	if err := a.initBackends(ctx); err != nil {
		return err
	}
	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	node, err := strconv.ParseInt(cfg.NodeId, 10, 64)
	if err != nil {
		return errs.ErrArgs.WrapMsg("nodeId must be numeric", "nodeId", cfg.NodeId)
	}
	gen := ids.NewGenerator(node)

	if cfg.Has(config.RoleSeq) || cfg.Has(config.RoleSync) || cfg.Has(config.RoleGateway) {
		if err := a.initSeq(ctx); err != nil {
			return err
		}
	}
	if cfg.Has(config.RoleSync) || cfg.Has(config.RoleGateway) || cfg.Has(config.RoleDeliver) {
		if err := a.initMsg(ctx, gen); err != nil {
			return err
		}
	}
	a.initHTTP()
	a.initHealth()
	return nil
}

func (a *App) initBackends(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Redis.Enabled {
		rdb, err := rediscli.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.rdb = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}
	if cfg.Mongo.Enabled {
		m, err := mgo.Connect(ctx, mgo.ConfigFrom(cfg.Mongo))
		if err != nil {
			return err
		}
		a.mongo = m
		a.closers = append(a.closers, func() { _ = m.Close(context.Background()) })
	}
	if cfg.Postgres.Enabled {
		pool, err := pg.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
	}
	if cfg.Kafka.Enabled {
		kc, err := kafka.NewClient(cfg.Kafka)
		if err != nil {
			return err
		}
		a.kc = kc
		a.closers = append(a.closers, func() { _ = kc.Close() })
	}
	if cfg.Nats.Enabled {
		a.idem = natsx.NewMemIdem(idemTTL, nil)
		nm, err := natsx.NewNatsManager(natsx.Config{
			Servers:       cfg.Nats.Servers,
			Name:          "ppseq-" + cfg.NodeId,
			User:          cfg.Nats.User,
			Password:      cfg.Nats.Password,
			ReconnectWait: cfg.Nats.ReconnectWait,
		}, natsx.IdemMiddleware(a.idem, idemTTL))
		if err != nil {
			return err
		}
		a.nm = nm
		a.closers = append(a.closers, func() { _ = nm.Close() })
	}
	return nil
}

func (a *App) sectionStore(ctx context.Context) (seq.SectionStore, error) {
	switch a.cfg.Seq.SectionStore {
	case "pg", "postgres":
		if a.pool == nil {
			return nil, errs.ErrArgs.WrapMsg("seq.sectionStore=pg requires postgres.enabled")
		}
		st := seq.NewPgSectionStore(a.pool)
		if err := st.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return st, nil
	case "mongo":
		if a.mongo == nil {
			return nil, errs.ErrArgs.WrapMsg("seq.sectionStore=mongo requires mongo.enabled")
		}
		return seq.NewMongoSectionStore(a.mongo), nil
	case "", "memory":
		return seq.NewMemSectionStore(), nil
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown section store", "store", a.cfg.Seq.SectionStore)
	}
}

func (a *App) initSeq(ctx context.Context) error {
	c := a.cfg.Seq
	store, err := a.sectionStore(ctx)
	if err != nil {
		return err
	}
	var cache seq.SegmentCache = seq.NewMemSegmentCache()
	if a.rdb != nil {
		cache = seq.NewRedisSegmentCache(a.rdb, c.CacheTTL)
	}
	m := seq.NewMetrics(a.reg)
	w, err := seq.NewPersistenceWriter(store, seq.WriterOptions{
		PoolSize:   c.WriterPoolSize,
		MaxRetries: c.WriterRetries,
		Metrics:    m,
	})
	if err != nil {
		return err
	}
	a.writer = w
	alloc := seq.NewAllocator(seq.NewSectionRouter(c.Sections), cache, w, seq.AllocatorOptions{Step: c.Step, Metrics: m})
	a.Seq = seq.NewService(alloc, cache, store, seq.ServiceOptions{
		MaxBatchKeys:  c.MaxBatchKeys,
		MaxBatchCount: c.MaxBatchCount,
	})
	return nil
}

func (a *App) messageStore(ctx context.Context) (msgsync.MessageStore, error) {
	switch a.cfg.Sync.MessageStore {
	case "mongo":
		if a.mongo == nil {
			return nil, errs.ErrArgs.WrapMsg("sync.messageStore=mongo requires mongo.enabled")
		}
		st := msgsync.NewMongoMessageStore(a.mongo)
		if err := st.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return st, nil
	case "redis":
		if a.rdb == nil {
			return nil, errs.ErrArgs.WrapMsg("sync.messageStore=redis requires redis.enabled")
		}
		return msgsync.NewRedisMessageStore(a.rdb, a.cfg.Sync.RedisMaxLen), nil
	case "", "memory":
		return msgsync.NewMemStore(), nil
	default:
		return nil, errs.ErrArgs.WrapMsg("unknown message store", "store", a.cfg.Sync.MessageStore)
	}
}

func (a *App) initMsg(ctx context.Context, gen *ids.Generator) error {
	cfg := a.cfg
	store, err := a.messageStore(ctx)
	if err != nil {
		return err
	}
	m := msgsync.NewMetrics(a.reg)

	var members msgsync.MemberResolver = msgsync.NewStaticMembers()
	if a.rdb != nil {
		members = msgsync.NewRedisMembers(a.rdb)
	}

	// 网关与 SendService 互相依赖，网关这边晚绑定
	var push msgsync.Pusher
	if cfg.Has(config.RoleGateway) {
		opts := gateway.Options{AllowAnonymous: !cfg.Auth.Enabled, IDs: gen}
		if a.rdb != nil && a.nm != nil {
			opts.Presence = storage.NewPresence(a.rdb, cfg.Sync.PresenceTTL)
			a.relay = gateway.NewNatsRelay(a.nm)
			opts.Relay = a.relay
		}
		a.Gateway = gateway.NewServer(cfg.NodeId, sendFunc(a.sendMsg), opts)
		push = a.Gateway
	}
	a.deliver = msgsync.NewDeliverer(store, push, members, m)

	var pub msgsync.Publisher = msgsync.NewDirectPublisher(a.deliver)
	if a.kc != nil {
		pub = msgsync.NewKafkaPublisher(a.kc.Producer())
		if cfg.Has(config.RoleDeliver) {
			d := kafka.NewDispatcher(nil)
			d.RegisterAll(a.kc.Topics(), a.deliver.HandleKafka)
			if a.consumer, err = a.kc.NewConsumerGroup(cfg.Kafka.GroupID, d.Handle); err != nil {
				return err
			}
		}
	}

	syncOpts := msgsync.SyncOptions{
		DefaultLimit: cfg.Sync.DefaultLimit,
		MaxLimit:     cfg.Sync.MaxLimit,
		Members:      members,
		Metrics:      m,
	}
	if a.nm != nil {
		if err := a.nm.RegisterRoute(natsx.Route{
			Biz:     msgsync.AckBiz,
			Subject: cfg.Nats.AckSubject,
			Mode:    natsx.ParseMode(cfg.Nats.Mode),
			Queue:   cfg.Nats.AckQueue,
			Durable: cfg.Nats.Durable,
			AckWait: 30 * time.Second,
		}); err != nil {
			return err
		}
		bus := msgsync.NewNatsAckBus(a.nm, 3)
		a.Sync = msgsync.NewSyncService(store, bus, syncOpts)
		if cfg.Has(config.RoleSync) {
			if err := bus.Consume(a.nm, a.Sync.ApplyAck); err != nil {
				return err
			}
		}
	} else {
		bus := msgsync.NewDirectAckBus()
		a.Sync = msgsync.NewSyncService(store, bus, syncOpts)
		bus.Bind(a.Sync.ApplyAck)
	}

	if a.Seq != nil {
		var acks msgsync.AckCache
		if a.rdb != nil {
			acks = msgsync.NewRedisAckCache(a.rdb, cfg.Sync.SendDedupTTL)
		} else {
			acks = msgsync.NewMemAckCache(0, cfg.Sync.SendDedupTTL)
		}
		a.Send = msgsync.NewSendService(a.Seq.Allocator(), gen, pub, msgsync.SendOptions{Members: members, Acks: acks, Metrics: m})
	}
	return nil
}

func (a *App) sendMsg(ctx context.Context, req model.SendRequest) (model.SendAck, error) {
	if a.Send == nil {
		return model.SendAck{}, errs.ErrStoreUnavailable.WrapMsg("send not enabled on this node")
	}
	return a.Send.Send(ctx, req)
}

func (a *App) initHTTP() {
	cfg := a.cfg
	e := gin.New()
	mm := middleware.NewManager(
		middleware.Recovery(),
		middleware.AccessLog(),
		middleware.Origin(cfg.Server.AllowedOrigins),
	)
	e.Use(mm.Use())

	var auth gin.HandlerFunc
	if cfg.Auth.Enabled {
		opts := authmw.DefaultOptions([]byte(cfg.Auth.Secret))
		opts.JWT.TTL = cfg.Auth.TTL
		auth = authmw.Middleware(opts)
	}
	rt := middleware.NewRouter(e, auth)

	if cfg.Has(config.RoleSeq) && a.Seq != nil {
		seq.NewHandler(a.Seq).Register(rt)
	}
	if cfg.Has(config.RoleSync) && a.Sync != nil {
		msgsync.NewHandler(a.Sync, a.Send).Register(rt)
	}
	if a.Gateway != nil {
		a.Gateway.Register(rt)
	}
	e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{})))
	a.Engine = e
}

func (a *App) initHealth() {
	a.health = rpc.NewHealthServer()
	if a.Seq != nil && a.cfg.Has(config.RoleSeq) {
		a.health.Watch(rpc.ServiceSeq, func(ctx context.Context) bool {
			return a.Seq.Health(ctx).Status != seq.StatusDown
		})
	}
	if a.Sync != nil && a.cfg.Has(config.RoleSync) {
		a.health.Watch(rpc.ServiceSync, func(ctx context.Context) bool {
			ctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			return a.Sync.Store().Ping(ctx) == nil
		})
	}
	if a.Gateway != nil {
		a.health.Watch(rpc.ServiceGateway, func(context.Context) bool { return true })
	}
}

// Run 阻塞直到 ctx 结束或某个组件出错，然后按序关停
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfg
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{Addr: ":" + strconv.Itoa(cfg.Server.Port), Handler: a.Engine}
	g.Go(func() error {
		a.log.Info("http listening", zap.String("addr", srv.Addr), zap.Strings("roles", cfg.Roles))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errs.WrapMsg(err, "http serve", "addr", srv.Addr)
		}
		return nil
	})

	if cfg.Server.GrpcPort > 0 {
		lis, err := rpc.Listen(cfg.Server.GrpcPort)
		if err != nil {
			return err
		}
		g.Go(func() error { return a.health.Serve(lis) })
		g.Go(func() error {
			a.health.RunChecks(gctx, 10*time.Second)
			return nil
		})
	}

	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}
	if a.relay != nil && a.Gateway != nil {
		if err := a.relay.Serve(cfg.NodeId, a.Gateway); err != nil {
			return err
		}
	}
	if a.Gateway != nil {
		g.Go(func() error {
			a.Gateway.RunPresenceRefresher(gctx)
			return nil
		})
	}
	if a.idem != nil {
		g.Go(func() error {
			a.idem.RunJanitor(gctx, time.Minute)
			return nil
		})
	}
	if cfg.Nacos.Enabled {
		if err := a.initNacos(gctx, g); err != nil {
			return err
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown(srv)
		return nil
	})
	return g.Wait()
}

// 远端配置只热更新日志级别，其余配置需要重启
func (a *App) initNacos(ctx context.Context, g *errgroup.Group) error {
	c := a.cfg.Nacos
	src, err := nacos.NewConfigClient(c)
	if err != nil {
		return err
	}
	a.loader.OnChange(func(nc *config.AppConfig) { logger.Init(nc.Log.Level) })
	g.Go(func() error { return nacos.Watch(ctx, src, c.DataId, c.Group, a.loader) })

	nc, err := nacos.NewNamingClient(c)
	if err != nil {
		return err
	}
	ip := os.Getenv("POD_IP")
	if ip == "" {
		ip = "127.0.0.1"
	}
	a.naming = nacos.NewRegistry(nc, "ppseq", ip, uint64(a.cfg.Server.Port))
	return a.naming.Register(a.cfg.NodeId, a.cfg.Roles)
}

// shutdown 摘流量、停入口、排空消费与落盘，最后关存储
func (a *App) shutdown(srv *http.Server) {
	timeout := a.cfg.Server.ShutdownTimeout
	a.log.Info("shutting down", zap.Duration("timeout", timeout))

	a.health.Stop(time.Second)
	if a.naming != nil {
		if err := a.naming.Deregister(); err != nil {
			a.log.Warn("nacos deregister", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	if a.Gateway != nil {
		a.Gateway.Close()
	}
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.log.Warn("kafka consumer close", zap.Error(err))
		}
	}
	if a.writer != nil {
		if err := a.writer.Close(a.cfg.Seq.DrainTimeout); err != nil {
			a.log.Error("seq writer drain", zap.Error(err))
		}
		a.writer = nil
	}
	a.closeAll()
	a.log.Info("bye")
}

// closeAll 逆序释放存储与 broker 连接，可重复调用
func (a *App) closeAll() {
	if a.writer != nil {
		_ = a.writer.Close(a.cfg.Seq.DrainTimeout)
		a.writer = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		safe.Run(a.closers[i])
	}
	a.closers = nil
}

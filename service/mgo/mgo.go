package mgo

import (
	"context"
	"sync"
	"time"

	"PPSeq/data/database/mgo/mongoutil"
	"PPSeq/global/config"
	"PPSeq/logger"
	"PPSeq/tools/safe"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// MongoManager 持有连接并做健康检查；连续失败超过阈值后重连
type MongoManager struct {
	cfg *mongoutil.Config
	log *zap.Logger

	mu     sync.RWMutex
	client *mongoutil.Client
}

func ConfigFrom(c config.MongoConfig) *mongoutil.Config {
	return &mongoutil.Config{
		Uri:         c.Uri,
		Database:    c.Database,
		Username:    c.Username,
		Password:    c.Password,
		MaxPoolSize: c.MaxPoolSize,
	}
}

// Connect 首次连接（带重试），成功后启动健康检查，ctx 结束时断开
func Connect(ctx context.Context, cfg *mongoutil.Config) (*MongoManager, error) {
	cli, err := mongoutil.NewMongoDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := &MongoManager{cfg: cfg, client: cli, log: logger.Named("mongo")}
	m.log.Info("mongo connected", zap.String("database", cfg.Database))
	safe.SafeGo(func() { m.healthLoop(ctx) })
	return m, nil
}

// DB 当前连接上的库；存储层每次操作都调用它，重连后才能拿到新连接
func (m *MongoManager) DB() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client.GetDB()
}

func (m *MongoManager) Ping(ctx context.Context) error {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	return c.Ping(ctx)
}

func (m *MongoManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client.Close(ctx)
}

func (m *MongoManager) healthLoop(ctx context.Context) {
	t := time.NewTicker(healthEvery)
	defer t.Stop()
	fail := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := m.Ping(pctx)
		cancel()
		if err == nil {
			fail = 0
			continue
		}
		fail++
		m.log.Warn("mongo ping failed", zap.Int("fail", fail), zap.Error(err))
		if fail < failThresh {
			continue
		}
		cli, err := mongoutil.NewMongoDB(ctx, m.cfg)
		if err != nil {
			m.log.Error("mongo reconnect failed", zap.Error(err))
			continue
		}
		m.mu.Lock()
		old := m.client
		m.client = cli
		m.mu.Unlock()
		_ = old.Close(context.Background())
		fail = 0
		m.log.Info("mongo reconnected")
	}
}

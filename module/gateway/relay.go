package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"PPSeq/logger"
	"PPSeq/module/chat/model"
	"PPSeq/service/natsx"
	"PPSeq/tools/errs"

	"go.uber.org/zap"
)

// 节点推送 subject：im.push.<node>
func relayBiz(node string) string     { return "push." + node }
func relaySubject(node string) string { return "im.push." + node }

// Bus *natsx.NatsManager 实现
type Bus interface {
	RegisterRoute(r natsx.Route) error
	Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error
	Subscribe(biz string, h natsx.Handler) error
}

// NatsRelay 跨节点推送走 NATS core：在线推送丢了也能靠拉取补上，不需要持久化
type NatsRelay struct {
	bus Bus
	log *zap.Logger

	mu     sync.Mutex
	routes map[string]struct{} // 已注册路由的节点
}

func NewNatsRelay(bus Bus) *NatsRelay {
	return &NatsRelay{bus: bus, routes: make(map[string]struct{}), log: logger.Named("gateway.relay")}
}

func (r *NatsRelay) ensureRoute(node string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[node]; ok {
		return nil
	}
	if err := r.bus.RegisterRoute(natsx.Route{
		Biz:     relayBiz(node),
		Subject: relaySubject(node),
		Mode:    natsx.Core,
	}); err != nil {
		return err
	}
	r.routes[node] = struct{}{}
	return nil
}

func (r *NatsRelay) Relay(ctx context.Context, node, userID string, msg *model.Message) error {
	if err := r.ensureRoute(node); err != nil {
		return err
	}
	b, err := json.Marshal(model.PushEnvelope{UserID: userID, Message: msg})
	if err != nil {
		return errs.WrapMsg(err, "marshal push envelope", "user", userID)
	}
	return r.bus.Publish(ctx, relayBiz(node), b, nil)
}

// Serve 订阅本节点 subject，收到的推送只投本地连接
func (r *NatsRelay) Serve(nodeID string, s *Server) error {
	if err := r.ensureRoute(nodeID); err != nil {
		return err
	}
	return r.bus.Subscribe(relayBiz(nodeID), func(_ context.Context, m natsx.Message) error {
		var env model.PushEnvelope
		if err := json.Unmarshal(m.Data, &env); err != nil || env.Message == nil {
			r.log.Warn("bad push envelope", zap.String("subject", m.Subject), zap.Error(err))
			return nil
		}
		if !s.PushLocal(env.UserID, env.Message) {
			r.log.Debug("relayed user no longer here", zap.String("user", env.UserID))
		}
		return nil
	})
}

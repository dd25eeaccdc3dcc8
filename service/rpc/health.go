package rpc

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"PPSeq/logger"
	"PPSeq/tools/errs"
	"PPSeq/tools/safe"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// 各角色在 grpc health 里的服务名
const (
	ServiceSeq     = "ppseq.Sequence"
	ServiceSync    = "ppseq.Sync"
	ServiceGateway = "ppseq.Gateway"
)

// Liveness 返回 true 表示可服务
type Liveness func(ctx context.Context) bool

// HealthServer 只挂 grpc health，给 k8s / 负载均衡探活
type HealthServer struct {
	gs  *grpc.Server
	hs  *health.Server
	log *zap.Logger

	mu     sync.Mutex
	checks map[string]Liveness
}

func NewHealthServer() *HealthServer {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthServer{gs: gs, hs: hs, checks: make(map[string]Liveness), log: logger.Named("rpc.health")}
}

// Watch 注册服务探针，RunChecks 周期调用并更新状态；注册时先置 SERVING
func (s *HealthServer) Watch(service string, p Liveness) {
	s.mu.Lock()
	s.checks[service] = p
	s.mu.Unlock()
	s.hs.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
}

// Refresh 立即探测一次全部服务，"" 的状态取所有服务的与
func (s *HealthServer) Refresh(ctx context.Context) {
	s.mu.Lock()
	checks := make(map[string]Liveness, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.Unlock()

	all := healthpb.HealthCheckResponse_SERVING
	for name, p := range checks {
		st := healthpb.HealthCheckResponse_SERVING
		if !p(ctx) {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			all = st
			s.log.Warn("service not serving", zap.String("service", name))
		}
		s.hs.SetServingStatus(name, st)
	}
	s.hs.SetServingStatus("", all)
}

// RunChecks 阻塞到 ctx 结束
func (s *HealthServer) RunChecks(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}
	s.Refresh(ctx)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

// Serve 监听 addr 并阻塞，Stop 后返回 nil
func (s *HealthServer) Serve(lis net.Listener) error {
	s.log.Info("grpc health listening", zap.String("addr", lis.Addr().String()))
	if err := s.gs.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return errs.WrapMsg(err, "grpc serve")
	}
	return nil
}

func Listen(port int) (net.Listener, error) {
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, errs.WrapMsg(err, "grpc listen", "port", port)
	}
	return lis, nil
}

// Stop 先全部置 NOT_SERVING，让上游摘流量，再优雅退出
func (s *HealthServer) Stop(timeout time.Duration) {
	s.hs.Shutdown()
	done := make(chan struct{})
	safe.SafeGo(func() {
		s.gs.GracefulStop()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(timeout):
		s.gs.Stop()
	}
}

// Check 客户端探活：连接 target 查询 service 状态
func Check(ctx context.Context, target, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errs.WrapMsg(err, "grpc dial", "target", target)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errs.WrapMsg(err, "grpc health check", "target", target, "service", service)
	}
	return resp.GetStatus(), nil
}

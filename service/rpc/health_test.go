package rpc

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServer_RefreshAndCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewHealthServer()
	var up atomic.Bool
	up.Store(true)
	s.Watch(ServiceSeq, func(context.Context) bool { return up.Load() })
	s.Watch(ServiceSync, func(context.Context) bool { return true })

	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()
	defer func() {
		s.Stop(time.Second)
		require.NoError(t, <-done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	target := lis.Addr().String()

	s.Refresh(ctx)
	st, err := Check(ctx, target, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	// 发号后端挂掉：该服务与整体都 NOT_SERVING，其他服务不受影响
	up.Store(false)
	s.Refresh(ctx)
	st, err = Check(ctx, target, ServiceSeq)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
	st, err = Check(ctx, target, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)
	st, err = Check(ctx, target, ServiceSync)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = Check(ctx, target, "unknown.Service")
	assert.Error(t, err)
}

package rpc

import (
	"context"
	"log/slog"
	"net"

	"nutflow/pkg/server"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Config struct {
	Addr   string
	Logger *slog.Logger
}

// NewServer 创建 gRPC Server，注册工作流服务和健康检查
// 返回的 health.Server 用于在关闭前把状态切换为 NOT_SERVING
func NewServer(runner server.Runner, log *slog.Logger) (*grpc.Server, *health.Server) {
	if log == nil {
		log = slog.Default()
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		UnaryLogging(log),
		UnaryRecovery(log),
	))
	RegisterWorkflowsServer(srv, NewWorkflowService(runner))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// Serve 在 ctx 取消前一直提供服务，取消后 GracefulStop
// ready 非空时，监听成功后会收到实际地址
func Serve(ctx context.Context, cfg Config, runner server.Runner, ready chan<- net.Addr) error {
	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, lis, cfg.Logger, runner, ready)
}

// ServeListener 和 Serve 一样，但使用调用方提供的 Listener (测试里是 bufconn)
func ServeListener(ctx context.Context, lis net.Listener, log *slog.Logger, runner server.Runner, ready chan<- net.Addr) error {
	srv, hs := NewServer(runner, log)
	if ready != nil {
		ready <- lis.Addr()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	hs.Shutdown()
	srv.GracefulStop()
	return <-errCh
}

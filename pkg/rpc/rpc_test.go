package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"nutflow/pkg/errs"
	"nutflow/pkg/heap"
	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"
	"nutflow/pkg/provider/memory"
	"nutflow/pkg/server"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrchestrator(t *testing.T) *pipeline.Orchestrator {
	t.Helper()
	p := memory.New()
	p.Put("a.css", []byte("a{}"))
	p.Put("b.css", []byte("b{}"))
	p.Put("logo.png", []byte{0x89, 'P', 'N', 'G'})

	ctx := context.Background()
	styles, err := heap.New(ctx, heap.Config{ID: "styles", Provider: p, Paths: []string{"*.css"}})
	require.NoError(t, err)
	mixed, err := heap.New(ctx, heap.Config{ID: "mixed", Provider: p, Paths: []string{"*.css", "*.png"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = styles.Close(); _ = mixed.Close() })

	o, err := pipeline.New(pipeline.Config{
		Heaps: []*heap.Heap{styles, mixed},
		Workflows: []pipeline.WorkflowSpec{
			{ID: "css", HeapID: "styles", OutputName: "site.css", ProxyURI: "/static/site.css"},
			{ID: "broken", HeapID: "mixed", Stages: []string{pipeline.StageAggregate}},
		},
		CacheEnabled: true,
		Logger:       quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

// startServer 在内存连接上启动服务，返回客户端和停止函数
func startServer(t *testing.T, runner server.Runner, log *slog.Logger) (*Client, func() error) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeListener(ctx, lis, log, runner, nil)
	}()

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		_ = c.Close()
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			return fmt.Errorf("server did not stop")
		}
	}
	t.Cleanup(func() { _ = stop() })
	return c, stop
}

func TestRunWorkflow(t *testing.T) {
	c, _ := startServer(t, newOrchestrator(t), quietLogger())
	ctx := context.Background()

	ids, err := c.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"broken", "css"}, ids)

	resp, err := c.RunWorkflow(ctx, &RunRequest{Workflow: "css"})
	require.NoError(t, err)
	require.Len(t, resp.Artifacts, 1)
	a := resp.Artifacts[0]
	assert.Equal(t, "site.css", a.Name)
	assert.Equal(t, "css", a.Type)
	assert.Equal(t, "/static/site.css", a.ProxyURI)
	assert.NotEmpty(t, a.Version)
	assert.Empty(t, a.ContentEncoding)
	assert.Equal(t, "a{}b{}", string(a.Data))

	// 按名称取子 Nut
	resp, err = c.RunWorkflow(ctx, &RunRequest{Workflow: "css", Name: "b.css"})
	require.NoError(t, err)
	assert.Equal(t, "b{}", string(resp.Artifacts[0].Data))
}

func TestRunWorkflow_Compressed(t *testing.T) {
	c, _ := startServer(t, newOrchestrator(t), quietLogger())

	resp, err := c.RunWorkflow(context.Background(), &RunRequest{Workflow: "css", Compress: true})
	require.NoError(t, err)
	a := resp.Artifacts[0]
	assert.Equal(t, "gzip", a.ContentEncoding)

	zr, err := gzip.NewReader(bytes.NewReader(a.Data))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "a{}b{}", string(plain))
}

func TestRunWorkflow_StatusCodes(t *testing.T) {
	c, _ := startServer(t, newOrchestrator(t), quietLogger())

	tests := []struct {
		req  *RunRequest
		code codes.Code
	}{
		{&RunRequest{}, codes.InvalidArgument},
		{&RunRequest{Workflow: "nope"}, codes.NotFound},
		{&RunRequest{Workflow: "css", Name: "missing.css"}, codes.NotFound},
		{&RunRequest{Workflow: "broken"}, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.req.Workflow+"/"+tt.req.Name, func(t *testing.T) {
			_, err := c.RunWorkflow(context.Background(), tt.req)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

type panicRunner struct{}

func (panicRunner) RunWorkflow(context.Context, string, string, ...pipeline.RunOption) ([]nut.Nut, error) {
	panic("boom")
}
func (panicRunner) WorkflowIDs() []string { return []string{"x"} }

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	c, _ := startServer(t, panicRunner{}, slog.New(slog.NewTextHandler(&logs, nil)))

	_, err := c.RunWorkflow(context.Background(), &RunRequest{Workflow: "x"})
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, logs.String(), "PANIC RECOVERED")
	assert.Contains(t, logs.String(), "code=Internal")
}

func TestHealthAndGracefulStop(t *testing.T) {
	c, stop := startServer(t, panicRunner{}, quietLogger())
	ctx := context.Background()

	st, err := c.Health(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
	st, err = c.Health(ctx, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	assert.NoError(t, stop())
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{errs.WorkflowNotFound("w"), codes.NotFound},
		{errs.Unsupported("save", "a"), codes.Unimplemented},
		{errs.Transport("open", "a", fmt.Errorf("connection reset")), codes.Unavailable},
		{errs.Timeout("open", "a", context.DeadlineExceeded), codes.DeadlineExceeded},
		{errs.Transport("open", "a", context.Canceled), codes.Canceled},
		{errs.Configuration("w", fmt.Errorf("bad")), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}

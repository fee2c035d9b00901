package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client 是工作流服务的客户端
type Client struct {
	conn *grpc.ClientConn
}

// Dial 连接到 target，默认明文传输并选择 CBOR 编解码器
// opts 追加在默认选项之后，可以覆盖它们
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	conn, err := grpc.NewClient(target, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) RunWorkflow(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	out := new(RunResponse)
	if err := c.conn.Invoke(ctx, methodRunWorkflow, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListWorkflows(ctx context.Context) ([]string, error) {
	out := new(ListResponse)
	if err := c.conn.Invoke(ctx, methodListWorkflows, &ListRequest{}, out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

// Health 查询服务端的健康状态；service 为空表示整个服务器
// 健康检查走 protobuf，不受默认的 CBOR 编解码器影响
func (c *Client) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx,
		&healthpb.HealthCheckRequest{Service: service},
		grpc.CallContentSubtype("proto"))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

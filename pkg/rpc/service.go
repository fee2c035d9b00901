package rpc

import (
	"context"
	"errors"

	"nutflow/pkg/errs"
	"nutflow/pkg/nut"
	"nutflow/pkg/pipeline"
	"nutflow/pkg/server"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "nutflow.v1.Workflows"

const (
	methodRunWorkflow   = "/" + ServiceName + "/RunWorkflow"
	methodListWorkflows = "/" + ServiceName + "/ListWorkflows"
)

type RunRequest struct {
	Workflow string `cbor:"1,keyasint"`
	Name     string `cbor:"2,keyasint,omitempty"`
	Compress bool   `cbor:"3,keyasint,omitempty"`
}

// Artifact 是一个物化后的输出
type Artifact struct {
	Name            string `cbor:"1,keyasint"`
	Type            string `cbor:"2,keyasint"`
	Version         string `cbor:"3,keyasint,omitempty"`
	ContentEncoding string `cbor:"4,keyasint,omitempty"`
	ProxyURI        string `cbor:"5,keyasint,omitempty"`
	Data            []byte `cbor:"6,keyasint"`
}

type RunResponse struct {
	Artifacts []Artifact `cbor:"1,keyasint"`
}

type ListRequest struct{}

type ListResponse struct {
	Workflows []string `cbor:"1,keyasint"`
}

// WorkflowsServer 是服务端接口
type WorkflowsServer interface {
	RunWorkflow(context.Context, *RunRequest) (*RunResponse, error)
	ListWorkflows(context.Context, *ListRequest) (*ListResponse, error)
}

// 手写的 ServiceDesc，相当于 protoc 生成的 _grpc.pb.go
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkflowsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunWorkflow", Handler: runWorkflowHandler},
		{MethodName: "ListWorkflows", Handler: listWorkflowsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nutflow/v1/workflows",
}

// RegisterWorkflowsServer 把实现注册到 gRPC Server
func RegisterWorkflowsServer(s grpc.ServiceRegistrar, srv WorkflowsServer) {
	s.RegisterService(&serviceDesc, srv)
}

func runWorkflowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowsServer).RunWorkflow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRunWorkflow}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkflowsServer).RunWorkflow(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listWorkflowsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkflowsServer).ListWorkflows(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListWorkflows}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkflowsServer).ListWorkflows(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// WorkflowService 把 Runner 适配成 gRPC 服务
type WorkflowService struct {
	runner server.Runner
}

func NewWorkflowService(runner server.Runner) *WorkflowService {
	return &WorkflowService{runner: runner}
}

func (s *WorkflowService) ListWorkflows(context.Context, *ListRequest) (*ListResponse, error) {
	return &ListResponse{Workflows: s.runner.WorkflowIDs()}, nil
}

func (s *WorkflowService) RunWorkflow(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	if req.Workflow == "" {
		return nil, status.Error(codes.InvalidArgument, "workflow is required")
	}
	out, err := s.runner.RunWorkflow(ctx, req.Workflow, req.Name, pipeline.WithCompression(req.Compress))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &RunResponse{Artifacts: make([]Artifact, 0, len(out))}
	for _, n := range out {
		b, err := nut.Materialize(ctx, n)
		if err != nil {
			return nil, toStatus(err)
		}
		v, _ := b.Version(ctx)
		resp.Artifacts = append(resp.Artifacts, Artifact{
			Name:            b.Name(),
			Type:            b.Type().Name,
			Version:         v.String(),
			ContentEncoding: b.ContentEncoding(),
			ProxyURI:        b.ProxyURI(),
			Data:            b.Data(),
		})
	}
	return resp, nil
}

// toStatus 把错误类别映射为 gRPC 状态码
func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded) && errs.KindOf(err) == errs.KindUnknown:
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	switch errs.KindOf(err) {
	case errs.KindWorkflowNotFound, errs.KindArtifactNotFound, errs.KindNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errs.KindUnsupported:
		return status.Error(codes.Unimplemented, err.Error())
	case errs.KindIncompatibleTypes:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errs.KindTransport, errs.KindLookup:
		if errs.IsTimeout(err) {
			return status.Error(codes.DeadlineExceeded, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

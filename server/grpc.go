package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// machineServer is the handler type of the gRPC service description.
type machineServer interface {
	Submit(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Check(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	History(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
}

// grpcMachineService adapts MachineService to plain gRPC.
type grpcMachineService struct {
	svc *MachineService
}

func (g *grpcMachineService) Submit(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	resp, err := g.svc.submit(ctx, in.GetValue())
	return resp, grpcError(err)
}

func (g *grpcMachineService) Check(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	resp, err := g.svc.check(in.GetValue())
	return resp, grpcError(err)
}

func (g *grpcMachineService) History(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	resp, err := g.svc.recent(ctx, in.GetValue())
	return resp, grpcError(err)
}

// grpcError converts a Connect error to a gRPC status. The two share code
// numbering.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return status.Error(codes.Unknown, err.Error())
}

func machineSubmitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(machineServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(machineServer).Submit(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func machineCheckHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(machineServer).Check(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CheckProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(machineServer).Check(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func machineHistoryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(machineServer).History(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HistoryProcedure}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(machineServer).History(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

// machineServiceDesc describes the MachineService for grpc.Server. Request
// and response messages are protobuf well-known types.
var machineServiceDesc = grpc.ServiceDesc{
	ServiceName: MachineServiceName,
	HandlerType: (*machineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: machineSubmitHandler},
		{MethodName: "Check", Handler: machineCheckHandler},
		{MethodName: "History", Handler: machineHistoryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stackvm/v1/machine.proto",
}

// RegisterGRPC registers the machine service on a gRPC server.
func RegisterGRPC(gs *grpc.Server, svc *MachineService) {
	gs.RegisterService(&machineServiceDesc, &grpcMachineService{svc: svc})
}

// GRPCClient calls the machine service over a gRPC connection.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCClient creates a client on an established connection.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// Submit runs a program remotely.
func (c *GRPCClient) Submit(ctx context.Context, source string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitProcedure, wrapperspb.String(source), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Check assembles a program remotely.
func (c *GRPCClient) Check(ctx context.Context, source string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CheckProcedure, wrapperspb.String(source), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// History lists recent submissions remotely.
func (c *GRPCClient) History(ctx context.Context, limit int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HistoryProcedure, wrapperspb.Int64(limit), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ABOUTME: gotag.v1.Bailiff service descriptor and server adapter over contract.Host.
// ABOUTME: Messages are protobuf well-known types; errors map to status codes.

package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/gotag/internal/contract"
)

// BailiffServiceName is the fully-qualified gRPC service name.
const BailiffServiceName = "gotag.v1.Bailiff"

const (
	opPing            = "Ping"
	opGetProperty     = "GetProperty"
	opMigrate         = "Migrate"
	opListResidentIds = "ListResidentIds"
	opIsTagged        = "IsTagged"
	opAttemptTag      = "AttemptTag"
)

// BailiffServer is the server API for gotag.v1.Bailiff.
type BailiffServer interface {
	Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	GetProperty(context.Context, *wrapperspb.StringValue) (*structpb.Value, error)
	Migrate(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListResidentIds(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	IsTagged(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	AttemptTag(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
}

// RegisterBailiff exposes host on s.
func RegisterBailiff(s grpc.ServiceRegistrar, host contract.Host) {
	s.RegisterService(&BailiffServiceDesc, &bailiffServer{host: host})
}

// bailiffServer adapts a contract.Host to BailiffServer.
type bailiffServer struct {
	host contract.Host
}

func (s *bailiffServer) Ping(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	msg, err := s.host.Ping(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(msg), nil
}

func (s *bailiffServer) GetProperty(ctx context.Context, key *wrapperspb.StringValue) (*structpb.Value, error) {
	v, ok, err := s.host.GetProperty(ctx, key.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return structpb.NewNullValue(), nil
	}
	return structpb.NewStringValue(v), nil
}

func (s *bailiffServer) Migrate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.host.Migrate(ctx, decodeTransfer(in)); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *bailiffServer) ListResidentIds(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	ids, err := s.host.ListResidentIds(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeIDs(ids), nil
}

func (s *bailiffServer) IsTagged(ctx context.Context, id *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	tagged, err := s.host.IsTagged(ctx, id.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(tagged), nil
}

func (s *bailiffServer) AttemptTag(ctx context.Context, id *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	ok, err := s.host.AttemptTag(ctx, id.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(ok), nil
}

func bailiffMethod(op string) string {
	return "/" + BailiffServiceName + "/" + op
}

// unaryHandler builds a grpc.MethodDesc handler from a typed call.
func unaryHandler[Req any, Resp any](fullMethod string, call func(srv any, ctx context.Context, in *Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BailiffServiceDesc is the grpc.ServiceDesc for gotag.v1.Bailiff.
var BailiffServiceDesc = grpc.ServiceDesc{
	ServiceName: BailiffServiceName,
	HandlerType: (*BailiffServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: opPing,
			Handler: unaryHandler(bailiffMethod(opPing), func(srv any, ctx context.Context, in *emptypb.Empty) (*wrapperspb.StringValue, error) {
				return srv.(BailiffServer).Ping(ctx, in)
			}),
		},
		{
			MethodName: opGetProperty,
			Handler: unaryHandler(bailiffMethod(opGetProperty), func(srv any, ctx context.Context, in *wrapperspb.StringValue) (*structpb.Value, error) {
				return srv.(BailiffServer).GetProperty(ctx, in)
			}),
		},
		{
			MethodName: opMigrate,
			Handler: unaryHandler(bailiffMethod(opMigrate), func(srv any, ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
				return srv.(BailiffServer).Migrate(ctx, in)
			}),
		},
		{
			MethodName: opListResidentIds,
			Handler: unaryHandler(bailiffMethod(opListResidentIds), func(srv any, ctx context.Context, in *emptypb.Empty) (*structpb.ListValue, error) {
				return srv.(BailiffServer).ListResidentIds(ctx, in)
			}),
		},
		{
			MethodName: opIsTagged,
			Handler: unaryHandler(bailiffMethod(opIsTagged), func(srv any, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
				return srv.(BailiffServer).IsTagged(ctx, in)
			}),
		},
		{
			MethodName: opAttemptTag,
			Handler: unaryHandler(bailiffMethod(opAttemptTag), func(srv any, ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
				return srv.(BailiffServer).AttemptTag(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gotag/v1/bailiff.proto",
}

// ABOUTME: gotag.v1.Lookup service descriptor, server adapter and client.
// ABOUTME: Wraps any contract.Lookup, normally the discovery registry.

package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/gotag/internal/contract"
)

// LookupServiceName is the fully-qualified gRPC service name.
const LookupServiceName = "gotag.v1.Lookup"

const (
	opRegister = "Register"
	opCancel   = "Cancel"
	opQuery    = "Query"
)

// LookupServer is the server API for gotag.v1.Lookup.
type LookupServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Query(context.Context, *structpb.Struct) (*structpb.ListValue, error)
}

// RegisterLookup exposes lookup on s.
func RegisterLookup(s grpc.ServiceRegistrar, lookup contract.Lookup) {
	s.RegisterService(&LookupServiceDesc, &lookupServer{lookup: lookup})
}

type lookupServer struct {
	lookup contract.Lookup
}

func (s *lookupServer) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	reg := decodeRegistration(in)
	if reg.HostID == "" || reg.Addr == "" {
		return nil, status.Error(codes.InvalidArgument, "host_id and addr are required")
	}
	expires, err := s.lookup.Register(ctx, reg)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"expires_at": expires.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding lease: %v", err)
	}
	return out, nil
}

func (s *lookupServer) Cancel(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.lookup.Cancel(ctx, in.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *lookupServer) Query(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	filter, max := decodeQuery(in)
	eps, err := s.lookup.Query(ctx, filter, max)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := encodeEndpoints(eps)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

func lookupMethod(op string) string {
	return "/" + LookupServiceName + "/" + op
}

// LookupServiceDesc is the grpc.ServiceDesc for gotag.v1.Lookup.
var LookupServiceDesc = grpc.ServiceDesc{
	ServiceName: LookupServiceName,
	HandlerType: (*LookupServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: opRegister,
			Handler: unaryHandler(lookupMethod(opRegister), func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return srv.(LookupServer).Register(ctx, in)
			}),
		},
		{
			MethodName: opCancel,
			Handler: unaryHandler(lookupMethod(opCancel), func(srv any, ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
				return srv.(LookupServer).Cancel(ctx, in)
			}),
		},
		{
			MethodName: opQuery,
			Handler: unaryHandler(lookupMethod(opQuery), func(srv any, ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
				return srv.(LookupServer).Query(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gotag/v1/lookup.proto",
}

// LookupClient implements contract.Lookup against a remote lookup service.
type LookupClient struct {
	cc grpc.ClientConnInterface
}

var _ contract.Lookup = (*LookupClient)(nil)

// NewLookupClient wraps cc.
func NewLookupClient(cc grpc.ClientConnInterface) *LookupClient {
	return &LookupClient{cc: cc}
}

func (c *LookupClient) Register(ctx context.Context, reg contract.Registration) (time.Time, error) {
	in, err := encodeRegistration(reg)
	if err != nil {
		return time.Time{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, lookupMethod(opRegister), in, out); err != nil {
		return time.Time{}, &contract.RemoteError{HostID: "lookup", Op: opRegister, Err: err}
	}
	expires, err := time.Parse(time.RFC3339Nano, out.GetFields()["expires_at"].GetStringValue())
	if err != nil {
		return time.Time{}, &contract.RemoteError{HostID: "lookup", Op: opRegister, Err: err}
	}
	return expires, nil
}

func (c *LookupClient) Cancel(ctx context.Context, hostID string) error {
	if err := c.cc.Invoke(ctx, lookupMethod(opCancel), wrapperspb.String(hostID), new(emptypb.Empty)); err != nil {
		return &contract.RemoteError{HostID: "lookup", Op: opCancel, Err: err}
	}
	return nil
}

func (c *LookupClient) Query(ctx context.Context, filter contract.Filter, maxResults int) ([]contract.Endpoint, error) {
	in, err := encodeQuery(filter, maxResults)
	if err != nil {
		return nil, err
	}
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, lookupMethod(opQuery), in, out); err != nil {
		return nil, &contract.RemoteError{HostID: "lookup", Op: opQuery, Err: err}
	}
	return decodeEndpoints(out), nil
}

// ABOUTME: HostClient implements contract.Host over a gRPC connection to a bailiff.
// ABOUTME: Status codes are translated back into the contract error taxonomy.

package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/2389/gotag/internal/contract"
)

// HostClient is a remote handle on a bailiff.
type HostClient struct {
	id   string
	addr string
	cc   grpc.ClientConnInterface
}

var _ contract.Host = (*HostClient)(nil)

// NewHostClient wraps cc as the host identified by id.
func NewHostClient(id, addr string, cc grpc.ClientConnInterface) *HostClient {
	return &HostClient{id: id, addr: addr, cc: cc}
}

// ID returns the registered host id.
func (c *HostClient) ID() string {
	return c.id
}

// Addr returns the address the handle dials.
func (c *HostClient) Addr() string {
	return c.addr
}

func (c *HostClient) Ping(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, bailiffMethod(opPing), &emptypb.Empty{}, out); err != nil {
		return "", fromStatus(c.id, opPing, "", err)
	}
	return out.GetValue(), nil
}

func (c *HostClient) GetProperty(ctx context.Context, key string) (string, bool, error) {
	out := new(structpb.Value)
	if err := c.cc.Invoke(ctx, bailiffMethod(opGetProperty), wrapperspb.String(key), out); err != nil {
		return "", false, fromStatus(c.id, opGetProperty, "", err)
	}
	if _, isNull := out.GetKind().(*structpb.Value_NullValue); isNull || out.GetKind() == nil {
		return "", false, nil
	}
	return out.GetStringValue(), true, nil
}

func (c *HostClient) Migrate(ctx context.Context, t contract.Transfer) error {
	in, err := encodeTransfer(t)
	if err != nil {
		return err
	}
	if err := c.cc.Invoke(ctx, bailiffMethod(opMigrate), in, new(emptypb.Empty)); err != nil {
		return fromStatus(c.id, opMigrate, "", err)
	}
	return nil
}

func (c *HostClient) ListResidentIds(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, bailiffMethod(opListResidentIds), &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus(c.id, opListResidentIds, "", err)
	}
	return decodeIDs(out), nil
}

func (c *HostClient) IsTagged(ctx context.Context, id string) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, bailiffMethod(opIsTagged), wrapperspb.String(id), out); err != nil {
		return false, fromStatus(c.id, opIsTagged, id, err)
	}
	return out.GetValue(), nil
}

func (c *HostClient) AttemptTag(ctx context.Context, id string) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, bailiffMethod(opAttemptTag), wrapperspb.String(id), out); err != nil {
		return false, fromStatus(c.id, opAttemptTag, id, err)
	}
	return out.GetValue(), nil
}

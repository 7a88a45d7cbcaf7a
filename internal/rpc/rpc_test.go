// ABOUTME: Tests for the Bailiff and Lookup services over an in-memory gRPC transport.
// ABOUTME: Checks service descriptors, round trips and error translation in both directions.

package rpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/gotag/internal/agent"
	"github.com/2389/gotag/internal/bailiff"
	"github.com/2389/gotag/internal/contract"
)

// startServer serves register on an in-memory listener and returns a client
// connection to it.
func startServer(t *testing.T, register func(*grpc.Server), opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(opts...)
	register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func newRemoteBailiff(t *testing.T, opts ...grpc.ServerOption) (*bailiff.Service, *HostClient) {
	t.Helper()
	svc := bailiff.New(bailiff.Config{
		ID:         "b1",
		Name:       "north",
		Properties: map[string]string{"Zone": "a"},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(svc.Close)

	cc := startServer(t, func(s *grpc.Server) { RegisterBailiff(s, svc) }, opts...)
	return svc, NewHostClient(svc.ID(), "bufnet", cc)
}

func TestServiceDescriptors(t *testing.T) {
	bailiffMethods := make([]string, 0, len(BailiffServiceDesc.Methods))
	for _, m := range BailiffServiceDesc.Methods {
		bailiffMethods = append(bailiffMethods, m.MethodName)
	}
	assert.Equal(t, "gotag.v1.Bailiff", BailiffServiceDesc.ServiceName)
	assert.Equal(t, []string{"Ping", "GetProperty", "Migrate", "ListResidentIds", "IsTagged", "AttemptTag"}, bailiffMethods)
	assert.Empty(t, BailiffServiceDesc.Streams)

	lookupMethods := make([]string, 0, len(LookupServiceDesc.Methods))
	for _, m := range LookupServiceDesc.Methods {
		lookupMethods = append(lookupMethods, m.MethodName)
	}
	assert.Equal(t, "gotag.v1.Lookup", LookupServiceDesc.ServiceName)
	assert.Equal(t, []string{"Register", "Cancel", "Query"}, lookupMethods)

	assert.Equal(t, "/gotag.v1.Bailiff/AttemptTag", bailiffMethod(opAttemptTag))
	assert.Equal(t, "/gotag.v1.Lookup/Query", lookupMethod(opQuery))
	assert.Equal(t, contract.BailiffCapability, BailiffServiceName)
}

func TestHostClientRoundTrip(t *testing.T) {
	svc, host := newRemoteBailiff(t)
	ctx := context.Background()

	assert.Equal(t, "b1", host.ID())
	assert.Equal(t, "bufnet", host.Addr())

	msg, err := host.Ping(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg, "north")

	v, ok, err := host.GetProperty(ctx, "ZONE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok, err = host.GetProperty(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, host.Migrate(ctx, contract.NewResumeTransfer("t1", "u1", false, "discovering")))
	ids, err := host.ListResidentIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	tagged, err := host.IsTagged(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, tagged)

	ok, err = host.AttemptTag(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = host.AttemptTag(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "only one tagger wins")

	tagged, err = host.IsTagged(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, tagged)

	snaps := svc.Residents()
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Tagged)
}

func TestTransferArgsKeepBoolKind(t *testing.T) {
	svc, host := newRemoteBailiff(t)
	var got contract.Resume
	svc.SetLauncher(bailiff.LauncherFunc(func(_ *agent.Unit, r contract.Resume) { got = r }))

	require.NoError(t, host.Migrate(context.Background(), contract.NewResumeTransfer("t1", "u1", true, "")))
	assert.Equal(t, contract.Resume{Entry: contract.EntryResume, Tagged: true}, got)
}

func TestUnknownAgentOverWire(t *testing.T) {
	_, host := newRemoteBailiff(t)
	ctx := context.Background()

	_, err := host.IsTagged(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, contract.IsUnknownAgent(err))

	var unknown *contract.UnknownAgentError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.ID)

	_, err = host.AttemptTag(ctx, "ghost")
	assert.True(t, contract.IsUnknownAgent(err))
	assert.False(t, errors.Is(err, contract.ErrRemoteFailure))
}

func TestMigrateErrorsOverWire(t *testing.T) {
	_, host := newRemoteBailiff(t)
	ctx := context.Background()

	err := host.Migrate(ctx, contract.Transfer{TransferID: "t1", UnitID: "u1", EntryPoint: "teleport"})
	assert.ErrorIs(t, err, contract.ErrNoSuchEntryPoint)

	err = host.Migrate(ctx, contract.Transfer{TransferID: "t2", UnitID: "u1", EntryPoint: "resume", Args: []any{"yes"}})
	assert.ErrorIs(t, err, contract.ErrNoSuchEntryPoint)

	err = host.Migrate(ctx, contract.NewResumeTransfer("t3", "", false, ""))
	require.Error(t, err)
	var remote *contract.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, codes.InvalidArgument, status.Code(remote.Err))
	assert.Equal(t, opMigrate, remote.Op)

	ids, _ := host.ListResidentIds(ctx)
	assert.Empty(t, ids)
}

func TestUnreachableHostIsRemoteFailure(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	host, err := pool.Host("gone", "127.0.0.1:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = host.Ping(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrRemoteFailure)
	assert.False(t, contract.IsUnknownAgent(err))
}

func TestPoolSharesConnections(t *testing.T) {
	pool := NewPool()
	defer pool.Close()

	a, err := pool.Get("127.0.0.1:7001")
	require.NoError(t, err)
	b, err := pool.Get("127.0.0.1:7001")
	require.NoError(t, err)
	assert.Same(t, a, b)

	pool.Drop("127.0.0.1:7001")
	c, err := pool.Get("127.0.0.1:7001")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"unknown agent", &contract.UnknownAgentError{ID: "x"}, codes.NotFound},
		{"no entry point", contract.ErrNoSuchEntryPoint, codes.Unimplemented},
		{"invalid transfer", contract.ErrInvalidTransfer, codes.InvalidArgument},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"other", errors.New("boom"), codes.Internal},
		{"already a status", status.Error(codes.Aborted, "x"), codes.Aborted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(toStatus(tt.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}

func TestFromStatus(t *testing.T) {
	notFound := status.Error(codes.NotFound, "missing")

	err := fromStatus("h1", opIsTagged, "u1", notFound)
	assert.True(t, contract.IsUnknownAgent(err))

	err = fromStatus("h1", opListResidentIds, "", notFound)
	assert.ErrorIs(t, err, contract.ErrRemoteFailure, "NotFound without a unit id is a transport problem")

	err = fromStatus("h1", opMigrate, "", status.Error(codes.Unimplemented, "nope"))
	assert.ErrorIs(t, err, contract.ErrNoSuchEntryPoint)

	err = fromStatus("h1", opPing, "", status.Error(codes.Unimplemented, "nope"))
	assert.ErrorIs(t, err, contract.ErrRemoteFailure)

	err = fromStatus("h1", opPing, "", status.Error(codes.Unavailable, "down"))
	var remote *contract.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "h1", remote.HostID)

	assert.NoError(t, fromStatus("h1", opPing, "", nil))
}

// memLookup is a minimal contract.Lookup for exercising the wire layer.
type memLookup struct {
	mu      sync.Mutex
	regs    map[string]contract.Registration
	filters []contract.Filter
	maxes   []int
}

func (l *memLookup) Register(_ context.Context, reg contract.Registration) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.regs[reg.HostID] = reg
	return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Add(reg.Lease), nil
}

func (l *memLookup) Cancel(_ context.Context, hostID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.regs, hostID)
	return nil
}

func (l *memLookup) Query(_ context.Context, filter contract.Filter, maxResults int) ([]contract.Endpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filters = append(l.filters, filter)
	l.maxes = append(l.maxes, maxResults)
	var out []contract.Endpoint
	for _, r := range l.regs {
		if filter.Matches(r.Capabilities, r.Properties) {
			out = append(out, contract.Endpoint{HostID: r.HostID, Addr: r.Addr})
		}
	}
	return out, nil
}

func TestLookupRoundTrip(t *testing.T) {
	mem := &memLookup{regs: make(map[string]contract.Registration)}
	cc := startServer(t, func(s *grpc.Server) { RegisterLookup(s, mem) })
	client := NewLookupClient(cc)
	ctx := context.Background()

	expires, err := client.Register(ctx, contract.Registration{
		HostID:       "b1",
		Addr:         "10.0.0.1:4150",
		Capabilities: []string{contract.BailiffCapability},
		Properties:   map[string]string{"name": "north"},
		Lease:        30 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 30, 0, time.UTC), expires)

	mem.mu.Lock()
	reg := mem.regs["b1"]
	mem.mu.Unlock()
	assert.Equal(t, 30*time.Second, reg.Lease)
	assert.Equal(t, []string{contract.BailiffCapability}, reg.Capabilities)
	assert.Equal(t, "north", reg.Properties["name"])

	eps, err := client.Query(ctx, contract.Filter{
		Capability: contract.BailiffCapability,
		Properties: map[string]string{"name": "north"},
	}, 4)
	require.NoError(t, err)
	assert.Equal(t, []contract.Endpoint{{HostID: "b1", Addr: "10.0.0.1:4150"}}, eps)

	mem.mu.Lock()
	assert.Equal(t, 4, mem.maxes[0])
	assert.Equal(t, "north", mem.filters[0].Properties["name"])
	mem.mu.Unlock()

	require.NoError(t, client.Cancel(ctx, "b1"))
	eps, err = client.Query(ctx, contract.Filter{Capability: contract.BailiffCapability}, 4)
	require.NoError(t, err)
	assert.Empty(t, eps)
}

func TestLookupRegisterRequiresAddr(t *testing.T) {
	mem := &memLookup{regs: make(map[string]contract.Registration)}
	cc := startServer(t, func(s *grpc.Server) { RegisterLookup(s, mem) })
	client := NewLookupClient(cc)

	_, err := client.Register(context.Background(), contract.Registration{HostID: "b1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrRemoteFailure)

	var remote *contract.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, codes.InvalidArgument, status.Code(remote.Err))
}

// syncBuffer guards a bytes.Buffer shared with the server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLoggingUnaryInterceptor(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, host := newRemoteBailiff(t, grpc.UnaryInterceptor(LoggingUnaryInterceptor(logger)))
	ctx := context.Background()

	_, err := host.Ping(ctx)
	require.NoError(t, err)
	_, err = host.IsTagged(ctx, "ghost")
	require.Error(t, err)
	err = host.Migrate(ctx, contract.Transfer{TransferID: "t", UnitID: "u", EntryPoint: "teleport"})
	require.Error(t, err)

	logs := out.String()
	assert.Contains(t, logs, "/gotag.v1.Bailiff/Ping")
	assert.Contains(t, logs, "code=NotFound")
	assert.Contains(t, logs, "level=WARN msg=\"rpc failed\" method=/gotag.v1.Bailiff/Migrate")
	assert.NotContains(t, logs, "level=WARN msg=\"rpc failed\" method=/gotag.v1.Bailiff/IsTagged")
}

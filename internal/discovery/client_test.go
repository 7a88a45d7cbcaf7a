package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gotag/internal/contract"
	"github.com/2389/gotag/internal/rpc"
)

type staticLookup struct {
	eps []contract.Endpoint
	err error
}

func (l staticLookup) Register(context.Context, contract.Registration) (time.Time, error) {
	return time.Time{}, nil
}

func (l staticLookup) Cancel(context.Context, string) error { return nil }

func (l staticLookup) Query(context.Context, contract.Filter, int) ([]contract.Endpoint, error) {
	return l.eps, l.err
}

type localHost struct{ contract.Host }

func (localHost) ID() string { return "local" }

func TestClientQuery(t *testing.T) {
	pool := rpc.NewPool()
	t.Cleanup(func() { pool.Close() })

	local := localHost{}
	lookup := staticLookup{eps: []contract.Endpoint{
		{HostID: "local", Addr: "127.0.0.1:7070"},
		{HostID: "remote", Addr: "127.0.0.1:7071"},
	}}
	c := NewClient(lookup, pool, local, nil)

	hosts, err := c.Query(context.Background(), contract.Filter{Capability: contract.BailiffCapability}, 8)
	require.NoError(t, err)
	require.Len(t, hosts, 2)

	assert.Equal(t, contract.Host(local), hosts[0], "own endpoint resolves in-process")

	remote, ok := hosts[1].(*rpc.HostClient)
	require.True(t, ok)
	assert.Equal(t, "remote", remote.ID())
	assert.Equal(t, "127.0.0.1:7071", remote.Addr())
}

func TestClientQueryLookupFailure(t *testing.T) {
	pool := rpc.NewPool()
	t.Cleanup(func() { pool.Close() })

	c := NewClient(staticLookup{err: errors.New("down")}, pool, nil, nil)
	_, err := c.Query(context.Background(), contract.Filter{}, 8)
	assert.Error(t, err)
}

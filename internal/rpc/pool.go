// ABOUTME: Pool of lazily connecting gRPC client connections keyed by address.
// ABOUTME: Connections are shared by every handle on the same host.

package rpc

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Pool hands out shared client connections.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	opts  []grpc.DialOption
}

// DefaultDialOptions returns the options used for bailiff and lookup
// connections: plaintext transport and client keepalive.
func DefaultDialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}
}

// NewPool creates a pool. With no options DefaultDialOptions is used.
func NewPool(opts ...grpc.DialOption) *Pool {
	if len(opts) == 0 {
		opts = DefaultDialOptions()
	}
	return &Pool{
		conns: make(map[string]*grpc.ClientConn),
		opts:  opts,
	}
}

// Get returns the connection for addr, creating it if needed. Creation does
// not dial; the first call on the connection does.
func (p *Pool) Get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cc, ok := p.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", addr, err)
	}
	p.conns[addr] = cc
	return cc, nil
}

// Host returns a HostClient for the given endpoint.
func (p *Pool) Host(hostID, addr string) (*HostClient, error) {
	cc, err := p.Get(addr)
	if err != nil {
		return nil, err
	}
	return NewHostClient(hostID, addr, cc), nil
}

// Drop closes and forgets the connection for addr.
func (p *Pool) Drop(addr string) {
	p.mu.Lock()
	cc, ok := p.conns[addr]
	delete(p.conns, addr)
	p.mu.Unlock()

	if ok {
		_ = cc.Close()
	}
}

// Close closes every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*grpc.ClientConn)
	p.mu.Unlock()

	var firstErr error
	for _, cc := range conns {
		if err := cc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

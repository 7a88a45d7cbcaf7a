// ABOUTME: Discovery client turning lookup endpoints into typed host handles.
// ABOUTME: The local bailiff is returned in-process; others through the rpc pool.

package discovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/gotag/internal/contract"
	"github.com/2389/gotag/internal/rpc"
)

// Client implements contract.Discovery.
type Client struct {
	lookup contract.Lookup
	pool   *rpc.Pool
	local  contract.Host
	logger *slog.Logger
}

var _ contract.Discovery = (*Client)(nil)

// NewClient creates a discovery client. local may be nil; when set, an
// endpoint carrying local's id resolves to local instead of a remote handle.
func NewClient(lookup contract.Lookup, pool *rpc.Pool, local contract.Host, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		lookup: lookup,
		pool:   pool,
		local:  local,
		logger: logger.With("component", "discovery"),
	}
}

// Query returns host handles for the matching registrations.
func (c *Client) Query(ctx context.Context, filter contract.Filter, maxResults int) ([]contract.Host, error) {
	eps, err := c.lookup.Query(ctx, filter, maxResults)
	if err != nil {
		return nil, fmt.Errorf("querying lookup: %w", err)
	}

	hosts := make([]contract.Host, 0, len(eps))
	for _, ep := range eps {
		if c.local != nil && ep.HostID == c.local.ID() {
			hosts = append(hosts, c.local)
			continue
		}
		h, err := c.pool.Host(ep.HostID, ep.Addr)
		if err != nil {
			c.logger.Warn("skipping unreachable endpoint", "host_id", ep.HostID, "addr", ep.Addr, "error", err)
			continue
		}
		hosts = append(hosts, h)
	}

	c.logger.Debug("discovery query", "capability", filter.Capability, "found", len(hosts))
	return hosts, nil
}

// ABOUTME: Lookup service contract: leased host registrations and filtered queries.
// ABOUTME: Bailiffs register; discovery clients query.

package contract

import (
	"context"
	"time"
)

// Registration advertises a host to the lookup service.
type Registration struct {
	HostID       string
	Addr         string
	Capabilities []string
	Properties   map[string]string
	Lease        time.Duration
}

// Endpoint locates a registered host.
type Endpoint struct {
	HostID string
	Addr   string
}

// Lookup is the host directory.
type Lookup interface {
	// Register inserts or renews a registration and returns its expiry.
	Register(ctx context.Context, reg Registration) (time.Time, error)
	// Cancel removes a registration.
	Cancel(ctx context.Context, hostID string) error
	// Query returns live registrations matching filter, at most maxResults.
	Query(ctx context.Context, filter Filter, maxResults int) ([]Endpoint, error)
}

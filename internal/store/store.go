// ABOUTME: Store interface and data types for the lookup service.
// ABOUTME: Defines host registrations and registry events.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// HostRecord is a leased registration of a bailiff.
type HostRecord struct {
	HostID       string
	Addr         string
	Capabilities []string
	Properties   map[string]string
	RegisteredAt time.Time
	RenewedAt    time.Time
	ExpiresAt    time.Time
}

// EventKind names a registry transition.
type EventKind string

const (
	EventRegistered EventKind = "registered"
	EventRenewed    EventKind = "renewed"
	EventCancelled  EventKind = "cancelled"
	EventExpired    EventKind = "expired"
)

// Event is one entry of the registry journal.
type Event struct {
	ID     int64
	HostID string
	Kind   EventKind
	Addr   string
	At     time.Time
}

// Store is the persistence surface used by the lookup registry.
type Store interface {
	// UpsertHost inserts or replaces a registration. It reports whether the
	// host was not registered before.
	UpsertHost(ctx context.Context, rec HostRecord) (created bool, err error)
	// GetHost returns a registration or ErrNotFound.
	GetHost(ctx context.Context, hostID string) (*HostRecord, error)
	// DeleteHost removes a registration or returns ErrNotFound.
	DeleteHost(ctx context.Context, hostID string) error
	// ListHosts returns every registration ordered by host id.
	ListHosts(ctx context.Context) ([]HostRecord, error)
	// DeleteExpired removes registrations whose lease ended at or before now
	// and returns them.
	DeleteExpired(ctx context.Context, now time.Time) ([]HostRecord, error)

	// AppendEvent records a registry transition.
	AppendEvent(ctx context.Context, ev Event) error
	// ListEvents returns the most recent events, newest first.
	ListEvents(ctx context.Context, limit int) ([]Event, error)

	Close() error
}

// ABOUTME: Leased host directory backed by the lookup store.
// ABOUTME: Registers, renews, cancels, sweeps and filters bailiff registrations.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/2389/gotag/internal/contract"
	"github.com/2389/gotag/internal/store"
)

// ErrInvalidRegistration is returned when a registration lacks a host id or
// address.
var ErrInvalidRegistration = errors.New("invalid registration")

const (
	// MinLease is the shortest lease the registry grants.
	MinLease = time.Second
	// DefaultMaxLease is used when RegistryConfig.MaxLease is zero.
	DefaultMaxLease = 5 * time.Minute
	// DefaultSweepInterval is used when RegistryConfig.SweepInterval is zero.
	DefaultSweepInterval = 5 * time.Second
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Store         store.Store
	MaxLease      time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Rand          *rand.Rand
	Now           func() time.Time
}

// Registry is the lookup service's directory.
type Registry struct {
	store    store.Store
	maxLease time.Duration
	sweep    time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// mu guards rng and serializes register/sweep so a renewal never races
	// the expiry of the same host.
	mu  sync.Mutex
	rng *rand.Rand
}

var _ contract.Lookup = (*Registry)(nil)

// NewRegistry creates a registry over cfg.Store.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxLease <= 0 {
		cfg.MaxLease = DefaultMaxLease
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		store:    cfg.Store,
		maxLease: cfg.MaxLease,
		sweep:    cfg.SweepInterval,
		logger:   cfg.Logger.With("component", "registry"),
		now:      cfg.Now,
		rng:      cfg.Rand,
	}
}

// clampLease bounds a requested lease to [MinLease, maxLease].
func (r *Registry) clampLease(d time.Duration) time.Duration {
	if d < MinLease {
		return MinLease
	}
	if d > r.maxLease {
		return r.maxLease
	}
	return d
}

// Register inserts or renews a registration and returns its expiry.
func (r *Registry) Register(ctx context.Context, reg contract.Registration) (time.Time, error) {
	if reg.HostID == "" || reg.Addr == "" {
		return time.Time{}, fmt.Errorf("%w: host_id and addr are required", ErrInvalidRegistration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	lease := r.clampLease(reg.Lease)
	rec := store.HostRecord{
		HostID:       reg.HostID,
		Addr:         reg.Addr,
		Capabilities: reg.Capabilities,
		Properties:   contract.FoldKeys(reg.Properties),
		RegisteredAt: now,
		RenewedAt:    now,
		ExpiresAt:    now.Add(lease),
	}

	created, err := r.store.UpsertHost(ctx, rec)
	if err != nil {
		return time.Time{}, fmt.Errorf("storing registration: %w", err)
	}

	kind := store.EventRenewed
	if created {
		kind = store.EventRegistered
		r.logger.Info("=== HOST REGISTERED ===",
			"host_id", reg.HostID,
			"addr", reg.Addr,
			"lease", lease,
		)
	} else {
		r.logger.Debug("lease renewed", "host_id", reg.HostID, "expires_at", rec.ExpiresAt)
	}
	r.journal(ctx, reg.HostID, kind, reg.Addr, now)

	return rec.ExpiresAt, nil
}

// Cancel removes a registration. Cancelling an unknown host is not an error.
func (r *Registry) Cancel(ctx context.Context, hostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.store.DeleteHost(ctx, hostID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("cancel for unknown host", "host_id", hostID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancelling registration: %w", err)
	}

	r.logger.Info("=== HOST CANCELLED ===", "host_id", hostID)
	r.journal(ctx, hostID, store.EventCancelled, "", r.now())
	return nil
}

// Query returns live registrations matching filter in random order, at most
// maxResults of them. A non-positive maxResults means no bound.
func (r *Registry) Query(ctx context.Context, filter contract.Filter, maxResults int) ([]contract.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sweepLocked(ctx); err != nil {
		return nil, err
	}

	hosts, err := r.store.ListHosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}

	var out []contract.Endpoint
	for _, h := range hosts {
		if filter.Matches(h.Capabilities, h.Properties) {
			out = append(out, contract.Endpoint{HostID: h.HostID, Addr: h.Addr})
		}
	}

	r.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

// Hosts returns every live registration.
func (r *Registry) Hosts(ctx context.Context) ([]store.HostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sweepLocked(ctx); err != nil {
		return nil, err
	}
	return r.store.ListHosts(ctx)
}

// Events returns the most recent registry events, newest first.
func (r *Registry) Events(ctx context.Context, limit int) ([]store.Event, error) {
	return r.store.ListEvents(ctx, limit)
}

// Sweep drops expired registrations.
func (r *Registry) Sweep(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sweepLocked(ctx)
}

func (r *Registry) sweepLocked(ctx context.Context) error {
	now := r.now()
	expired, err := r.store.DeleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("sweeping expired hosts: %w", err)
	}
	for _, h := range expired {
		r.logger.Info("=== HOST EXPIRED ===",
			"host_id", h.HostID,
			"addr", h.Addr,
			"expired_at", h.ExpiresAt,
		)
		r.journal(ctx, h.HostID, store.EventExpired, h.Addr, now)
	}
	return nil
}

// Run sweeps periodically until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

func (r *Registry) journal(ctx context.Context, hostID string, kind store.EventKind, addr string, at time.Time) {
	ev := store.Event{HostID: hostID, Kind: kind, Addr: addr, At: at}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.logger.Warn("failed to journal registry event", "host_id", hostID, "kind", kind, "error", err)
	}
}

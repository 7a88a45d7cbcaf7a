// ABOUTME: Keeps one bailiff registered with the lookup service.
// ABOUTME: Renews at half the granted lease and cancels on shutdown.

package discovery

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/2389/gotag/internal/contract"
)

// cancelTimeout bounds the final Cancel call made after shutdown.
const cancelTimeout = 5 * time.Second

// RegistrarConfig configures a Registrar.
type RegistrarConfig struct {
	Lookup       contract.Lookup
	Registration contract.Registration
	Backoff      BackoffConfig
	Logger       *slog.Logger
	Rand         *rand.Rand
	Now          func() time.Time
}

// Registrar maintains a lease for one host.
type Registrar struct {
	lookup  contract.Lookup
	reg     contract.Registration
	backoff BackoffConfig
	logger  *slog.Logger
	rng     *rand.Rand
	now     func() time.Time

	registered atomic.Bool
}

// NewRegistrar creates a registrar. Call Run to start it.
func NewRegistrar(cfg RegistrarConfig) *Registrar {
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
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
	return &Registrar{
		lookup:  cfg.Lookup,
		reg:     cfg.Registration,
		backoff: cfg.Backoff,
		logger:  cfg.Logger.With("component", "registrar", "host_id", cfg.Registration.HostID),
		rng:     cfg.Rand,
		now:     cfg.Now,
	}
}

// Registered reports whether the last registration attempt succeeded.
func (r *Registrar) Registered() bool {
	return r.registered.Load()
}

// Run registers and renews until ctx is cancelled, then cancels the lease.
// It always returns nil.
func (r *Registrar) Run(ctx context.Context) error {
	attempt := 0
	for {
		delay := r.renew(ctx, &attempt)
		if ctx.Err() != nil {
			r.cancel()
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.cancel()
			return nil
		case <-timer.C:
		}
	}
}

// renew makes one registration attempt and returns the wait before the next.
func (r *Registrar) renew(ctx context.Context, attempt *int) time.Duration {
	expires, err := r.lookup.Register(ctx, r.reg)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		*attempt++
		r.registered.Store(false)
		delay := r.backoff.NextDelay(*attempt, r.rng)
		r.logger.Warn("registration failed", "error", err, "attempt", *attempt, "retry_in", delay)
		return delay
	}

	if *attempt > 0 || !r.registered.Load() {
		r.logger.Info("registered with lookup", "addr", r.reg.Addr, "expires_at", expires)
	}
	*attempt = 0
	r.registered.Store(true)

	delay := expires.Sub(r.now()) / 2
	if delay < MinLease/2 {
		delay = MinLease / 2
	}
	return delay
}

func (r *Registrar) cancel() {
	if !r.registered.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	if err := r.lookup.Cancel(ctx, r.reg.HostID); err != nil {
		r.logger.Warn("failed to cancel registration", "error", err)
		return
	}
	r.registered.Store(false)
	r.logger.Info("registration cancelled")
}

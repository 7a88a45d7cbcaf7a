// ABOUTME: Behavioral state machine of a unit: discover, select, chase or evade, migrate out.
// ABOUTME: One controller runs per resident unit and blocks on each host call in turn.

package agent

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/2389/gotag/internal/contract"
)

// EvasionPolicy selects how an untagged resident behaves.
type EvasionPolicy string

const (
	// EvasionPoll stays put and re-checks co-residents every idle interval,
	// leaving only once a tagged peer shares the host.
	EvasionPoll EvasionPolicy = "poll"
	// EvasionWander sleeps one idle interval and then migrates out
	// regardless of peer state.
	EvasionWander EvasionPolicy = "wander"
)

// Timing holds the controller's pacing parameters.
type Timing struct {
	Restraint   time.Duration // before every discovery round
	Retry       time.Duration // after a round that found no hosts
	Idle        time.Duration // between evasion checks
	CallTimeout time.Duration // per host call; zero disables
	MaxResults  int           // discovery result bound
}

// DefaultTiming returns the nominal pacing of the game.
func DefaultTiming() Timing {
	return Timing{
		Restraint:   5 * time.Second,
		Retry:       20 * time.Second,
		Idle:        2 * time.Second,
		CallTimeout: 10 * time.Second,
		MaxResults:  8,
	}
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Unit      *Unit
	Discovery contract.Discovery

	// Home is the host the unit was resumed on, if any. It is checked for
	// residency before the discovered candidates.
	Home contract.Host

	Timing  Timing
	Evasion EvasionPolicy

	// OnMigrated runs once a destination has accepted the unit.
	OnMigrated func()

	Logger *slog.Logger
	Rand   *rand.Rand

	// Sleep replaces the context-aware sleep, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Controller drives one unit through the game.
type Controller struct {
	unit       *Unit
	discovery  contract.Discovery
	home       contract.Host
	timing     Timing
	evasion    EvasionPolicy
	onMigrated func()
	filter     contract.Filter
	rng        *rand.Rand
	sleepFn    func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// constraints restrict migration targets for a phase.
type constraints struct {
	excludeHostID string
	// occupiedIfTagged requires a non-empty destination while the unit is tagged.
	occupiedIfTagged bool
}

// NewController creates a controller bound to cfg.Unit.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	timing := cfg.Timing
	if timing.MaxResults <= 0 {
		timing.MaxResults = DefaultTiming().MaxResults
	}
	evasion := cfg.Evasion
	if evasion == "" {
		evasion = EvasionPoll
	}

	return &Controller{
		unit:       cfg.Unit,
		discovery:  cfg.Discovery,
		home:       cfg.Home,
		timing:     timing,
		evasion:    evasion,
		onMigrated: cfg.OnMigrated,
		filter:     contract.Filter{Capability: contract.BailiffCapability},
		rng:        rng,
		sleepFn:    sleep,
		logger:     logger.With("unit_id", cfg.Unit.ID()),
	}
}

// Run plays the game until the unit migrates to another host, in which case
// it returns nil, or until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Debug("controller started", "tagged", c.unit.Tagged(), "evasion", c.evasion)

	for {
		hosts, err := c.discover(ctx)
		if err != nil {
			return c.terminate(err)
		}

		migrated, err := c.play(ctx, hosts)
		if err != nil {
			return c.terminate(err)
		}
		if migrated {
			return nil
		}
	}
}

func (c *Controller) terminate(err error) error {
	c.enter(PhaseTerminated)
	c.logger.Debug("controller terminated", "error", err)
	return err
}

func (c *Controller) enter(p Phase) {
	if c.unit.Phase() != p {
		c.logger.Debug("phase", "from", c.unit.Phase().String(), "to", p.String())
	}
	c.unit.SetPhase(p)
}

// discover sleeps the restraint interval, then queries until at least one
// candidate comes back, sleeping the retry interval between empty rounds.
func (c *Controller) discover(ctx context.Context) ([]contract.Host, error) {
	c.enter(PhaseDiscovering)

	if err := c.sleepFn(ctx, c.timing.Restraint); err != nil {
		return nil, err
	}

	for {
		hosts, err := c.discovery.Query(ctx, c.filter, c.timing.MaxResults)
		if err == nil && len(hosts) > 0 {
			c.logger.Debug("found bailiffs", "count", len(hosts))
			return hosts, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			c.logger.Warn("discovery query failed", "error", err)
		} else {
			c.logger.Debug("no bailiff detected, sleeping", "retry", c.timing.Retry)
		}

		if err := c.sleepFn(ctx, c.timing.Retry); err != nil {
			return nil, err
		}
	}
}

// play runs one round against a discovered candidate list. It reports
// whether the unit migrated away.
func (c *Controller) play(ctx context.Context, hosts []contract.Host) (bool, error) {
	c.enter(PhaseSelecting)

	current := c.locate(ctx, hosts)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if current == nil {
		c.logger.Debug("not resident in any bailiff")
		return c.migrateOut(ctx, hosts, constraints{})
	}

	if !c.unit.Tagged() {
		switch c.evasion {
		case EvasionWander:
			return c.evadeWander(ctx, current, hosts)
		default:
			chase, migrated, err := c.evadePoll(ctx, current, hosts)
			if !chase {
				return migrated, err
			}
		}
	}
	return c.chase(ctx, current, hosts)
}

// locate finds the host listing this unit as resident, or nil.
func (c *Controller) locate(ctx context.Context, hosts []contract.Host) contract.Host {
	if c.home != nil && c.residentOn(ctx, c.home) {
		return c.home
	}

	p := newPool(hosts, c.rng)
	for p.Len() > 0 {
		idx, h := p.Pick()
		if c.ping(ctx, h) && c.residentOn(ctx, h) {
			return h
		}
		if ctx.Err() != nil {
			return nil
		}
		p.Evict(idx)
	}
	return nil
}

func (c *Controller) residentOn(ctx context.Context, h contract.Host) bool {
	ids, err := c.listResidents(ctx, h)
	if err != nil {
		return false
	}
	for _, id := range ids {
		if id == c.unit.ID() {
			return true
		}
	}
	return false
}

// chase spends at most N-1 tag attempts on co-residents, stopping at the
// first success, and then migrates out.
func (c *Controller) chase(ctx context.Context, current contract.Host, hosts []contract.Host) (bool, error) {
	c.enter(PhaseChasing)

	ids, err := c.listResidents(ctx, current)
	if err != nil {
		return false, c.abandon(ctx, current, err)
	}

	others := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != c.unit.ID() {
			others = append(others, id)
		}
	}
	c.logger.Debug("chasing", "residents", len(ids))

	budget := len(ids) - 1
	for attempts := 0; attempts < budget && len(others) > 0 && c.unit.Tagged(); attempts++ {
		i := c.rng.Intn(len(others))
		peer := others[i]

		ok, err := c.attemptTag(ctx, current, peer)
		if contract.IsUnknownAgent(err) {
			c.logger.Debug("tag target left", "peer", peer)
			others[i] = others[len(others)-1]
			others = others[:len(others)-1]
			continue
		}
		if err != nil {
			return false, c.abandon(ctx, current, err)
		}
		if ok {
			c.unit.ReleaseTag()
			c.logger.Info("tag passed", "peer", peer, "host_id", current.ID())
			break
		}
	}

	return c.migrateOut(ctx, hosts, constraints{
		excludeHostID:    current.ID(),
		occupiedIfTagged: true,
	})
}

// evadePoll watches co-residents until one of them is tagged, then leaves.
// It reports chase=true if this unit was tagged while it waited.
func (c *Controller) evadePoll(ctx context.Context, current contract.Host, hosts []contract.Host) (chase, migrated bool, err error) {
	c.enter(PhaseEvading)

	for {
		if c.unit.Tagged() {
			c.logger.Info("tagged while evading")
			return true, false, nil
		}

		tagged, err := c.peerTagged(ctx, current)
		if err != nil {
			return false, false, c.abandon(ctx, current, err)
		}
		if tagged {
			c.logger.Debug("tagged peer shares host, leaving")
			migrated, err := c.migrateOut(ctx, hosts, constraints{
				excludeHostID:    current.ID(),
				occupiedIfTagged: true,
			})
			return false, migrated, err
		}

		if err := c.sleepFn(ctx, c.timing.Idle); err != nil {
			return false, false, err
		}
	}
}

// evadeWander idles once and then migrates out whatever the peers are doing.
func (c *Controller) evadeWander(ctx context.Context, current contract.Host, hosts []contract.Host) (bool, error) {
	c.enter(PhaseEvading)

	if err := c.sleepFn(ctx, c.timing.Idle); err != nil {
		return false, err
	}
	return c.migrateOut(ctx, hosts, constraints{
		excludeHostID:    current.ID(),
		occupiedIfTagged: true,
	})
}

func (c *Controller) peerTagged(ctx context.Context, current contract.Host) (bool, error) {
	ids, err := c.listResidents(ctx, current)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == c.unit.ID() {
			continue
		}
		tagged, err := c.isTagged(ctx, current, id)
		if contract.IsUnknownAgent(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		if tagged {
			return true, nil
		}
	}
	return false, nil
}

// migrateOut tries random candidates until one accepts the unit. It reports
// false when every candidate was unreachable, disqualified or refused.
func (c *Controller) migrateOut(ctx context.Context, hosts []contract.Host, cons constraints) (bool, error) {
	c.enter(PhaseMigratingOut)

	p := newPool(hosts, c.rng)
	for p.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		idx, h := p.Pick()
		if !c.ping(ctx, h) || !c.qualifies(ctx, h, cons) {
			p.Evict(idx)
			continue
		}

		tagged := c.unit.BeginMigration()
		t := contract.NewResumeTransfer(uuid.New().String(), c.unit.ID(), tagged, PhaseDiscovering.String())

		c.logger.Debug("trying to migrate", "host_id", h.ID(), "tagged", tagged)
		if err := c.migrate(ctx, h, t); err != nil {
			c.unit.AbortMigration()
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if errors.Is(err, contract.ErrNoSuchEntryPoint) {
				c.logger.Warn("bailiff rejected entry point", "host_id", h.ID(), "error", err)
			} else {
				c.logger.Debug("migration failed", "host_id", h.ID(), "error", err)
			}
			p.Evict(idx)
			continue
		}

		c.logger.Info("migrated", "host_id", h.ID(), "tagged", tagged)
		if c.onMigrated != nil {
			c.onMigrated()
		}
		return true, nil
	}

	c.logger.Debug("no bailiff accepted the unit")
	return false, nil
}

func (c *Controller) qualifies(ctx context.Context, h contract.Host, cons constraints) bool {
	if cons.excludeHostID != "" && h.ID() == cons.excludeHostID {
		return false
	}
	if cons.occupiedIfTagged && c.unit.Tagged() {
		ids, err := c.listResidents(ctx, h)
		if err != nil || len(ids) == 0 {
			return false
		}
	}
	return true
}

// abandon handles a failure against the current host. The round ends and
// discovery starts over unless ctx is done.
func (c *Controller) abandon(ctx context.Context, h contract.Host, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Warn("lost contact with current bailiff", "host_id", h.ID(), "error", err)
	return nil
}

func (c *Controller) ping(ctx context.Context, h contract.Host) bool {
	cctx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := h.Ping(cctx)
	if err != nil {
		c.logger.Debug("ping not accepted", "host_id", h.ID(), "error", err)
		return false
	}
	c.logger.Debug("ping accepted", "host_id", h.ID(), "response", resp)
	return true
}

func (c *Controller) listResidents(ctx context.Context, h contract.Host) ([]string, error) {
	cctx, cancel := c.callContext(ctx)
	defer cancel()
	return h.ListResidentIds(cctx)
}

func (c *Controller) isTagged(ctx context.Context, h contract.Host, id string) (bool, error) {
	cctx, cancel := c.callContext(ctx)
	defer cancel()
	return h.IsTagged(cctx, id)
}

func (c *Controller) attemptTag(ctx context.Context, h contract.Host, id string) (bool, error) {
	cctx, cancel := c.callContext(ctx)
	defer cancel()
	return h.AttemptTag(cctx, id)
}

func (c *Controller) migrate(ctx context.Context, h contract.Host, t contract.Transfer) error {
	cctx, cancel := c.callContext(ctx)
	defer cancel()
	return h.Migrate(cctx, t)
}

func (c *Controller) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timing.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timing.CallTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

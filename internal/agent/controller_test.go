// ABOUTME: Tests for the unit controller state machine against in-memory hosts.
// ABOUTME: Sleeps are replaced so every scenario runs without real delays.

package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gotag/internal/contract"
)

// fakeHost is an in-memory host whose residents are real units.
type fakeHost struct {
	id string

	mu         sync.Mutex
	residents  []string
	units      map[string]*Unit
	down       bool
	migrateErr error
	attempts   int
	transfers  []contract.Transfer
}

func newFakeHost(id string, units ...*Unit) *fakeHost {
	h := &fakeHost{id: id, units: make(map[string]*Unit)}
	for _, u := range units {
		h.add(u)
	}
	return h
}

func (h *fakeHost) add(u *Unit) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.residents = append(h.residents, u.ID())
	h.units[u.ID()] = u
}

// listGhost lists an id that is not resident, as if it left between calls.
func (h *fakeHost) listGhost(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.residents = append(h.residents, id)
}

func (h *fakeHost) ID() string { return h.id }

func (h *fakeHost) unreachable(op string) error {
	return &contract.RemoteError{HostID: h.id, Op: op, Err: errors.New("connection refused")}
}

func (h *fakeHost) Ping(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return "", h.unreachable("ping")
	}
	return h.id, nil
}

func (h *fakeHost) GetProperty(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (h *fakeHost) Migrate(_ context.Context, t contract.Transfer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return h.unreachable("migrate")
	}
	h.transfers = append(h.transfers, t)
	if h.migrateErr != nil {
		return h.migrateErr
	}
	h.residents = append(h.residents, t.UnitID)
	h.units[t.UnitID] = RestoreUnit(t.UnitID, t.Tagged)
	return nil
}

func (h *fakeHost) ListResidentIds(context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.down {
		return nil, h.unreachable("list_resident_ids")
	}
	out := make([]string, len(h.residents))
	copy(out, h.residents)
	return out, nil
}

func (h *fakeHost) IsTagged(_ context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.units[id]
	if !ok {
		return false, &contract.UnknownAgentError{ID: id}
	}
	return u.Tagged(), nil
}

func (h *fakeHost) AttemptTag(_ context.Context, id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts++
	u, ok := h.units[id]
	if !ok {
		return false, &contract.UnknownAgentError{ID: id}
	}
	return u.TryTag(), nil
}

func (h *fakeHost) attemptCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

func (h *fakeHost) received() []contract.Transfer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]contract.Transfer, len(h.transfers))
	copy(out, h.transfers)
	return out
}

// fakeDiscovery returns scripted rounds, then the fallback list forever.
type fakeDiscovery struct {
	mu       sync.Mutex
	rounds   [][]contract.Host
	errs     []error
	fallback []contract.Host
	calls    int
}

func (d *fakeDiscovery) Query(_ context.Context, filter contract.Filter, _ int) ([]contract.Host, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if filter.Capability != contract.BailiffCapability {
		return nil, errors.New("unexpected filter")
	}
	i := d.calls
	d.calls++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i < len(d.rounds) {
		return d.rounds[i], nil
	}
	return d.fallback, nil
}

func hostsOf(hs ...*fakeHost) []contract.Host {
	out := make([]contract.Host, len(hs))
	for i, h := range hs {
		out[i] = h
	}
	return out
}

var testTiming = Timing{
	Restraint:   1 * time.Millisecond,
	Retry:       2 * time.Millisecond,
	Idle:        3 * time.Millisecond,
	CallTimeout: time.Second,
	MaxResults:  8,
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func newTestController(u *Unit, disc contract.Discovery, home contract.Host, sleep func(context.Context, time.Duration) error) (*Controller, *int) {
	migrated := 0
	if sleep == nil {
		sleep = noSleep
	}
	c := NewController(ControllerConfig{
		Unit:       u,
		Discovery:  disc,
		Home:       home,
		Timing:     testTiming,
		OnMigrated: func() { migrated++ },
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:       rand.New(rand.NewSource(7)),
		Sleep:      sleep,
	})
	return c, &migrated
}

func TestChaseStopsAtFirstSuccess(t *testing.T) {
	me := NewUnit(true)
	p1, p2 := NewUnit(false), NewUnit(false)
	h1 := newFakeHost("h1", me, p1, p2)
	h2 := newFakeHost("h2", NewUnit(false))

	disc := &fakeDiscovery{fallback: hostsOf(h1, h2)}
	c, migrated := newTestController(me, disc, h1, nil)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 1, h1.attemptCount())
	assert.False(t, me.Tagged())
	assert.NotEqual(t, p1.Tagged(), p2.Tagged(), "exactly one peer should be tagged")
	assert.Equal(t, 1, *migrated)

	got := h2.received()
	require.Len(t, got, 1)
	assert.Equal(t, me.ID(), got[0].UnitID)
	assert.False(t, got[0].Tagged)
	assert.Equal(t, string(contract.EntryResume), got[0].EntryPoint)
	assert.Equal(t, []any{false}, got[0].Args)
	assert.Empty(t, h1.received(), "the current host is never a destination")
}

func TestChaseBoundedByResidentCount(t *testing.T) {
	me := NewUnit(true)
	peers := []*Unit{NewUnit(false), NewUnit(false), NewUnit(false)}
	for _, p := range peers {
		p.BeginMigration() // every peer refuses the tag
	}
	h1 := newFakeHost("h1", append([]*Unit{me}, peers...)...)
	h2 := newFakeHost("h2", NewUnit(false))

	disc := &fakeDiscovery{fallback: hostsOf(h1, h2)}
	c, _ := newTestController(me, disc, h1, nil)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 3, h1.attemptCount(), "N-1 attempts for N residents")
	for _, p := range peers {
		assert.False(t, p.Tagged())
	}

	got := h2.received()
	require.Len(t, got, 1)
	assert.True(t, got[0].Tagged, "the tag travels with the unit")
}

func TestLoneChaserRequiresOccupiedDestination(t *testing.T) {
	me := NewUnit(true)
	h1 := newFakeHost("h1", me)
	empty := newFakeHost("h2")
	occupied := newFakeHost("h3", NewUnit(false))

	disc := &fakeDiscovery{fallback: hostsOf(h1, empty, occupied)}
	c, _ := newTestController(me, disc, h1, nil)

	require.NoError(t, c.Run(context.Background()))

	assert.Zero(t, h1.attemptCount())
	assert.Empty(t, empty.received())
	require.Len(t, occupied.received(), 1)
	assert.True(t, occupied.received()[0].Tagged)
}

func TestLoneChaserWithOnlyEmptyDestinationRediscovers(t *testing.T) {
	me := NewUnit(true)
	h1 := newFakeHost("h1", me)
	empty := newFakeHost("h2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restraints := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == testTiming.Restraint {
			restraints++
			if restraints == 3 {
				cancel()
			}
		}
		return ctx.Err()
	}

	disc := &fakeDiscovery{fallback: hostsOf(h1, empty)}
	c, migrated := newTestController(me, disc, h1, sleep)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, empty.received(), "a tagged unit never moves to an empty host")
	disc.mu.Lock()
	calls := disc.calls
	disc.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 2, "each fruitless round goes back to discovery")
	assert.Zero(t, *migrated)
	assert.True(t, me.Tagged())
	assert.False(t, me.Migrating())
	assert.Equal(t, PhaseTerminated, me.Phase())
}

func TestChaseSkipsDepartedPeer(t *testing.T) {
	me := NewUnit(true)
	peer := NewUnit(false)
	h1 := newFakeHost("h1", me, peer)
	h1.listGhost("ghost")
	h2 := newFakeHost("h2", NewUnit(false))

	disc := &fakeDiscovery{fallback: hostsOf(h1, h2)}
	c, _ := newTestController(me, disc, h1, nil)

	require.NoError(t, c.Run(context.Background()))

	assert.True(t, peer.Tagged())
	assert.False(t, me.Tagged())
	assert.Len(t, h2.received(), 1)
}

func TestMigrateFailureEvictsCandidate(t *testing.T) {
	me := NewUnit(true)
	h1 := newFakeHost("h1", me)
	failing := newFakeHost("h2", NewUnit(false))
	failing.migrateErr = &contract.RemoteError{HostID: "h2", Op: "migrate", Err: errors.New("reset")}
	down := newFakeHost("h3", NewUnit(false))
	down.down = true
	good := newFakeHost("h4", NewUnit(false))

	disc := &fakeDiscovery{fallback: hostsOf(h1, failing, down, good)}
	c, migrated := newTestController(me, disc, h1, nil)

	require.NoError(t, c.Run(context.Background()))

	assert.LessOrEqual(t, len(failing.received()), 1)
	assert.Empty(t, down.received())
	assert.Len(t, good.received(), 1)
	assert.Equal(t, 1, *migrated)
}

func TestFailedMigrationClearsMigrating(t *testing.T) {
	me := NewUnit(true)
	h1 := newFakeHost("h1", me)
	h2 := newFakeHost("h2", NewUnit(false))
	h2.migrateErr = contract.ErrNoSuchEntryPoint

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restraints := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == testTiming.Restraint {
			restraints++
			if restraints == 3 {
				cancel()
			}
		}
		return ctx.Err()
	}

	disc := &fakeDiscovery{fallback: hostsOf(h1, h2)}
	c, migrated := newTestController(me, disc, h1, sleep)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 2, len(h2.received()), "one refused attempt per round")
	assert.False(t, me.Migrating())
	assert.True(t, me.Tagged())
	assert.Zero(t, *migrated)
	assert.Equal(t, PhaseTerminated, me.Phase())
}

func TestEvadePollLeavesWhenPeerTagged(t *testing.T) {
	me := NewUnit(false)
	peer := NewUnit(false)
	h1 := newFakeHost("h1", me, peer)
	h2 := newFakeHost("h2")

	idles := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == testTiming.Idle {
			idles++
			if idles == 2 {
				peer.TryTag()
			}
		}
		return ctx.Err()
	}

	disc := &fakeDiscovery{fallback: hostsOf(h1, h2)}
	c, _ := newTestController(me, disc, h1, sleep)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 2, idles)
	require.Len(t, h2.received(), 1)
	assert.False(t, h2.received()[0].Tagged)
	assert.Zero(t, h1.attemptCount())
}

func TestEvadePollSwitchesToChaseWhenTagged(t *testing.T) {
	me := NewUnit(false)
	peer := NewUnit(false)
	h1 := newFakeHost("h1", me, peer)
	h2 := newFakeHost("h2", NewUnit(false))

	sleep := func(ctx context.Context, d time.Duration) error {
		if d == testTiming.Idle {
			me.TryTag()
		}
		return ctx.Err()
	}

	disc := &fakeDiscovery{fallback: hostsOf(h1, h2)}
	c, _ := newTestController(me, disc, h1, sleep)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 1, h1.attemptCount())
	assert.True(t, peer.Tagged())
	assert.False(t, me.Tagged())
	assert.Len(t, h2.received(), 1)
}

func TestEvadeWanderMigratesAfterOneIdle(t *testing.T) {
	me := NewUnit(false)
	peer := NewUnit(false)
	h1 := newFakeHost("h1", me, peer)
	h2 := newFakeHost("h2")

	idles := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == testTiming.Idle {
			idles++
		}
		return ctx.Err()
	}

	disc := &fakeDiscovery{fallback: hostsOf(h1, h2)}
	c, _ := newTestController(me, disc, h1, sleep)
	c.evasion = EvasionWander

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 1, idles)
	assert.False(t, peer.Tagged())
	assert.Len(t, h2.received(), 1)
}

func TestDiscoveryRetriesUntilHostsFound(t *testing.T) {
	me := NewUnit(false)
	h1 := newFakeHost("h1")

	retries := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == testTiming.Retry {
			retries++
		}
		return ctx.Err()
	}

	disc := &fakeDiscovery{
		rounds:   [][]contract.Host{nil, nil, nil},
		errs:     []error{nil, errors.New("lookup unavailable")},
		fallback: hostsOf(h1),
	}
	c, migrated := newTestController(me, disc, nil, sleep)

	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 3, retries)
	assert.Equal(t, 1, *migrated)
	require.Len(t, h1.received(), 1, "a unit resident nowhere migrates without constraints")
}

func TestRunCancelledTerminates(t *testing.T) {
	me := NewUnit(false)

	ctx, cancel := context.WithCancel(context.Background())
	retries := 0
	sleep := func(ctx context.Context, d time.Duration) error {
		if d == testTiming.Retry {
			retries++
			if retries == 5 {
				cancel()
			}
		}
		return ctx.Err()
	}

	c, _ := newTestController(me, &fakeDiscovery{}, nil, sleep)

	err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseTerminated, me.Phase())
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}

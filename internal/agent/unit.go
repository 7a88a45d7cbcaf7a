// ABOUTME: Agent unit state: identity, tag flag, migration flag and phase.
// ABOUTME: Tag and migration flags share one atomic word so refusal and flip are a single CAS.

package agent

import (
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	flagTagged    uint32 = 1 << 0
	flagMigrating uint32 = 1 << 1
)

// Unit is the piece of state that travels between hosts.
type Unit struct {
	id    string
	state atomic.Uint32
	phase atomic.Int32
}

// NewUnit creates a unit with a fresh random identity.
func NewUnit(tagged bool) *Unit {
	return RestoreUnit(uuid.New().String(), tagged)
}

// RestoreUnit rebuilds a transferred unit. The migrating flag always starts
// cleared on the destination.
func RestoreUnit(id string, tagged bool) *Unit {
	u := &Unit{id: id}
	if tagged {
		u.state.Store(flagTagged)
	}
	u.phase.Store(int32(PhaseDiscovering))
	return u
}

// ID returns the unit's immutable identifier.
func (u *Unit) ID() string {
	return u.id
}

// String returns the unit id.
func (u *Unit) String() string {
	return u.id
}

// Tagged reports whether the unit is currently "it".
func (u *Unit) Tagged() bool {
	return u.state.Load()&flagTagged != 0
}

// Migrating reports whether a migration call is in flight for the unit.
func (u *Unit) Migrating() bool {
	return u.state.Load()&flagMigrating != 0
}

// TryTag flips tagged from false to true on behalf of a tagger. It refuses
// without side effect while the unit is migrating. Only the caller that
// performs the flip gets true.
func (u *Unit) TryTag() bool {
	for {
		s := u.state.Load()
		if s&flagMigrating != 0 || s&flagTagged != 0 {
			return false
		}
		if u.state.CompareAndSwap(s, s|flagTagged) {
			return true
		}
	}
}

// ReleaseTag clears the tag after it was passed on. It reports whether this
// call performed the true→false transition.
func (u *Unit) ReleaseTag() bool {
	for {
		s := u.state.Load()
		if s&flagTagged == 0 {
			return false
		}
		if u.state.CompareAndSwap(s, s&^flagTagged) {
			return true
		}
	}
}

// BeginMigration sets the migrating flag and returns the tag state captured
// in the same atomic step. No tag can land after this returns.
func (u *Unit) BeginMigration() (tagged bool) {
	for {
		s := u.state.Load()
		if u.state.CompareAndSwap(s, s|flagMigrating) {
			return s&flagTagged != 0
		}
	}
}

// AbortMigration clears the migrating flag after a failed migrate call.
func (u *Unit) AbortMigration() {
	for {
		s := u.state.Load()
		if s&flagMigrating == 0 {
			return
		}
		if u.state.CompareAndSwap(s, s&^flagMigrating) {
			return
		}
	}
}

// Phase returns the controller phase the unit is in.
func (u *Unit) Phase() Phase {
	return Phase(u.phase.Load())
}

// SetPhase records a controller phase transition.
func (u *Unit) SetPhase(p Phase) {
	u.phase.Store(int32(p))
}

// Snapshot is a point-in-time view of a unit for listings.
type Snapshot struct {
	ID        string `json:"id"`
	Tagged    bool   `json:"tagged"`
	Migrating bool   `json:"migrating"`
	Phase     string `json:"phase"`
}

// Snapshot reads the unit's flags in one load.
func (u *Unit) Snapshot() Snapshot {
	s := u.state.Load()
	return Snapshot{
		ID:        u.id,
		Tagged:    s&flagTagged != 0,
		Migrating: s&flagMigrating != 0,
		Phase:     u.Phase().String(),
	}
}

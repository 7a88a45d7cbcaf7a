// Package agent implements the mobile units of the tag game and the
// controller that drives them.
//
// # Unit
//
// A Unit carries an immutable id, a tag flag and a migration flag. The two
// flags share one atomic word:
//
//	TryTag()          refuse if migrating, else flip tagged false→true
//	ReleaseTag()      flip tagged true→false after passing the tag on
//	BeginMigration()  set migrating and capture tagged in one step
//	AbortMigration()  clear migrating after a failed hop
//
// # Controller
//
// The Controller is a state machine:
//
//	discovering → selecting → chasing | evading → migrating-out → discovering
//
// Discovering sleeps a restraint interval, then queries the discovery
// client until it returns candidates. Selecting pings random candidates and
// asks each for its residents to find where the unit lives. A tagged unit
// chases: at most N-1 AttemptTag calls on co-residents, stopping at the first
// success. An untagged unit evades according to its EvasionPolicy. Migrating
// out pings random candidates, applies the phase's target constraints and
// calls Migrate with the "resume" entry point. A successful migrate ends the
// controller; the destination starts a new one.
//
// # Manager
//
// The Manager is a host's resident set. It reports ids in arrival order.
//
// # Thread Safety
//
// Unit and Manager are safe for concurrent use. A Controller is driven by
// one goroutine.
package agent

package agent

// Phase is a state of the controller's behavioral state machine.
type Phase int32

const (
	PhaseDiscovering Phase = iota
	PhaseSelecting
	PhaseChasing
	PhaseEvading
	PhaseMigratingOut
	PhaseTerminated
)

var phaseNames = [...]string{
	PhaseDiscovering:  "discovering",
	PhaseSelecting:    "selecting",
	PhaseChasing:      "chasing",
	PhaseEvading:      "evading",
	PhaseMigratingOut: "migrating-out",
	PhaseTerminated:   "terminated",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// ParsePhase maps a phase name back to its value.
func ParsePhase(s string) (Phase, bool) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), true
		}
	}
	return PhaseDiscovering, false
}

// ABOUTME: Transfer payload carried by Migrate and the closed set of resume entry points.
// ABOUTME: Entry points are resolved by switch, never by reflective lookup.

package contract

import "fmt"

// EntryPoint names a point at which a transferred unit resumes execution.
type EntryPoint string

// EntryResume restarts the unit's controller with its transferred tag state.
// It takes exactly one boolean argument.
const EntryResume EntryPoint = "resume"

// Transfer is the state sent to a destination host when a unit migrates.
type Transfer struct {
	// TransferID is unique per migration attempt so redelivery is idempotent.
	TransferID string
	UnitID     string
	Tagged     bool
	Phase      string
	EntryPoint string
	Args       []any
}

// Resume describes a resolved entry-point invocation.
type Resume struct {
	Entry  EntryPoint
	Tagged bool
}

// ResolveEntryPoint matches name and args against the known entry points.
// It returns an error wrapping ErrNoSuchEntryPoint when the name is unknown
// or the arguments do not fit its signature.
func ResolveEntryPoint(name string, args []any) (Resume, error) {
	switch EntryPoint(name) {
	case EntryResume:
		if len(args) != 1 {
			return Resume{}, fmt.Errorf("%w: %s expects 1 argument, got %d", ErrNoSuchEntryPoint, name, len(args))
		}
		tagged, ok := args[0].(bool)
		if !ok {
			return Resume{}, fmt.Errorf("%w: %s expects a bool argument, got %T", ErrNoSuchEntryPoint, name, args[0])
		}
		return Resume{Entry: EntryResume, Tagged: tagged}, nil
	default:
		return Resume{}, fmt.Errorf("%w: %q", ErrNoSuchEntryPoint, name)
	}
}

// NewResumeTransfer builds the payload for migrate(unit, "resume", [tagged]).
func NewResumeTransfer(transferID, unitID string, tagged bool, phase string) Transfer {
	return Transfer{
		TransferID: transferID,
		UnitID:     unitID,
		Tagged:     tagged,
		Phase:      phase,
		EntryPoint: string(EntryResume),
		Args:       []any{tagged},
	}
}

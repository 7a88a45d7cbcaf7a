// ABOUTME: Host and Discovery interfaces consumed by the agent controller.
// ABOUTME: Both in-process bailiffs and gRPC handles satisfy Host.

package contract

import (
	"context"
	"strings"
)

// BailiffCapability is the capability every bailiff registers under and the
// filter units use when discovering hosts.
const BailiffCapability = "gotag.v1.Bailiff"

// Host is the remote-callable surface of a bailiff.
type Host interface {
	// ID identifies the host. It is stable for the host's uptime.
	ID() string

	Ping(ctx context.Context) (string, error)
	GetProperty(ctx context.Context, key string) (string, bool, error)
	Migrate(ctx context.Context, t Transfer) error
	ListResidentIds(ctx context.Context) ([]string, error)
	IsTagged(ctx context.Context, id string) (bool, error)
	AttemptTag(ctx context.Context, id string) (bool, error)
}

// Filter selects hosts by capability and by exact property values.
// Property keys are compared case-insensitively.
type Filter struct {
	Capability string
	Properties map[string]string
}

// Matches reports whether a registration with the given capabilities and
// properties satisfies the filter.
func (f Filter) Matches(capabilities []string, properties map[string]string) bool {
	if f.Capability != "" {
		found := false
		for _, c := range capabilities {
			if c == f.Capability {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Properties) == 0 {
		return true
	}
	folded := FoldKeys(properties)
	for k, want := range f.Properties {
		if got, ok := folded[strings.ToLower(k)]; !ok || got != want {
			return false
		}
	}
	return true
}

// Discovery returns typed host handles matching a filter. An empty result
// is not an error; callers are expected to retry.
type Discovery interface {
	Query(ctx context.Context, filter Filter, maxResults int) ([]Host, error)
}

// FoldKeys returns a copy of props with every key lower-cased.
func FoldKeys(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ABOUTME: In-process Host implementation: residents, properties, migrate, tag queries.
// ABOUTME: AttemptTag is a compare-and-set on the resident's atomic state.

package bailiff

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/gotag/internal/agent"
	"github.com/2389/gotag/internal/contract"
	"github.com/2389/gotag/internal/dedupe"
)

// Launcher starts the controller of a unit that has just arrived.
type Launcher interface {
	Launch(u *agent.Unit, r contract.Resume)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(u *agent.Unit, r contract.Resume)

// Launch calls f.
func (f LauncherFunc) Launch(u *agent.Unit, r contract.Resume) { f(u, r) }

// Config configures a Service.
type Config struct {
	// ID identifies the host; a random one is generated when empty.
	ID         string
	Name       string
	Properties map[string]string

	// TransferTTL bounds how long accepted transfer ids are remembered.
	TransferTTL time.Duration

	Launcher Launcher
	Logger   *slog.Logger
}

// Service is a bailiff.
type Service struct {
	id         string
	name       string
	properties map[string]string
	residents  *agent.Manager
	transfers  *dedupe.Cache
	launcher   Launcher
	logger     *slog.Logger
}

var _ contract.Host = (*Service)(nil)

// New creates a bailiff.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}
	name := cfg.Name
	if name == "" {
		name = "bailiff-" + id[:8]
	}
	ttl := cfg.TransferTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	props := contract.FoldKeys(cfg.Properties)
	props["name"] = name
	props["host_id"] = id
	props["started_at"] = time.Now().UTC().Format(time.RFC3339)

	return &Service{
		id:         id,
		name:       name,
		properties: props,
		residents:  agent.NewManager(logger.With("component", "residents")),
		transfers:  dedupe.New(ttl, 10_000),
		launcher:   cfg.Launcher,
		logger:     logger,
	}
}

// SetLauncher installs the launcher used for arriving units.
func (s *Service) SetLauncher(l Launcher) {
	s.launcher = l
}

// ID returns the host id.
func (s *Service) ID() string {
	return s.id
}

// Name returns the host's display name.
func (s *Service) Name() string {
	return s.name
}

// Properties returns a copy of the host's properties with folded keys.
func (s *Service) Properties() map[string]string {
	out := make(map[string]string, len(s.properties))
	for k, v := range s.properties {
		out[k] = v
	}
	return out
}

// Ping confirms communication with this bailiff.
func (s *Service) Ping(ctx context.Context) (string, error) {
	return fmt.Sprintf("Ping echo from Bailiff %s (%s)", s.name, s.id), nil
}

// GetProperty returns a property by case-insensitive key.
func (s *Service) GetProperty(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.properties[strings.ToLower(key)]
	return v, ok, nil
}

// Migrate installs the transferred unit and resumes it at the requested
// entry point. The unit is listed as resident before Migrate returns.
func (s *Service) Migrate(ctx context.Context, t contract.Transfer) error {
	resume, err := contract.ResolveEntryPoint(t.EntryPoint, t.Args)
	if err != nil {
		s.logger.Warn("migration rejected", "unit_id", t.UnitID, "entry_point", t.EntryPoint, "error", err)
		return err
	}
	if t.UnitID == "" {
		return fmt.Errorf("%w: missing unit id", contract.ErrInvalidTransfer)
	}

	if t.TransferID != "" && !s.transfers.Claim(t.TransferID) {
		s.logger.Debug("duplicate transfer ignored", "transfer_id", t.TransferID, "unit_id", t.UnitID)
		return nil
	}

	u := agent.RestoreUnit(t.UnitID, resume.Tagged)
	if p, ok := agent.ParsePhase(t.Phase); ok {
		u.SetPhase(p)
	}
	s.residents.Admit(u)

	if s.launcher != nil {
		s.launcher.Launch(u, resume)
	}
	return nil
}

// ListResidentIds returns the resident ids in arrival order.
func (s *Service) ListResidentIds(ctx context.Context) ([]string, error) {
	return s.residents.IDs(), nil
}

// IsTagged reports whether a resident is "it".
func (s *Service) IsTagged(ctx context.Context, id string) (bool, error) {
	u, ok := s.residents.Get(id)
	if !ok {
		return false, &contract.UnknownAgentError{ID: id}
	}
	return u.Tagged(), nil
}

// AttemptTag tries to make a resident "it". It returns true only for the
// caller whose compare-and-set flipped the flag, and false if the resident
// is already tagged or is migrating.
func (s *Service) AttemptTag(ctx context.Context, id string) (bool, error) {
	u, ok := s.residents.Get(id)
	if !ok {
		return false, &contract.UnknownAgentError{ID: id}
	}

	if u.TryTag() {
		s.logger.Info("unit tagged", "unit_id", id)
		return true, nil
	}
	if u.Migrating() {
		s.logger.Debug("tag refused, unit is migrating", "unit_id", id)
	}
	return false, nil
}

// Depart drops u from the resident set after it migrated elsewhere. A newer
// copy admitted under the same id is left in place.
func (s *Service) Depart(u *agent.Unit) bool {
	return s.residents.Depart(u)
}

// Admit lists a unit as resident without an incoming transfer. It is used
// for units created on this host.
func (s *Service) Admit(u *agent.Unit) {
	s.residents.Admit(u)
}

// Residents returns snapshots of every resident.
func (s *Service) Residents() []agent.Snapshot {
	return s.residents.List()
}

// Close releases background resources.
func (s *Service) Close() {
	s.transfers.Close()
}

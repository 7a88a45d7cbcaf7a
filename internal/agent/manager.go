// ABOUTME: Tracks the units resident on one host, in arrival order.
// ABOUTME: Admission and departure are logged; lookups are safe for concurrent callers.

package agent

import (
	"log/slog"
	"sort"
	"sync"
)

type residentEntry struct {
	unit *Unit
	seq  uint64
}

// Manager holds the resident set of a host.
type Manager struct {
	units  map[string]*residentEntry
	next   uint64
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates an empty resident set.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		units:  make(map[string]*residentEntry),
		logger: logger,
	}
}

// Admit installs a unit as resident. A unit already listed under the same id
// is replaced and keeps its original arrival position.
func (m *Manager) Admit(u *Unit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.units[u.ID()]; ok {
		existing.unit = u
		m.logger.Warn("unit re-admitted while still resident", "unit_id", u.ID())
		return
	}

	m.next++
	m.units[u.ID()] = &residentEntry{unit: u, seq: m.next}
	m.logger.Info("=== UNIT ARRIVED ===",
		"unit_id", u.ID(),
		"tagged", u.Tagged(),
		"total_units", len(m.units),
	)
}

// Depart removes u from the resident set. Only the exact unit is removed:
// if the id has since been re-admitted as a fresh copy, that copy stays.
// It reports whether u was resident.
func (m *Manager) Depart(u *Unit) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.units[u.ID()]
	if !ok || entry.unit != u {
		return false
	}
	delete(m.units, u.ID())
	m.logger.Info("=== UNIT DEPARTED ===",
		"unit_id", u.ID(),
		"tagged", u.Tagged(),
		"total_units", len(m.units),
	)
	return true
}

// Get returns the resident unit with the given id.
func (m *Manager) Get(id string) (*Unit, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.units[id]
	if !ok {
		return nil, false
	}
	return entry.unit, true
}

// IDs returns the resident ids in arrival order.
func (m *Manager) IDs() []string {
	entries := m.sorted()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.unit.ID()
	}
	return ids
}

// List returns snapshots of all residents in arrival order.
func (m *Manager) List() []Snapshot {
	entries := m.sorted()
	out := make([]Snapshot, len(entries))
	for i, e := range entries {
		out[i] = e.unit.Snapshot()
	}
	return out
}

// Count returns the number of residents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.units)
}

// sorted copies the entries under the read lock, so callers never touch an
// entry that Admit may be replacing.
func (m *Manager) sorted() []residentEntry {
	m.mu.RLock()
	entries := make([]residentEntry, 0, len(m.units))
	for _, e := range m.units {
		entries = append(entries, *e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return entries
}

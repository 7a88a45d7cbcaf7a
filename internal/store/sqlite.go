// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides host registration persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to ":memory:" opens its own empty database.
	if inMemory {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS hosts (
			host_id           TEXT PRIMARY KEY,
			addr              TEXT NOT NULL,
			capabilities_json TEXT NOT NULL,
			properties_json   TEXT NOT NULL,
			registered_at     TEXT NOT NULL,
			renewed_at        TEXT NOT NULL,
			expires_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_hosts_expires ON hosts(expires_at);

		CREATE TABLE IF NOT EXISTS registry_events (
			event_id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_id  TEXT NOT NULL,
			kind     TEXT NOT NULL,
			addr     TEXT NOT NULL DEFAULT '',
			ts       TEXT NOT NULL,

			CHECK (kind IN ('registered', 'renewed', 'cancelled', 'expired'))
		);

		CREATE INDEX IF NOT EXISTS idx_registry_events_ts ON registry_events(ts DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

// UpsertHost inserts or replaces a registration.
func (s *SQLiteStore) UpsertHost(ctx context.Context, rec HostRecord) (bool, error) {
	capsJSON, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return false, fmt.Errorf("marshaling capabilities: %w", err)
	}
	propsJSON, err := json.Marshal(rec.Properties)
	if err != nil {
		return false, fmt.Errorf("marshaling properties: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var registeredAt string
	err = tx.QueryRowContext(ctx, `SELECT registered_at FROM hosts WHERE host_id = ?`, rec.HostID).Scan(&registeredAt)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("checking host: %w", err)
	}
	if created {
		registeredAt = formatTime(rec.RegisteredAt)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO hosts (host_id, addr, capabilities_json, properties_json, registered_at, renewed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host_id) DO UPDATE SET
			addr = excluded.addr,
			capabilities_json = excluded.capabilities_json,
			properties_json = excluded.properties_json,
			renewed_at = excluded.renewed_at,
			expires_at = excluded.expires_at
	`, rec.HostID, rec.Addr, string(capsJSON), string(propsJSON),
		registeredAt, formatTime(rec.RenewedAt), formatTime(rec.ExpiresAt))
	if err != nil {
		return false, fmt.Errorf("upserting host: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing host: %w", err)
	}
	return created, nil
}

// GetHost returns a single registration.
func (s *SQLiteStore) GetHost(ctx context.Context, hostID string) (*HostRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT host_id, addr, capabilities_json, properties_json, registered_at, renewed_at, expires_at
		FROM hosts WHERE host_id = ?
	`, hostID)

	rec, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying host: %w", err)
	}
	return rec, nil
}

// DeleteHost removes a registration.
func (s *SQLiteStore) DeleteHost(ctx context.Context, hostID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hosts WHERE host_id = ?`, hostID)
	if err != nil {
		return fmt.Errorf("deleting host: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHosts returns every registration.
func (s *SQLiteStore) ListHosts(ctx context.Context) ([]HostRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT host_id, addr, capabilities_json, properties_json, registered_at, renewed_at, expires_at
		FROM hosts ORDER BY host_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying hosts: %w", err)
	}
	defer rows.Close()

	var hosts []HostRecord
	for rows.Next() {
		rec, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning host: %w", err)
		}
		hosts = append(hosts, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hosts: %w", err)
	}
	return hosts, nil
}

// DeleteExpired removes and returns registrations whose lease has ended.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) ([]HostRecord, error) {
	hosts, err := s.ListHosts(ctx)
	if err != nil {
		return nil, err
	}

	var expired []HostRecord
	for _, h := range hosts {
		if h.ExpiresAt.After(now) {
			continue
		}
		if err := s.DeleteHost(ctx, h.HostID); err != nil && !errors.Is(err, ErrNotFound) {
			return expired, err
		}
		expired = append(expired, h)
	}
	return expired, nil
}

// AppendEvent records a registry transition.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registry_events (host_id, kind, addr, ts) VALUES (?, ?, ?, ?)
	`, ev.HostID, string(ev.Kind), ev.Addr, formatTime(at))
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events first.
func (s *SQLiteStore) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, host_id, kind, addr, ts
		FROM registry_events ORDER BY event_id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind, ts string
		if err := rows.Scan(&ev.ID, &ev.HostID, &kind, &ev.Addr, &ts); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.Kind = EventKind(kind)
		if ev.At, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing event time: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*HostRecord, error) {
	var rec HostRecord
	var capsJSON, propsJSON, registeredAt, renewedAt, expiresAt string
	if err := row.Scan(&rec.HostID, &rec.Addr, &capsJSON, &propsJSON, &registeredAt, &renewedAt, &expiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(capsJSON), &rec.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshaling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(propsJSON), &rec.Properties); err != nil {
		return nil, fmt.Errorf("unmarshaling properties: %w", err)
	}

	var err error
	if rec.RegisteredAt, err = parseTime(registeredAt); err != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", err)
	}
	if rec.RenewedAt, err = parseTime(renewedAt); err != nil {
		return nil, fmt.Errorf("parsing renewed_at: %w", err)
	}
	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	return &rec, nil
}

// Package store persists the lookup service's host registrations and the
// registry's event journal.
//
// # Tables
//
//	hosts           one row per registered bailiff: address, capabilities,
//	                properties and lease expiry
//	registry_events append-only journal of registered, renewed, cancelled
//	                and expired transitions
//
// SQLiteStore uses modernc.org/sqlite. Pass ":memory:" for a store that
// lives as long as the process, which is the lookup service's default.
//
// Timestamps are stored as RFC 3339 text in UTC; capabilities and
// properties as JSON.
package store

// Package contract defines the surface shared by hosts, units and the lookup
// service: the Host and Discovery interfaces, the transfer payload, the
// closed set of resume entry points, and the error taxonomy.
//
// # Host
//
// Every bailiff exposes the same six blocking operations:
//
//   - Ping(ctx): liveness acknowledgement, no side effect
//   - GetProperty(ctx, key): case-insensitive static property lookup
//   - Migrate(ctx, transfer): install a unit and resume it
//   - ListResidentIds(ctx): snapshot of residents in arrival order
//   - IsTagged(ctx, id): read a resident's tag flag
//   - AttemptTag(ctx, id): compare-and-set a resident's tag flag
//
// The in-process implementation lives in package bailiff; remote handles
// are provided by package rpc. Callers never need to know which one they
// hold.
//
// # Errors
//
// Three failure categories cross the host boundary:
//
//	ErrRemoteFailure      transport breakdown talking to a host
//	ErrUnknownAgent       the referenced unit is not resident there
//	ErrNoSuchEntryPoint   the resume entry point was not recognized
//
// Use errors.Is to classify; *UnknownAgentError and *RemoteError carry
// details for errors.As.
package contract

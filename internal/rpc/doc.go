// Package rpc carries the host and lookup contracts over gRPC.
//
// # Services
//
// Two services are declared with hand-written service descriptors and use
// protobuf well-known types as messages, so no generated code is needed:
//
//	gotag.v1.Bailiff  Ping, GetProperty, Migrate, ListResidentIds, IsTagged, AttemptTag
//	gotag.v1.Lookup   Register, Cancel, Query
//
// RegisterBailiff and RegisterLookup expose a contract.Host and a
// contract.Lookup on a grpc.Server. HostClient and LookupClient implement
// the same interfaces on top of a client connection.
//
// # Errors
//
// Contract errors travel as status codes:
//
//	ErrUnknownAgent      codes.NotFound
//	ErrNoSuchEntryPoint  codes.Unimplemented
//	ErrInvalidTransfer   codes.InvalidArgument
//
// On the client every other failure becomes a *contract.RemoteError, so
// callers only need errors.Is against the contract sentinels.
//
// # Connections
//
// Pool keeps one lazily connecting grpc.ClientConn per address. Discovery
// hands out HostClients built on pooled connections.
package rpc

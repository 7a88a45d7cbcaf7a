// Package server runs the long-lived processes of the game.
//
// # Bailiff server
//
// Server hosts one bailiff.Service:
//
//	gRPC  gotag.v1.Bailiff on server.grpc_addr (or the tailnet node)
//	HTTP  /health, /health/ready, /api/residents on server.http_addr
//
// On Run it registers with the lookup service through a
// discovery.Registrar and keeps the lease alive. Units that migrate in are
// handed to an agent.Controller goroutine bound to the server's lifetime;
// when a controller migrates its unit away, the unit departs this host.
//
// # Lookup server
//
// LookupServer hosts a discovery.Registry over a SQLite store:
//
//	gRPC  gotag.v1.Lookup on server.grpc_addr
//	HTTP  /health, /api/hosts, /api/events on server.http_addr
//
// # Shutdown
//
// Both servers stop when their context is canceled. The bailiff cancels its
// lease first, then drains gRPC and HTTP with a five second deadline.
package server

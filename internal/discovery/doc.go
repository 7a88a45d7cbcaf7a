// Package discovery is the host directory of the game.
//
// # Registry
//
// Registry implements contract.Lookup on top of a store.Store. Bailiffs hold
// leased registrations; a registration that is not renewed before its lease
// ends is swept on the next query or by the periodic sweeper started with
// Run. Every transition is journaled as a store event.
//
// # Registrar
//
// Registrar keeps one bailiff registered: it registers at startup, renews at
// half the granted lease, backs off on failure and cancels on shutdown.
//
// # Client
//
// Client implements contract.Discovery. It asks a contract.Lookup for
// endpoints and turns each into a contract.Host: the local bailiff when the
// endpoint is this process, otherwise an rpc.HostClient from a shared pool.
package discovery

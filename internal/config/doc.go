// Package config handles configuration loading for the bailiff and lookup
// servers.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Missing values get defaults; Load and LoadLookup validate the result.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	player:
//	  restraint: "5s"
//	  retry: "20s"
//	  idle: "2s"
//
// # Bailiff Configuration
//
//	server:
//	  grpc_addr: "0.0.0.0:7070"
//	  http_addr: "0.0.0.0:7080"
//	  advertise_addr: "10.0.0.5:7070"   # defaults to grpc_addr
//
//	bailiff:
//	  name: "kitchen"
//	  properties:
//	    room: "kitchen"
//	  transfer_ttl: "10m"
//
//	lookup:
//	  addr: "127.0.0.1:4160"
//	  lease: "30s"
//
//	player:
//	  evasion: "poll"      # poll, wander
//	  max_results: 8
//	  restraint: "5s"
//	  retry: "20s"
//	  idle: "2s"
//	  call_timeout: "10s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "bailiff-kitchen"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Lookup Configuration
//
//	server:
//	  grpc_addr: "0.0.0.0:4160"
//	  http_addr: "0.0.0.0:4180"
//
//	database:
//	  path: ":memory:"
//
//	registry:
//	  max_lease: "5m"
//	  sweep_interval: "5s"
package config

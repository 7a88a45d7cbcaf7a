// ABOUTME: Lookup service server: registry over SQLite, gRPC Lookup service and HTTP status
// ABOUTME: Sweeps expired leases in the background while serving

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/grpc"

	"github.com/2389/gotag/internal/config"
	"github.com/2389/gotag/internal/discovery"
	"github.com/2389/gotag/internal/rpc"
	"github.com/2389/gotag/internal/store"
)

// LookupServer runs the lookup service.
type LookupServer struct {
	config     *config.LookupConfig
	store      store.Store
	registry   *discovery.Registry
	grpcServer *grpc.Server
	httpServer *http.Server
	logger     *slog.Logger
}

// HostResponse is one entry of GET /api/hosts.
type HostResponse struct {
	HostID       string            `json:"host_id"`
	Addr         string            `json:"addr"`
	Capabilities []string          `json:"capabilities"`
	Properties   map[string]string `json:"properties"`
	RegisteredAt time.Time         `json:"registered_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// EventResponse is one entry of GET /api/events.
type EventResponse struct {
	HostID string    `json:"host_id"`
	Kind   string    `json:"kind"`
	Addr   string    `json:"addr,omitempty"`
	At     time.Time `json:"at"`
}

// NewLookup creates a lookup server from cfg.
func NewLookup(cfg *config.LookupConfig, logger *slog.Logger) (*LookupServer, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	registry := discovery.NewRegistry(discovery.RegistryConfig{
		Store:         s,
		MaxLease:      cfg.Registry.MaxLease,
		SweepInterval: cfg.Registry.SweepInterval,
		Logger:        logger,
	})

	ls := &LookupServer{
		config:     cfg,
		store:      s,
		registry:   registry,
		grpcServer: newGRPCServer(logger),
		logger:     logger.With("component", "lookup"),
	}
	rpc.RegisterLookup(ls.grpcServer, registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", ls.handleHealth)
	mux.HandleFunc("/api/hosts", ls.handleHosts)
	mux.HandleFunc("/api/events", ls.handleEvents)
	ls.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return ls, nil
}

// Registry returns the lookup registry.
func (ls *LookupServer) Registry() *discovery.Registry {
	return ls.registry
}

// Run listens on the configured addresses and serves until ctx is canceled.
func (ls *LookupServer) Run(ctx context.Context) error {
	grpcLn, err := net.Listen("tcp", ls.config.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listening on gRPC address: %w", err)
	}

	var httpLn net.Listener
	if ls.config.Server.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", ls.config.Server.HTTPAddr)
		if err != nil {
			_ = grpcLn.Close()
			return fmt.Errorf("listening on HTTP address: %w", err)
		}
	}

	return ls.Serve(ctx, grpcLn, httpLn)
}

// Serve runs on the given listeners until ctx is canceled. httpLn may be nil.
func (ls *LookupServer) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	ls.logger.Info("starting lookup service",
		"grpc_addr", grpcLn.Addr().String(),
		"database", ls.config.Database.Path,
		"max_lease", ls.config.Registry.MaxLease,
	)

	errCh := make(chan error, 2)
	go func() {
		if err := ls.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	if httpLn != nil {
		go func() {
			ls.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := ls.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	go func() { _ = ls.registry.Run(sweepCtx) }()

	serverErr := waitForShutdown(ctx, errCh, ls.logger)
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := ls.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the servers and closes the store.
func (ls *LookupServer) Shutdown(ctx context.Context) error {
	ls.logger.Info("shutting down lookup service")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", ls.httpServer.Shutdown(ctx))
	shutdownGRPCServer(ctx, ls.grpcServer)
	errs = appendCloseError(errs, "store close", ls.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (ls *LookupServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleHosts lists live registrations.
func (ls *LookupServer) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	hosts, err := ls.registry.Hosts(r.Context())
	if err != nil {
		ls.logger.Error("failed to list hosts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list hosts")
		return
	}

	response := make([]HostResponse, 0, len(hosts))
	for _, h := range hosts {
		response = append(response, HostResponse{
			HostID:       h.HostID,
			Addr:         h.Addr,
			Capabilities: h.Capabilities,
			Properties:   h.Properties,
			RegisteredAt: h.RegisteredAt,
			ExpiresAt:    h.ExpiresAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleEvents lists recent registry events, newest first.
func (ls *LookupServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := ls.registry.Events(r.Context(), limit)
	if err != nil {
		ls.logger.Error("failed to list events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	response := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		response = append(response, EventResponse{
			HostID: ev.HostID,
			Kind:   string(ev.Kind),
			Addr:   ev.Addr,
			At:     ev.At,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeError sends a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

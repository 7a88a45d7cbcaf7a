// ABOUTME: Bailiff host server that coordinates the gRPC and HTTP listeners
// ABOUTME: Registers with the lookup service and launches controllers for arriving units

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/gotag/internal/agent"
	"github.com/2389/gotag/internal/bailiff"
	"github.com/2389/gotag/internal/config"
	"github.com/2389/gotag/internal/contract"
	"github.com/2389/gotag/internal/discovery"
	"github.com/2389/gotag/internal/rpc"
)

// Server runs one bailiff.
type Server struct {
	config      *config.Config
	bailiff     *bailiff.Service
	pool        *rpc.Pool
	discovery   contract.Discovery
	registrar   *discovery.Registrar
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// units bounds the lifetime of launched controllers.
	units       context.Context
	cancelUnits context.CancelFunc
	wg          sync.WaitGroup
}

// Options overrides collaborators for tests.
type Options struct {
	// Lookup replaces the gRPC lookup client built from config.
	Lookup contract.Lookup
	// Discovery replaces the discovery client built from Lookup.
	Discovery contract.Discovery
}

// newGRPCServer creates a gRPC server with keepalive and request logging.
func newGRPCServer(logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(rpc.LoggingUnaryInterceptor(logger.With("component", "grpc"))),
	)
}

// New creates a bailiff server from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Server, error) {
	pool := rpc.NewPool()

	lookup := opts.Lookup
	if lookup == nil {
		cc, err := pool.Get(cfg.Lookup.Addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to lookup: %w", err)
		}
		lookup = rpc.NewLookupClient(cc)
	}

	svc := bailiff.New(bailiff.Config{
		ID:          cfg.Bailiff.ID,
		Name:        cfg.Bailiff.Name,
		Properties:  cfg.Bailiff.Properties,
		TransferTTL: cfg.Bailiff.TransferTTL,
		Logger:      logger.With("component", "bailiff"),
	})

	disc := opts.Discovery
	if disc == nil {
		disc = discovery.NewClient(lookup, pool, svc, logger)
	}

	units, cancelUnits := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		bailiff:     svc,
		pool:        pool,
		discovery:   disc,
		grpcServer:  newGRPCServer(logger),
		logger:      logger.With("component", "server"),
		units:       units,
		cancelUnits: cancelUnits,
	}
	svc.SetLauncher(bailiff.LauncherFunc(s.launch))

	s.registrar = discovery.NewRegistrar(discovery.RegistrarConfig{
		Lookup: lookup,
		Registration: contract.Registration{
			HostID:       svc.ID(),
			Addr:         cfg.Server.AdvertiseAddr,
			Capabilities: []string{contract.BailiffCapability},
			Properties:   svc.Properties(),
			Lease:        cfg.Lookup.Lease,
		},
		Logger: logger,
	})

	rpc.RegisterBailiff(s.grpcServer, svc)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/api/residents", s.handleResidents)
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Bailiff returns the hosted bailiff.
func (s *Server) Bailiff() *bailiff.Service {
	return s.bailiff
}

// launch starts the controller of a unit that just arrived.
func (s *Server) launch(u *agent.Unit, r contract.Resume) {
	ctrl := agent.NewController(agent.ControllerConfig{
		Unit:      u,
		Discovery: s.discovery,
		Home:      s.bailiff,
		Timing:    s.config.Player.Timing(),
		Evasion:   agent.EvasionPolicy(s.config.Player.Evasion),
		OnMigrated: func() {
			s.bailiff.Depart(u)
		},
		Logger: s.logger.With("component", "controller", "host_id", s.bailiff.ID()),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := ctrl.Run(s.units); err != nil && s.units.Err() == nil {
			s.logger.Warn("controller stopped", "unit_id", u.ID(), "error", err)
		}
	}()
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (s *Server) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	s.logger.Info("starting bailiff",
		"host_id", s.bailiff.ID(),
		"name", s.bailiff.Name(),
		"grpc_addr", s.config.Server.GRPCAddr,
		"http_addr", s.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (s *Server) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if s.config.Tailscale.Enabled {
		return s.setupTailscaleListeners(ctx)
	}
	return s.setupTCPListeners()
}

// Run starts the servers and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if a server fails.
func (s *Server) Run(ctx context.Context) error {
	grpcLn, httpLn, err := s.setupListeners(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, grpcLn, httpLn)
}

// Serve runs on the given listeners until ctx is canceled.
func (s *Server) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	errCh := s.startServers(grpcLn, httpLn)

	regCtx, cancelReg := context.WithCancel(ctx)
	regDone := make(chan struct{})
	go func() {
		defer close(regDone)
		_ = s.registrar.Run(regCtx)
	}()

	serverErr := waitForShutdown(ctx, errCh, s.logger)

	// Cancelling the registrar drops the lease before the listeners close.
	cancelReg()
	<-regDone

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (s *Server) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := s.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	if httpLn != nil {
		go func() {
			s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := s.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("HTTP server: %w", err)
			}
		}()
	}

	return errCh
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops controllers and servers and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down bailiff", "residents", len(s.bailiff.Residents()))

	s.cancelUnits()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	shutdownGRPCServer(ctx, s.grpcServer)

	waitGroup(ctx, &s.wg)

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "pool close", s.pool.Close())
	s.bailiff.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// ABOUTME: Shared start and stop helpers for the bailiff and lookup servers.
// ABOUTME: Waits on shutdown signals and stops gRPC servers gracefully.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/grpc"
)

// waitForShutdown waits for context cancellation or server error.
func waitForShutdown(ctx context.Context, errCh chan error, logger *slog.Logger) error {
	select {
	case <-ctx.Done():
		logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		logger.Error("server error", "error", err)
		select {
		case additionalErr := <-errCh:
			logger.Error("additional server error", "error", additionalErr)
		default:
		}
		return err
	}
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func shutdownGRPCServer(ctx context.Context, srv *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		srv.Stop()
	}
}

// waitGroup waits for wg or until ctx is done.
func waitGroup(ctx context.Context, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

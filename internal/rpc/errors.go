// ABOUTME: Maps contract errors to gRPC status codes and back.
// ABOUTME: Unclassified client-side failures become RemoteError.

package rpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/gotag/internal/contract"
)

// toStatus converts a contract error returned by a server implementation
// into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, contract.ErrUnknownAgent):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, contract.ErrNoSuchEntryPoint):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, contract.ErrInvalidTransfer):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Errorf(codes.Internal, "%v", err)
	}
}

// fromStatus converts an error returned by a host call into the contract
// taxonomy. id is the unit id the call referred to, if any.
func fromStatus(hostID, op, id string, err error) error {
	if err == nil {
		return nil
	}

	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.NotFound:
		if id != "" {
			return &contract.UnknownAgentError{ID: id}
		}
	case codes.Unimplemented:
		if op == opMigrate {
			return fmt.Errorf("%w: %s", contract.ErrNoSuchEntryPoint, st.Message())
		}
	}
	return &contract.RemoteError{HostID: hostID, Op: op, Err: err}
}

// ABOUTME: Error taxonomy for host calls: remote failure, unknown agent, no such entry point.
// ABOUTME: All three are recovered locally by the controller and never end its loop.

package contract

import (
	"errors"
	"fmt"
)

// ErrRemoteFailure classifies a transport/communication breakdown with a host.
var ErrRemoteFailure = errors.New("remote failure")

// ErrUnknownAgent classifies a reference to a unit that is not resident.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrNoSuchEntryPoint indicates the requested resume entry point or its
// argument shape is not in the closed set.
var ErrNoSuchEntryPoint = errors.New("no such entry point")

// ErrInvalidTransfer indicates a malformed transfer payload.
var ErrInvalidTransfer = errors.New("invalid transfer")

// UnknownAgentError reports that ID is not resident at the queried host.
type UnknownAgentError struct {
	ID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("no such agent in the bailiff: %s", e.ID)
}

// Is makes errors.Is(err, ErrUnknownAgent) true.
func (e *UnknownAgentError) Is(target error) bool {
	return target == ErrUnknownAgent
}

// RemoteError wraps a transport error talking to a specific host.
type RemoteError struct {
	HostID string
	Op     string
	Err    error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s on host %s: %v", e.Op, e.HostID, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRemoteFailure) true.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteFailure
}

// IsUnknownAgent reports whether err is an UnknownAgent failure.
func IsUnknownAgent(err error) bool {
	return errors.Is(err, ErrUnknownAgent)
}

package workspace

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors
var (
	// ErrWorkspaceNotFound indicates the requested workspace doesn't exist
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrInvalidConfig indicates invalid workspace configuration or arguments
	ErrInvalidConfig = errors.New("invalid workspace configuration")

	// ErrContainerFailed indicates a service or container could not be built
	ErrContainerFailed = errors.New("container operation failed")

	// ErrExecFailed indicates the engine could not run a command.
	// A command that ran and exited non-zero is not an error.
	ErrExecFailed = errors.New("command execution failed")

	// ErrReadinessTimeout indicates the database never accepted connections
	ErrReadinessTimeout = errors.New("database readiness timeout")

	// ErrWorkspaceNotReady indicates the workspace is being deleted or failed
	ErrWorkspaceNotReady = errors.New("workspace not ready")

	// ErrManagerClosed indicates the manager has been closed
	ErrManagerClosed = errors.New("manager is closed")

	// ErrNoRuntime indicates no container runtime was provided
	ErrNoRuntime = errors.New("container runtime not initialized")
)

// ReadinessError reports an exhausted readiness gate.
type ReadinessError struct {
	Attempts int
	Interval time.Duration
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("%s after %d attempts (interval %s)", ErrReadinessTimeout, e.Attempts, e.Interval)
}

func (e *ReadinessError) Unwrap() error { return ErrReadinessTimeout }

// IsNotFound returns true if the error is ErrWorkspaceNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkspaceNotFound)
}

// IsInvalid returns true if the error is ErrInvalidConfig
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsNotReady returns true if the error is ErrWorkspaceNotReady
func IsNotReady(err error) bool {
	return errors.Is(err, ErrWorkspaceNotReady)
}

// IsReadinessTimeout returns true if the database never became ready
func IsReadinessTimeout(err error) bool {
	return errors.Is(err, ErrReadinessTimeout)
}

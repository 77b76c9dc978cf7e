package task

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an operation names a task id the store does not hold.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyTerminal is returned by the store when a mutation targets a finished task.
	// Callers outside the package never see it: late events and repeated cancels are no-ops.
	ErrAlreadyTerminal = errors.New("task already in a terminal state")

	// ErrDuplicateID is returned when a task id is stored twice.
	ErrDuplicateID = errors.New("task id already in use")

	// ErrQueueFull is returned by Submit when no more tasks can be accepted.
	ErrQueueFull = errors.New("task queue is full")

	errNotRunning = errors.New("task is not running")
)

// SpawnError means the renderer could not be launched at all.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start renderer: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessError means the renderer ran and did not exit cleanly.
type ProcessError struct {
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("renderer failed: %v", e.Err)
	}
	return fmt.Sprintf("renderer exited with code %d", e.ExitCode)
}

func (e *ProcessError) Unwrap() error { return e.Err }

package task

import (
	"errors"
	"fmt"
	"image"
)

// ErrStopped is returned when the run is cancelled by a stop signal.
var ErrStopped = errors.New("task stopped")

// ErrRestartUnsupported is returned by restart_game when the device cannot
// stop and launch apps.
var ErrRestartUnsupported = errors.New("device cannot restart the game")

// StuckStateError reports that no template valid for State matched for more
// than the allowed number of consecutive cycles, or that Transition fired
// more often in a row than its max_repeats allows.
type StuckStateError struct {
	Task       string
	State      State
	Unmatched  int
	Recoveries int
	Transition string
	Repeats    int
	Frame      image.Image // last captured frame, for debugging
}

func (e *StuckStateError) Error() string {
	if e.Transition != "" {
		return fmt.Sprintf("task %s stuck in state %q: %s fired %d times in a row", e.Task, e.State, e.Transition, e.Repeats)
	}
	msg := fmt.Sprintf("task %s stuck in state %q: no template matched for %d consecutive cycles", e.Task, e.State, e.Unmatched)
	if e.Recoveries > 0 {
		msg += fmt.Sprintf(" after %d recovery attempts", e.Recoveries)
	}
	return msg
}

// RetryExhaustedError wraps the last transient device error once the retry
// budget is spent.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// ScriptError is a problem in a task script found while loading it.
type ScriptError struct {
	Path string
	Task string
	Err  error
}

func (e *ScriptError) Error() string {
	name := e.Task
	if name == "" {
		name = e.Path
	}
	return fmt.Sprintf("task script %s: %v", name, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

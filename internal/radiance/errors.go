package radiance

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by Result.Err for a run stopped on a cancellation request.
var ErrCancelled = errors.New("pipeline cancelled")

// ErrRunInProgress is returned when starting a run while another is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// StepError is a step-aware error with optional command context.
type StepError struct {
	Step       string     `json:"step"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats step failures for logs and UI.
func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Step, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Step,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

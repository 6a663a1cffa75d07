package radiance

import (
	"context"
	"sync"

	"hdri-calibrator/internal/domain"
)

// Orchestrator runs one pipeline at a time on a background goroutine and
// exposes non-blocking reads of its progress.
type Orchestrator struct {
	pipeline *Pipeline

	mu     sync.Mutex
	state  *RunState
	done   chan struct{}
	result Result
	err    error
}

// NewOrchestrator wraps p.
func NewOrchestrator(p *Pipeline) *Orchestrator {
	return &Orchestrator{pipeline: p}
}

// Run validates the bundle and starts the run asynchronously. The returned
// RunState is the one updated by the run; req.State is ignored.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*RunState, error) {
	if err := req.Bundle.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != nil && !o.state.Finished() {
		return nil, ErrRunInProgress
	}

	state := NewRunState()
	done := make(chan struct{})
	req.State = state
	o.state = state
	o.done = done
	o.result = Result{}
	o.err = nil

	go func() {
		result, err := o.pipeline.Run(ctx, req)
		o.mu.Lock()
		if o.done == done {
			o.result = result
			o.err = err
		}
		o.mu.Unlock()
		close(done)
	}()

	return state, nil
}

// RequestCancel asks the current run to stop after its current step.
// It returns false when no run is active.
func (o *Orchestrator) RequestCancel() bool {
	state := o.current()
	if state == nil || state.Finished() {
		return false
	}
	state.RequestCancel()
	return true
}

// Percent returns the current run's progress, or 0 before any run.
func (o *Orchestrator) Percent() int {
	if state := o.current(); state != nil {
		return state.Percent()
	}
	return 0
}

// StatusText returns the current run's status text.
func (o *Orchestrator) StatusText() string {
	if state := o.current(); state != nil {
		return state.StatusText()
	}
	return ""
}

// Finished reports whether the current run reached a terminal state.
func (o *Orchestrator) Finished() bool {
	if state := o.current(); state != nil {
		return state.Finished()
	}
	return false
}

// Snapshot returns the current run state, or an idle snapshot before any run.
func (o *Orchestrator) Snapshot() Snapshot {
	if state := o.current(); state != nil {
		return state.Snapshot()
	}
	return Snapshot{Status: domain.JobStatusIdle}
}

// Wait blocks until the current run ends or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (Result, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return Result{}, nil
	}

	select {
	case <-done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done != done {
		return Result{}, ErrRunInProgress
	}
	return o.result, o.err
}

func (o *Orchestrator) current() *RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

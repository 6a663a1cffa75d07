package radiance

import (
	"sync/atomic"

	"hdri-calibrator/internal/domain"
)

const (
	statusSettingUp = "Setting up..."
	statusFinished  = "Finished"
	statusCancelled = "Cancelled"
)

// CancelToken carries a cooperative cancellation request into each step.
// A request never interrupts a running command; steps check it before they start.
type CancelToken struct {
	requested atomic.Bool
}

// Cancel records a cancellation request. It is safe to call more than once.
func (t *CancelToken) Cancel() {
	t.requested.Store(true)
}

// Requested reports whether cancellation was requested.
func (t *CancelToken) Requested() bool {
	return t.requested.Load()
}

// Snapshot is a consistent copy of the run state fields.
type Snapshot struct {
	Percent         int              `json:"percent"`
	StatusText      string           `json:"statusText"`
	Finished        bool             `json:"finished"`
	CancelRequested bool             `json:"cancelRequested"`
	Status          domain.JobStatus `json:"status"`
}

// RunState is shared between the pipeline goroutine (the only writer) and
// any number of pollers. Each field is read atomically.
type RunState struct {
	percent    atomic.Int32
	statusText atomic.Value
	status     atomic.Value
	finished   atomic.Bool
	token      CancelToken
}

// NewRunState returns the state of a run that has not started any step.
func NewRunState() *RunState {
	s := &RunState{}
	s.statusText.Store(statusSettingUp)
	s.status.Store(domain.JobStatusRunning)
	return s
}

// Percent returns the last checkpoint reached, 0-100.
func (s *RunState) Percent() int {
	return int(s.percent.Load())
}

// StatusText returns the human-readable description of the current step.
func (s *RunState) StatusText() string {
	return s.statusText.Load().(string)
}

// Finished reports whether the run reached a terminal state.
func (s *RunState) Finished() bool {
	return s.finished.Load()
}

// Status returns running until the run ends, then the terminal status.
func (s *RunState) Status() domain.JobStatus {
	return s.status.Load().(domain.JobStatus)
}

// CancelRequested reports whether RequestCancel was called.
func (s *RunState) CancelRequested() bool {
	return s.token.Requested()
}

// RequestCancel asks the run to stop after the current step.
func (s *RunState) RequestCancel() {
	s.token.Cancel()
}

// Token returns the cancellation token passed into every step of this run.
func (s *RunState) Token() *CancelToken {
	return &s.token
}

// Snapshot returns all fields at once.
func (s *RunState) Snapshot() Snapshot {
	// finished is read first so a finished snapshot never carries older fields.
	finished := s.Finished()
	return Snapshot{
		Percent:         s.Percent(),
		StatusText:      s.StatusText(),
		Finished:        finished,
		CancelRequested: s.CancelRequested(),
		Status:          s.Status(),
	}
}

// advance moves percent forward; lower values are ignored so the field never decreases.
func (s *RunState) advance(percent int) bool {
	for {
		cur := s.percent.Load()
		if int32(percent) <= cur {
			return false
		}
		if s.percent.CompareAndSwap(cur, int32(percent)) {
			return true
		}
	}
}

func (s *RunState) setStatusText(text string) {
	s.statusText.Store(text)
}

func (s *RunState) finish(status domain.JobStatus, text string) {
	s.statusText.Store(text)
	s.status.Store(status)
	s.finished.Store(true)
}

package domain

// JobStatus tracks the lifecycle of one pipeline job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusFinished  JobStatus = "finished"
	JobStatusDegraded  JobStatus = "degraded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether a status ends a job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusFinished, JobStatusDegraded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ErrorPolicy names how the pipeline reacts to a failed step.
type ErrorPolicy string

const (
	// ErrorPolicyContinue logs the failure and moves on to the next step.
	ErrorPolicyContinue ErrorPolicy = "continue"
	// ErrorPolicyAbort stops the run at the first failed step.
	ErrorPolicyAbort ErrorPolicy = "abort"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	RadianceDir        string      `json:"radianceDir"`
	HDRGenDir          string      `json:"hdrgenDir"`
	DcrawEmuDir        string      `json:"dcrawEmuDir"`
	TempDir            string      `json:"tempDir"`
	ErrorsDir          string      `json:"errorsDir"`
	LogsDir            string      `json:"logsDir"`
	HistoryPath        string      `json:"historyPath"`
	ErrorPolicy        ErrorPolicy `json:"errorPolicy"`
	StepTimeoutSeconds int         `json:"stepTimeoutSeconds"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID              string    `json:"id"`
	Status          JobStatus `json:"status"`
	CancelRequested bool      `json:"cancelRequested"`
}

// Progress is a point-in-time view of a running or completed job.
type Progress struct {
	JobID      string    `json:"jobId"`
	Percent    int       `json:"percent"`
	StatusText string    `json:"statusText"`
	Finished   bool      `json:"finished"`
	Status     JobStatus `json:"status"`
}

// Package radiance runs the ten-step Radiance HDR calibration sequence.
package radiance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hdri-calibrator/internal/domain"
	"hdri-calibrator/internal/sessionlog"
)

// ArtifactCount is the number of intermediate pictures a run leaves in the temp directory.
const ArtifactCount = 10

// Request contains the bundle and execution callbacks for one run.
type Request struct {
	Bundle      domain.ParameterBundle
	Policy      domain.ErrorPolicy
	StepTimeout time.Duration // zero means no limit

	// State receives progress. A fresh RunState is used when nil.
	State *RunState

	OnStep     func(outcome StepOutcome)
	OnLog      func(log CommandLog)
	OnProgress func(snapshot Snapshot)
}

// StepOutcome is the result of one step: an artifact or a step error.
type StepOutcome struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Artifact string        `json:"artifact,omitempty"`
	Logs     []CommandLog  `json:"logs,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the step produced an error.
func (o StepOutcome) Failed() bool {
	return o.Err != nil
}

// Result summarizes a finished, cancelled or stopped run.
type Result struct {
	SessionID     string           `json:"sessionId"`
	Status        domain.JobStatus `json:"status"`
	Outcomes      []StepOutcome    `json:"outcomes"`
	FinalArtifact string           `json:"finalArtifact"`
	GlareReport   string           `json:"glareReport,omitempty"`
	Inspection    *ArtifactInfo    `json:"inspection,omitempty"`
	ErrorLogPath  string           `json:"errorLogPath"`
	OutputLogPath string           `json:"outputLogPath"`
}

// Err maps a terminal status to an error: ErrCancelled for a cancelled run and
// a summary of the failed steps for a run stopped by the abort policy.
// Finished and degraded runs return nil.
func (r Result) Err() error {
	switch r.Status {
	case domain.JobStatusCancelled:
		return ErrCancelled
	case domain.JobStatusFailed:
		return fmt.Errorf("pipeline stopped after %s failed", strings.Join(r.FailedSteps(), ", "))
	}
	return nil
}

// FailedSteps returns the names of the steps that reported an error.
func (r Result) FailedSteps() []string {
	var names []string
	for _, o := range r.Outcomes {
		if o.Failed() {
			names = append(names, o.Name)
		}
	}
	return names
}

// Pipeline invokes the Radiance tools for one bundle at a time.
type Pipeline struct {
	tools     Toolchain
	runner    commandRunner
	stat      func(name string) (os.FileInfo, error)
	remove    func(name string) error
	mkdirAll  func(path string, perm os.FileMode) error
	writeFile func(name string, data []byte, perm os.FileMode) error
	now       func() time.Time
}

// NewPipeline constructs the production pipeline with OS dependencies.
func NewPipeline(tools Toolchain) *Pipeline {
	return &Pipeline{
		tools:     tools,
		runner:    &execRunner{},
		stat:      os.Stat,
		remove:    os.Remove,
		mkdirAll:  os.MkdirAll,
		writeFile: os.WriteFile,
		now:       time.Now,
	}
}

// Tools returns the toolchain the pipeline invokes.
func (p *Pipeline) Tools() Toolchain {
	return p.tools
}

// ArtifactPath returns the path of intermediate picture n (1-based).
func ArtifactPath(tempDir string, n int) string {
	return filepath.Join(tempDir, fmt.Sprintf("output%d.hdr", n))
}

// runContext is the per-run state shared by the steps.
type runContext struct {
	req    Request
	bundle domain.ParameterBundle
	state  *RunState
	cancel *CancelToken
	log    *sessionlog.Logger
	result *Result
}

func (rc *runContext) artifact(n int) string {
	return ArtifactPath(rc.bundle.TempDir, n)
}

// Run validates the bundle and executes every step in order. The only error
// returned is a bundle validation error; step failures are reported through
// the outcomes, the session logs and the terminal status.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	state := req.State
	if state == nil {
		state = NewRunState()
	}

	bundle := req.Bundle.Clone()
	if err := bundle.Validate(); err != nil {
		state.finish(domain.JobStatusFailed, "Invalid parameters")
		return Result{Status: domain.JobStatusFailed}, err
	}

	logger := sessionlog.New(bundle.ErrorsDir, bundle.LogsDir, p.now())
	result := Result{
		SessionID:     logger.SessionID(),
		FinalArtifact: ArtifactPath(bundle.TempDir, ArtifactCount),
		ErrorLogPath:  logger.ErrorLogPath(),
		OutputLogPath: logger.OutputLogPath(),
	}
	rc := &runContext{
		req:    req,
		bundle: bundle,
		state:  state,
		cancel: state.Token(),
		log:    logger,
		result: &result,
	}

	policy := req.Policy
	if policy == "" {
		policy = domain.ErrorPolicyContinue
	}

	logger.Infof("run started: %d LDR images, policy %s", len(bundle.LDRPaths), policy)
	p.prepareTempDir(rc)
	emitProgress(req.OnProgress, state)

	degraded := false
	for i, s := range steps {
		if rc.cancel.Requested() || ctx.Err() != nil {
			logger.Infof("run cancelled before %s", s.name)
			state.finish(domain.JobStatusCancelled, statusCancelled)
			emitProgress(req.OnProgress, state)
			result.Status = domain.JobStatusCancelled
			return result, nil
		}

		state.setStatusText(s.status)
		if s.startPercent > 0 {
			state.advance(s.startPercent)
		}
		emitProgress(req.OnProgress, state)

		outcome := p.runStep(ctx, rc, i+1, s)
		result.Outcomes = append(result.Outcomes, outcome)
		emitStep(req.OnStep, outcome)

		if outcome.Failed() {
			degraded = true
			logger.Errorf("%s failed: %v", s.name, outcome.Err)
			if s.gating && policy == domain.ErrorPolicyAbort {
				state.finish(domain.JobStatusFailed, fmt.Sprintf("Stopped after %s failed", s.name))
				emitProgress(req.OnProgress, state)
				result.Status = domain.JobStatusFailed
				return result, nil
			}
		}

		state.advance(s.percent)
		emitProgress(req.OnProgress, state)
	}

	result.Status = domain.JobStatusFinished
	if degraded {
		result.Status = domain.JobStatusDegraded
		logger.Infof("run finished with failed steps: %s", strings.Join(result.FailedSteps(), ", "))
	} else {
		logger.Infof("run finished")
	}
	state.finish(result.Status, statusFinished)
	emitProgress(req.OnProgress, state)
	return result, nil
}

// prepareTempDir creates the temp directory and removes artifacts left by a previous run.
func (p *Pipeline) prepareTempDir(rc *runContext) {
	if err := p.mkdirAll(rc.bundle.TempDir, 0o755); err != nil {
		rc.log.Errorf("cannot create temp directory %s: %v", rc.bundle.TempDir, err)
	}
	for n := 1; n <= ArtifactCount; n++ {
		path := rc.artifact(n)
		if err := p.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			rc.log.Errorf("cannot remove stale artifact %s: %v", path, err)
		}
	}
}

// runStep executes one step under the optional per-step timeout and makes
// sure its artifact exists afterwards.
func (p *Pipeline) runStep(ctx context.Context, rc *runContext, index int, s step) StepOutcome {
	outcome := StepOutcome{Index: index, Name: s.name}
	if s.artifact > 0 {
		outcome.Artifact = rc.artifact(s.artifact)
	}

	stepCtx := ctx
	if rc.req.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, rc.req.StepTimeout)
		defer cancel()
	}

	started := p.now()
	logs, err := s.run(p, stepCtx, rc)
	outcome.Duration = p.now().Sub(started)
	outcome.Logs = logs

	if err != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		err = &StepError{
			Step:    s.name,
			Message: fmt.Sprintf("timed out after %s", rc.req.StepTimeout),
			Err:     err,
		}
	}

	if s.artifact > 0 {
		if missing := p.ensureArtifact(rc, outcome.Artifact); missing != nil && err == nil {
			err = &StepError{
				Step:    s.name,
				Message: "output artifact is missing or empty",
				Err:     missing,
			}
		}
	}

	outcome.Err = err
	return outcome
}

// ensureArtifact leaves a file at path so the ten artifacts always exist.
// It returns an error when the step did not produce a usable file.
func (p *Pipeline) ensureArtifact(rc *runContext, path string) error {
	info, err := p.stat(path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err == nil {
		rc.log.Errorf("artifact %s is empty", path)
		return fmt.Errorf("empty artifact %s", path)
	}

	rc.log.Errorf("artifact %s is missing: %v", path, err)
	if werr := p.writeFile(path, nil, 0o644); werr != nil {
		rc.log.Errorf("cannot create placeholder %s: %v", path, werr)
	}
	return err
}

// execute runs one invocation and converts the outcome to a CommandLog.
func (p *Pipeline) execute(ctx context.Context, inv Invocation) (CommandLog, error) {
	started := p.now()
	res, err := p.runner.Run(ctx, inv)
	log := CommandLog{
		Command:  inv.Name,
		Args:     inv.Args,
		Stdin:    inv.Stdin,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: p.now().Sub(started),
	}
	return log, err
}

// command runs one step invocation, records it in the output log and wraps failures.
func (p *Pipeline) command(ctx context.Context, rc *runContext, stepName, message string, inv Invocation) (CommandLog, error) {
	log, err := p.execute(ctx, inv)
	emitLog(rc.req.OnLog, log)

	rc.log.Infof("%s: %s %s (exit %d)", stepName, inv.Name, strings.Join(inv.Args, " "), log.ExitCode)
	if stderr := strings.TrimSpace(log.Stderr); stderr != "" {
		rc.log.Infof("%s stderr: %s", stepName, stderr)
	}

	if err != nil {
		return log, &StepError{
			Step:       stepName,
			Message:    message,
			CommandLog: log,
			Err:        err,
		}
	}
	return log, nil
}

// emitStep forwards step outcomes when callback is configured.
func emitStep(cb func(outcome StepOutcome), outcome StepOutcome) {
	if cb != nil {
		cb(outcome)
	}
}

// emitLog forwards command logs when callback is configured.
func emitLog(cb func(log CommandLog), log CommandLog) {
	if cb != nil {
		cb(log)
	}
}

// emitProgress forwards run state snapshots when callback is configured.
func emitProgress(cb func(snapshot Snapshot), state *RunState) {
	if cb != nil {
		cb(state.Snapshot())
	}
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	tools Toolchain,
	runner commandRunner,
	now func() time.Time,
) *Pipeline {
	p := NewPipeline(tools)
	if runner != nil {
		p.runner = runner
	}
	if now != nil {
		p.now = now
	}
	return p
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"hdri-calibrator/internal/calibration"
	"hdri-calibrator/internal/config"
	"hdri-calibrator/internal/diagnostics"
	"hdri-calibrator/internal/domain"
	"hdri-calibrator/internal/history"
	"hdri-calibrator/internal/jobs"
	"hdri-calibrator/internal/radiance"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var ldrDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "LDR images",
		Pattern:     "*.jpg;*.jpeg;*.JPG;*.JPEG;*.tif;*.tiff;*.cr2;*.CR2;*.nef;*.NEF;*.arw;*.ARW;*.dng;*.DNG",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var calibrationDialogFilters = map[calibration.Kind][]wailsruntime.FileFilter{
	calibration.KindResponse: {
		{DisplayName: "Camera response function", Pattern: "*.rsp"},
		{DisplayName: "All files", Pattern: "*"},
	},
	calibration.KindVignetting: {
		{DisplayName: "Radiance calibration", Pattern: "*.cal"},
		{DisplayName: "All files", Pattern: "*"},
	},
}

// App wires configuration, jobs, pipeline, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Catalog     *config.Catalog
	History     runHistory
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	newPipeline func(settings domain.Settings) pipelineRunner
	launch      func(name string, args ...string) error

	mu          sync.Mutex
	activeJobID string
	stateJobID  string
	state       *radiance.RunState
	cancel      context.CancelFunc
	events      *jobs.EventBus
	runtimeCtx  context.Context
	closed      bool
	runs        sync.WaitGroup
}

// ErrShuttingDown is returned when a pipeline is started after Shutdown.
var ErrShuttingDown = errors.New("application is shutting down")

// pipelineRunner isolates the Radiance pipeline behind an interface.
type pipelineRunner interface {
	Run(ctx context.Context, req radiance.Request) (radiance.Result, error)
	LuminanceMap(ctx context.Context, input, output string, opts radiance.LuminanceOptions) (radiance.CommandLog, error)
}

// runHistory is the subset of the history store the app writes and reads.
type runHistory interface {
	RecordRun(ctx context.Context, r history.Run) error
	RecordStep(ctx context.Context, s history.Step) error
	ListRuns(ctx context.Context, limit int) ([]history.Run, error)
	StepsForRun(ctx context.Context, runID string) ([]history.Step, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	store := config.NewJSONStore(config.SettingsPath())
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if err := prependToPATH(settings.RadianceDir); err != nil {
		return nil, fmt.Errorf("prepare radiance tool path: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	app := &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Catalog:     config.NewCatalog(config.ConfigurationsDir()),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		newPipeline: newRadiancePipeline,
		launch:      startDetached,
		events:      jobs.NewEventBus(1000),
	}

	if settings.HistoryPath != "" {
		hist, err := history.Open(settings.HistoryPath)
		if err != nil {
			log.Printf("run history disabled: %v", err)
		} else {
			app.History = hist
		}
	}
	return app, nil
}

func newRadiancePipeline(settings domain.Settings) pipelineRunner {
	return radiance.NewPipeline(toolchain(settings))
}

func toolchain(settings domain.Settings) radiance.Toolchain {
	return radiance.Toolchain{
		RadianceDir: settings.RadianceDir,
		HDRGenDir:   settings.HDRGenDir,
		DcrawEmuDir: settings.DcrawEmuDir,
	}
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "HDRI Calibrator",
		Width:       1180,
		Height:      820,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops a running pipeline, waits for its history rows and closes
// the history database.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	a.closed = true
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.runs.Wait()
	if closer, ok := a.History.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Printf("close run history: %v", err)
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	if err := prependToPATH(normalized.RadianceDir); err != nil {
		return domain.Settings{}, fmt.Errorf("prepare radiance tool path: %w", err)
	}

	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// PickLDRImages opens a native multi-file dialog for the bracketed exposures.
func (a *App) PickLDRImages() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select LDR images",
		Filters: ldrDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	selected := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			selected = append(selected, p)
		}
	}
	return selected, nil
}

// PickCalibrationFile opens a file dialog for one calibration kind and
// validates the chosen file before returning it.
func (a *App) PickCalibrationFile(kind string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	k := calibration.Kind(kind)
	filters, ok := calibrationDialogFilters[k]
	if !ok {
		filters = calibrationDialogFilters[calibration.KindVignetting]
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select " + strings.ReplaceAll(kind, "_", " ") + " file",
		Filters: filters,
	})
	if err != nil {
		return "", err
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if err := calibration.Validate(k, path); err != nil {
		return "", err
	}
	return path, nil
}

// PickDirectory opens a native directory picker.
func (a *App) PickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(title) == "" {
		title = "Select directory"
	}
	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: title,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// DescribeResponseFile validates a camera response file and renders its
// three polynomials for display.
func (a *App) DescribeResponseFile(path string) ([]string, error) {
	curves, err := calibration.ValidateResponse(path)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(curves))
	for i, c := range curves {
		lines = append(lines, fmt.Sprintf("%s: %s", []string{"R", "G", "B"}[i], calibration.FormatPolynomial(c)))
	}
	return lines, nil
}

// OpenOutputFolder opens the given path (or configured temp dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.TempDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// StartPipeline validates the bundle, creates a job and runs the pipeline asynchronously.
func (a *App) StartPipeline(bundle domain.ParameterBundle) (domain.Job, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}

	bundle = withSettingsDirs(bundle, settings)
	if err := bundle.Validate(); err != nil {
		return domain.Job{}, err
	}
	if err := calibration.ValidateBundle(bundle); err != nil {
		return domain.Job{}, err
	}

	jobID := uuid.NewString()
	state := radiance.NewRunState()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return domain.Job{}, ErrShuttingDown
	}
	// A run whose state already reports finished may still be writing its
	// result; it no longer holds the job slot.
	if a.state != nil && a.state.Finished() {
		_ = a.Jobs.TransitionJob(a.stateJobID, a.state.Status())
	}
	if err := a.Jobs.Start(jobID); err != nil {
		a.mu.Unlock()
		return domain.Job{}, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.activeJobID = jobID
	a.stateJobID = jobID
	a.state = state
	a.cancel = cancel
	a.Settings = settings
	a.runs.Add(1)
	a.mu.Unlock()

	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeStatus,
		Status:     domain.JobStatusRunning,
		StatusText: state.StatusText(),
		Message:    "Pipeline started",
	})

	go a.runPipelineJob(ctx, cancel, jobID, bundle, settings, state)
	return a.Jobs.Current(), nil
}

// CancelPipeline asks the running pipeline to stop before its next step.
func (a *App) CancelPipeline() error {
	a.mu.Lock()
	state := a.state
	activeJobID := a.activeJobID
	a.mu.Unlock()

	if activeJobID == "" || state == nil || state.Finished() {
		return jobs.ErrNoRunningJob
	}

	state.RequestCancel()
	if err := a.Jobs.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		return err
	}

	a.publishEvent(jobs.Event{
		JobID:   activeJobID,
		Type:    jobs.EventTypeStatus,
		Status:  domain.JobStatusRunning,
		Message: "Cancellation requested",
	})
	return nil
}

// Progress returns the percent, status text and finished flag of the latest run.
func (a *App) Progress() domain.Progress {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	job := a.Jobs.Current()
	if state == nil {
		return domain.Progress{JobID: job.ID, Status: domain.JobStatusIdle}
	}

	snap := state.Snapshot()
	return domain.Progress{
		JobID:      job.ID,
		Percent:    snap.Percent,
		StatusText: snap.StatusText,
		Finished:   snap.Finished,
		Status:     snap.Status,
	}
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// ListConfigurations returns the saved calibration configurations.
func (a *App) ListConfigurations() ([]domain.SavedConfiguration, error) {
	return a.Catalog.List()
}

// SaveConfiguration validates the calibration files and stores them under cfg.Name.
func (a *App) SaveConfiguration(cfg domain.SavedConfiguration) (domain.SavedConfiguration, error) {
	probe := cfg.Apply(domain.ParameterBundle{})
	if err := calibration.ValidateBundle(probe); err != nil {
		return domain.SavedConfiguration{}, err
	}
	return a.Catalog.Save(cfg)
}

// DeleteConfiguration removes a saved configuration.
func (a *App) DeleteConfiguration(name string) error {
	return a.Catalog.Delete(name)
}

// ApplyConfiguration copies a saved configuration onto bundle.
func (a *App) ApplyConfiguration(name string, bundle domain.ParameterBundle) (domain.ParameterBundle, error) {
	cfg, err := a.Catalog.Get(name)
	if err != nil {
		return domain.ParameterBundle{}, err
	}
	return cfg.Apply(bundle), nil
}

// ListRuns returns the most recent recorded runs.
func (a *App) ListRuns(limit int) ([]history.Run, error) {
	if a.History == nil {
		return nil, nil
	}
	return a.History.ListRuns(context.Background(), limit)
}

// RunSteps returns the recorded steps of one run.
func (a *App) RunSteps(runID string) ([]history.Step, error) {
	if a.History == nil {
		return nil, nil
	}
	return a.History.StepsForRun(context.Background(), runID)
}

// ReadPictureHeader returns the text header lines of a Radiance picture.
func (a *App) ReadPictureHeader(path string) ([]string, error) {
	header, err := radiance.ReadHeader(path)
	if err != nil {
		return nil, err
	}
	return header.Lines, nil
}

// GenerateLuminanceMap renders a falsecolor luminance map of input next to it.
func (a *App) GenerateLuminanceMap(input string, opts radiance.LuminanceOptions) (string, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	output := strings.TrimSuffix(input, filepath.Ext(input)) + "_falsecolor.hdr"
	commandLog, err := a.newPipeline(settings).LuminanceMap(context.Background(), input, output, opts)
	if err != nil {
		return "", err
	}

	a.publishEvent(jobs.Event{
		Type:     jobs.EventTypeLog,
		Message:  "Luminance map written",
		Command:  commandLog.Command,
		Args:     commandLog.Args,
		ExitCode: commandLog.ExitCode,
		Stderr:   commandLog.Stderr,
		Artifact: output,
	})
	return output, nil
}

// DisplayPicture opens an HDR picture in the Radiance ximage viewer.
func (a *App) DisplayPicture(path string) error {
	path = strings.TrimSpace(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("resolve picture: %w", err)
	}

	settings, err := a.Store.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	name, args := toolchain(settings).ViewerCommand(path)
	launch := a.launch
	if launch == nil {
		launch = startDetached
	}
	if err := launch(name, args...); err != nil {
		return fmt.Errorf("launch viewer: %w", err)
	}

	a.publishEvent(jobs.Event{
		Type:     jobs.EventTypeLog,
		Message:  "Viewer opened",
		Command:  name,
		Args:     args,
		Artifact: path,
	})
	return nil
}

// runPipelineJob executes the pipeline and maps outcomes to job events and history rows.
func (a *App) runPipelineJob(ctx context.Context, cancel context.CancelFunc, jobID string, bundle domain.ParameterBundle, settings domain.Settings, state *radiance.RunState) {
	defer a.runs.Done()
	defer cancel()
	defer a.clearActiveJob(jobID)

	run := history.Run{
		ID:          jobID,
		StartedAt:   time.Now(),
		Status:      string(domain.JobStatusRunning),
		StatusText:  state.StatusText(),
		LDRCount:    len(bundle.LDRPaths),
		ErrorPolicy: string(settings.ErrorPolicy),
		TempDir:     bundle.TempDir,
	}
	a.recordRun(ctx, run)

	req := radiance.Request{
		Bundle:      bundle,
		Policy:      settings.ErrorPolicy,
		StepTimeout: time.Duration(settings.StepTimeoutSeconds) * time.Second,
		State:       state,
		OnProgress: func(snap radiance.Snapshot) {
			a.publishEvent(jobs.Event{
				JobID:      jobID,
				Type:       jobs.EventTypeStatus,
				Status:     snap.Status,
				Percent:    snap.Percent,
				StatusText: snap.StatusText,
			})
		},
		OnStep: func(outcome radiance.StepOutcome) {
			a.publishStep(jobID, outcome)
			a.recordStep(ctx, jobID, outcome)
		},
		OnLog: func(commandLog radiance.CommandLog) {
			a.publishEvent(jobs.Event{
				JobID:    jobID,
				Type:     jobs.EventTypeLog,
				Message:  "Command completed",
				Command:  commandLog.Command,
				Args:     commandLog.Args,
				ExitCode: commandLog.ExitCode,
				Stdout:   commandLog.Stdout,
				Stderr:   commandLog.Stderr,
			})
		},
	}

	result, err := a.newPipeline(settings).Run(ctx, req)
	run.FinishedAt = time.Now()
	run.Percent = state.Percent()
	run.StatusText = state.StatusText()
	if err != nil {
		a.publishEvent(jobs.Event{
			JobID:   jobID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: err.Error(),
		})
		run.Status = string(domain.JobStatusFailed)
		a.recordRun(ctx, run)
		_ = a.Jobs.TransitionJob(jobID, domain.JobStatusFailed)
		return
	}

	a.publishEvent(jobs.Event{
		JobID:      jobID,
		Type:       jobs.EventTypeResult,
		Status:     result.Status,
		Percent:    state.Percent(),
		StatusText: state.StatusText(),
		Message:    resultMessage(result),
		Artifact:   result.FinalArtifact,
		SessionID:  result.SessionID,
	})

	run.SessionID = result.SessionID
	run.Status = string(result.Status)
	run.FinalArtifact = result.FinalArtifact
	run.ErrorLogPath = result.ErrorLogPath
	run.OutputLogPath = result.OutputLogPath
	run.GlareReport = result.GlareReport
	a.recordRun(ctx, run)

	// Usually a no-op: StartPipeline may already have released the slot
	// once the run state finished.
	_ = a.Jobs.TransitionJob(jobID, result.Status)
}

// publishStep sends one step outcome, including the failed command when present.
func (a *App) publishStep(jobID string, outcome radiance.StepOutcome) {
	event := jobs.Event{
		JobID:    jobID,
		Type:     jobs.EventTypeStep,
		Status:   domain.JobStatusRunning,
		Step:     outcome.Name,
		Artifact: outcome.Artifact,
		Message:  "Step completed",
	}
	if outcome.Failed() {
		event.Type = jobs.EventTypeError
		event.Message = outcome.Err.Error()

		var stepErr *radiance.StepError
		if errors.As(outcome.Err, &stepErr) && stepErr.CommandLog.Command != "" {
			event.Command = stepErr.CommandLog.Command
			event.Args = stepErr.CommandLog.Args
			event.ExitCode = stepErr.CommandLog.ExitCode
			event.Stderr = stepErr.CommandLog.Stderr
		}
	}
	a.publishEvent(event)
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

func (a *App) recordRun(ctx context.Context, run history.Run) {
	if a.History == nil {
		return
	}
	if err := a.History.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		log.Printf("record run %s: %v", run.ID, err)
	}
}

func (a *App) recordStep(ctx context.Context, jobID string, outcome radiance.StepOutcome) {
	if a.History == nil {
		return
	}

	st := history.Step{
		RunID:    jobID,
		Index:    outcome.Index,
		Name:     outcome.Name,
		Failed:   outcome.Failed(),
		Duration: outcome.Duration,
		Artifact: outcome.Artifact,
	}
	if n := len(outcome.Logs); n > 0 {
		last := outcome.Logs[n-1]
		st.Command = formatCommand(last.Command, last.Args)
		st.ExitCode = last.ExitCode
	}
	if outcome.Err != nil {
		st.Message = outcome.Err.Error()
	}
	if err := a.History.RecordStep(context.WithoutCancel(ctx), st); err != nil {
		log.Printf("record step %s/%s: %v", jobID, outcome.Name, err)
	}
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		a.cancel = nil
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

func resultMessage(result radiance.Result) string {
	switch result.Status {
	case domain.JobStatusFinished:
		return "Calibrated HDR image written"
	case domain.JobStatusDegraded:
		return "Finished with failed steps: " + strings.Join(result.FailedSteps(), ", ")
	case domain.JobStatusCancelled:
		return "Pipeline cancelled"
	default:
		return "Pipeline stopped after failed steps: " + strings.Join(result.FailedSteps(), ", ")
	}
}

// withSettingsDirs fills the bundle's working directories from settings.
func withSettingsDirs(b domain.ParameterBundle, settings domain.Settings) domain.ParameterBundle {
	if strings.TrimSpace(b.TempDir) == "" {
		b.TempDir = settings.TempDir
	}
	if strings.TrimSpace(b.ErrorsDir) == "" {
		b.ErrorsDir = settings.ErrorsDir
	}
	if strings.TrimSpace(b.LogsDir) == "" {
		b.LogsDir = settings.LogsDir
	}
	return b
}

// normalizeSettings trims user inputs and applies the default error policy.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.RadianceDir = strings.TrimSpace(settings.RadianceDir)
	settings.HDRGenDir = strings.TrimSpace(settings.HDRGenDir)
	settings.DcrawEmuDir = strings.TrimSpace(settings.DcrawEmuDir)
	settings.TempDir = strings.TrimSpace(settings.TempDir)
	settings.ErrorsDir = strings.TrimSpace(settings.ErrorsDir)
	settings.LogsDir = strings.TrimSpace(settings.LogsDir)
	settings.HistoryPath = strings.TrimSpace(settings.HistoryPath)
	if settings.ErrorPolicy != domain.ErrorPolicyAbort {
		settings.ErrorPolicy = domain.ErrorPolicyContinue
	}
	if settings.StepTimeoutSeconds < 0 {
		settings.StepTimeoutSeconds = 0
	}
	return settings
}

// startDetached starts a GUI program and reaps it in the background.
func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}

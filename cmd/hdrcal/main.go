package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"hdri-calibrator/internal/calibration"
	"hdri-calibrator/internal/config"
	"hdri-calibrator/internal/diagnostics"
	"hdri-calibrator/internal/domain"
	"hdri-calibrator/internal/history"
	"hdri-calibrator/internal/radiance"
)

const version = "0.3.0"

func main() {
	flag.Usage = func() { printUsage(os.Stdout) }
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "run":
		err = handleRun(args, os.Stdout)
	case "validate":
		err = handleValidate(args, os.Stdout)
	case "header":
		err = handleHeader(args, os.Stdout)
	case "falsecolor":
		err = handleFalsecolor(args, os.Stdout)
	case "history":
		err = handleHistory(args, os.Stdout)
	case "doctor":
		err = handleDoctor(args, os.Stdout)
	case "version":
		fmt.Printf("hdrcal version %s\n", version)
	case "help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `hdrcal - Radiance HDR calibration pipeline

Usage: hdrcal <command> [options]

Commands:
  run         Run the calibration pipeline for a session file
  validate    Check a session file or calibration files
  header      Print the header of a Radiance picture
  falsecolor  Render a luminance map of a Radiance picture
  history     List recorded runs or the steps of one run
  doctor      Check that the tools and directories are usable
  version     Show hdrcal version
  help        Show this help message

Common Flags:
  --settings <file>    Settings file (default: ~/.hdri-calibrator/settings.json)

Examples:
  hdrcal run --session office.yaml
  hdrcal run --session office.yaml --policy abort --timeout 120
  hdrcal validate --kind vignetting v_correction.cal
  hdrcal header --key VIEW /tmp/hdr/output10.hdr
  hdrcal falsecolor -i output10.hdr -o luminance.hdr --limit 5000`)
}

func loadSettings(path string) (domain.Settings, error) {
	settings, err := config.NewJSONStore(path).Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// loadBundle reads a session file and merges settings and its saved configuration.
func loadBundle(sessionPath string, settings domain.Settings) (config.Session, domain.ParameterBundle, error) {
	session, err := config.LoadSession(sessionPath)
	if err != nil {
		return config.Session{}, domain.ParameterBundle{}, err
	}

	var saved *domain.SavedConfiguration
	if session.Configuration != "" {
		cfg, err := config.NewCatalog(config.ConfigurationsDir()).Get(session.Configuration)
		if err != nil {
			return config.Session{}, domain.ParameterBundle{}, err
		}
		saved = &cfg
	}
	return session, session.Bundle(settings, saved), nil
}

func toolchain(settings domain.Settings) radiance.Toolchain {
	return radiance.Toolchain{
		RadianceDir: settings.RadianceDir,
		HDRGenDir:   settings.HDRGenDir,
		DcrawEmuDir: settings.DcrawEmuDir,
	}
}

func handleRun(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	settingsPath := fs.String("settings", config.SettingsPath(), "Settings file")
	sessionPath := fs.String("session", "", "Session YAML file (required)")
	policy := fs.String("policy", "", "Error policy override: continue or abort")
	timeout := fs.Int("timeout", -1, "Per-step timeout in seconds, 0 for none")
	filter := fs.Bool("filter", false, "Drop JPEG exposures that add nothing to the merge")
	fs.Parse(args)

	if *sessionPath == "" {
		fs.Usage()
		return errors.New("--session is required")
	}

	settings, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}
	session, bundle, err := loadBundle(*sessionPath, settings)
	if err != nil {
		return err
	}
	if *filter {
		bundle.FilterImages = true
	}
	if err := calibration.ValidateBundle(bundle); err != nil {
		return err
	}

	req := radiance.Request{
		Bundle:      bundle,
		Policy:      resolvePolicy(*policy, session.ErrorPolicy, settings.ErrorPolicy),
		StepTimeout: resolveTimeout(*timeout, session.StepTimeout(), settings.StepTimeoutSeconds),
		OnStep: func(outcome radiance.StepOutcome) {
			if outcome.Failed() {
				fmt.Fprintf(w, "  %-12s FAILED  %v\n", outcome.Name, outcome.Err)
				return
			}
			fmt.Fprintf(w, "  %-12s ok      %s\n", outcome.Name, outcome.Duration.Round(time.Millisecond))
		},
	}

	orchestrator := radiance.NewOrchestrator(radiance.NewPipeline(toolchain(settings)))
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	startedAt := time.Now()
	state, err := orchestrator.Run(ctx, req)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	runDone := make(chan struct{})
	defer close(runDone)
	go forwardInterrupts(signals, runDone, w, orchestrator.RequestCancel, stop)

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		reportProgress(ctx, w, state)
	}()
	result, err := orchestrator.Wait(context.Background())
	if err != nil {
		return err
	}
	<-progressDone

	printResult(w, result, state)
	recordHistory(settings, bundle, req.Policy, startedAt, result, state)

	return result.Err()
}

// forwardInterrupts turns the first signal into a cancel request between
// steps and the second into a hard stop of the running tool. It returns once
// done is closed.
func forwardInterrupts(signals <-chan os.Signal, done <-chan struct{}, w io.Writer, requestCancel func() bool, stop func()) {
	select {
	case <-signals:
	case <-done:
		return
	}
	fmt.Fprintln(w, "Cancelling after the current step...")
	requestCancel()

	select {
	case <-signals:
		stop()
	case <-done:
	}
}

func resolvePolicy(flagValue string, session, settings domain.ErrorPolicy) domain.ErrorPolicy {
	for _, p := range []domain.ErrorPolicy{domain.ErrorPolicy(flagValue), session, settings} {
		if p == domain.ErrorPolicyAbort || p == domain.ErrorPolicyContinue {
			return p
		}
	}
	return domain.ErrorPolicyContinue
}

func resolveTimeout(flagSeconds int, session time.Duration, settingsSeconds int) time.Duration {
	switch {
	case flagSeconds >= 0:
		return time.Duration(flagSeconds) * time.Second
	case session > 0:
		return session
	default:
		return time.Duration(settingsSeconds) * time.Second
	}
}

// reportProgress prints each status text change until the run finishes.
func reportProgress(ctx context.Context, w io.Writer, state *radiance.RunState) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	last := ""
	for {
		snap := state.Snapshot()
		if snap.StatusText != last {
			fmt.Fprintf(w, "[%3d%%] %s\n", snap.Percent, snap.StatusText)
			last = snap.StatusText
		}
		if snap.Finished {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printResult(w io.Writer, result radiance.Result, state *radiance.RunState) {
	fmt.Fprintf(w, "\nStatus:     %s (%d%%)\n", result.Status, state.Percent())
	if result.FinalArtifact != "" {
		fmt.Fprintf(w, "Output:     %s\n", result.FinalArtifact)
	}
	if failed := result.FailedSteps(); len(failed) > 0 {
		fmt.Fprintf(w, "Failed:     %s\n", strings.Join(failed, ", "))
	}
	if info := result.Inspection; info != nil {
		fmt.Fprintf(w, "Picture:    %dx%d", info.Width, info.Height)
		if info.HasView {
			fmt.Fprintf(w, " view %gx%g", info.View.Vertical, info.View.Horizontal)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Error log:  %s\n", result.ErrorLogPath)
	fmt.Fprintf(w, "Output log: %s\n", result.OutputLogPath)
	if result.GlareReport != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(result.GlareReport))
	}
}

func recordHistory(settings domain.Settings, bundle domain.ParameterBundle, policy domain.ErrorPolicy, startedAt time.Time, result radiance.Result, state *radiance.RunState) {
	if settings.HistoryPath == "" {
		return
	}
	store, err := history.Open(settings.HistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run history unavailable: %v\n", err)
		return
	}
	defer store.Close()

	ctx := context.Background()
	run := history.Run{
		ID:            uuid.NewString(),
		SessionID:     result.SessionID,
		StartedAt:     startedAt,
		FinishedAt:    time.Now(),
		Status:        string(result.Status),
		Percent:       state.Percent(),
		StatusText:    state.StatusText(),
		LDRCount:      len(bundle.LDRPaths),
		ErrorPolicy:   string(policy),
		TempDir:       bundle.TempDir,
		FinalArtifact: result.FinalArtifact,
		ErrorLogPath:  result.ErrorLogPath,
		OutputLogPath: result.OutputLogPath,
		GlareReport:   result.GlareReport,
	}
	if err := store.RecordRun(ctx, run); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return
	}
	for _, outcome := range result.Outcomes {
		st := history.Step{
			RunID:    run.ID,
			Index:    outcome.Index,
			Name:     outcome.Name,
			Failed:   outcome.Failed(),
			Duration: outcome.Duration,
			Artifact: outcome.Artifact,
		}
		if n := len(outcome.Logs); n > 0 {
			last := outcome.Logs[n-1]
			st.Command = strings.TrimSpace(last.Command + " " + strings.Join(last.Args, " "))
			st.ExitCode = last.ExitCode
		}
		if outcome.Err != nil {
			st.Message = outcome.Err.Error()
		}
		if err := store.RecordStep(ctx, st); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}
}

func handleValidate(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	settingsPath := fs.String("settings", config.SettingsPath(), "Settings file")
	sessionPath := fs.String("session", "", "Session YAML file to check")
	kind := fs.String("kind", "", "Calibration kind of the given files: response, vignetting, fisheye, nd_filter, calibration_factor")
	fs.Parse(args)

	if *sessionPath != "" {
		settings, err := loadSettings(*settingsPath)
		if err != nil {
			return err
		}
		_, bundle, err := loadBundle(*sessionPath, settings)
		if err != nil {
			return err
		}
		if err := bundle.Validate(); err != nil {
			return err
		}
		if err := calibration.ValidateBundle(bundle); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: ok (%d LDR images)\n", *sessionPath, len(bundle.LDRPaths))
		return nil
	}

	if *kind == "" || fs.NArg() == 0 {
		fs.Usage()
		return errors.New("either --session or --kind with files is required")
	}

	var failed bool
	for _, path := range fs.Args() {
		k := calibration.Kind(*kind)
		if k == calibration.KindResponse {
			curves, err := calibration.ValidateResponse(path)
			if err != nil {
				fmt.Fprintf(w, "%s: %v\n", path, err)
				failed = true
				continue
			}
			fmt.Fprintf(w, "%s: ok\n", path)
			for i, c := range curves {
				fmt.Fprintf(w, "  %s: %s\n", []string{"R", "G", "B"}[i], calibration.FormatPolynomial(c))
			}
			continue
		}
		if err := calibration.Validate(k, path); err != nil {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Fprintf(w, "%s: ok\n", path)
	}
	if failed {
		return calibration.ErrInvalidFormat
	}
	return nil
}

func handleHeader(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("header", flag.ExitOnError)
	key := fs.String("key", "", "Print only the value of this header key (e.g. VIEW, EXPOSURE)")
	inspect := fs.Bool("inspect", false, "Also decode the picture resolution")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one picture is required")
	}
	path := fs.Arg(0)

	if *key != "" {
		value, err := radiance.HeaderValue(path, *key)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, value)
		return nil
	}

	header, err := radiance.ReadHeader(path)
	if err != nil {
		return err
	}
	for _, line := range header.Lines {
		fmt.Fprintln(w, line)
	}
	if *inspect {
		info, err := radiance.InspectArtifact(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nresolution: %dx%d\n", info.Width, info.Height)
	}
	return nil
}

func handleFalsecolor(args []string, w io.Writer) error {
	defaults := radiance.DefaultLuminanceOptions()

	fs := flag.NewFlagSet("falsecolor", flag.ExitOnError)
	settingsPath := fs.String("settings", config.SettingsPath(), "Settings file")
	input := fs.String("i", "", "Input Radiance picture (required)")
	output := fs.String("o", "", "Output picture (required)")
	limit := fs.Float64("limit", defaults.ScaleLimit, "Scale limit")
	label := fs.String("label", defaults.ScaleLabel, "Scale label")
	levels := fs.Int("levels", defaults.ScaleLevels, "Number of contour levels")
	legendWidth := fs.Int("lw", defaults.LegendWidth, "Legend width")
	legendHeight := fs.Int("lh", defaults.LegendHeight, "Legend height")
	fs.Parse(args)

	if *input == "" || *output == "" {
		fs.Usage()
		return errors.New("-i and -o are required")
	}

	settings, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}

	pipeline := radiance.NewPipeline(toolchain(settings))
	commandLog, err := pipeline.LuminanceMap(context.Background(), *input, *output, radiance.LuminanceOptions{
		ScaleLimit:   *limit,
		ScaleLabel:   *label,
		ScaleLevels:  *levels,
		LegendWidth:  *legendWidth,
		LegendHeight: *legendHeight,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s written in %s\n", *output, commandLog.Duration.Round(time.Millisecond))
	return nil
}

func handleHistory(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	settingsPath := fs.String("settings", config.SettingsPath(), "Settings file")
	limit := fs.Int("limit", 20, "Number of runs to list, 0 for all")
	runID := fs.String("run", "", "Show the steps of this run")
	fs.Parse(args)

	settings, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}
	if settings.HistoryPath == "" {
		return errors.New("run history is disabled in settings")
	}

	store, err := history.Open(settings.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if *runID != "" {
		steps, err := store.StepsForRun(ctx, *runID)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "#\tSTEP\tRESULT\tDURATION\tCOMMAND")
		for _, s := range steps {
			res := "ok"
			if s.Failed {
				res = "failed: " + s.Message
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Index, s.Name, res, s.Duration, s.Command)
		}
		return nil
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tPERCENT\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\n", r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Status, r.Percent, r.FinalArtifact)
	}
	return nil
}

func handleDoctor(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	settingsPath := fs.String("settings", config.SettingsPath(), "Settings file")
	fs.Parse(args)

	settings, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}

	report := diagnostics.NewChecker().Run(settings)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, item := range report.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.ToUpper(string(item.Status)), item.Name, item.Message)
		if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
			fmt.Fprintf(tw, "\t\t%s\n", item.Hint)
		}
	}
	tw.Flush()

	if report.HasFailures {
		return errors.New("some required checks failed")
	}
	return nil
}

package radiance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"hdri-calibrator/internal/domain"
)

// fakeRunner simulates the Radiance tools against real files.
type fakeRunner struct {
	mu    sync.Mutex
	calls []Invocation
	run   func(ctx context.Context, inv Invocation) (commandResult, error)
}

// Run records the invocation and delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, inv Invocation) (commandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, inv)
}

// names returns the base names of invoked commands in order.
func (f *fakeRunner) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, inv := range f.calls {
		out = append(out, filepath.Base(inv.Name))
	}
	return out
}

// find returns the first invocation of the named tool.
func (f *fakeRunner) find(name string) (Invocation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.calls {
		if filepath.Base(inv.Name) == name {
			return inv, true
		}
	}
	return Invocation{}, false
}

// toolSimulator returns fake behavior producing valid pictures for every tool.
func toolSimulator(t *testing.T) func(ctx context.Context, inv Invocation) (commandResult, error) {
	t.Helper()
	return func(ctx context.Context, inv Invocation) (commandResult, error) {
		switch filepath.Base(inv.Name) {
		case "dcraw_emu":
			mustWriteFile(t, argValue(inv.Args, "-Z"), "tiff")
		case "hdrgen":
			writeTestPicture(t, argValue(inv.Args, "-o"), 40, 30, "EXPOSURE=1.0")
		case "ra_xyze":
			copyTestFile(t, inv.Args[len(inv.Args)-2], inv.Args[len(inv.Args)-1])
		case "pcompos":
			d, _ := strconv.Atoi(argValue(inv.Args, "-x"))
			writeTestPicture(t, inv.Stdout, d, d, "VIEW= -vta -vv 180 -vh 180")
		case "pcomb":
			if cal := argValue(inv.Args, "-f"); cal != "" {
				if _, err := os.Stat(cal); err != nil {
					return commandResult{Stderr: "cannot open " + cal, ExitCode: 1}, errors.New("exit status 1")
				}
			}
			copyTestFile(t, inv.Args[len(inv.Args)-1], inv.Stdout)
		case "pfilt":
			x, _ := strconv.Atoi(argValue(inv.Args, "-x"))
			y, _ := strconv.Atoi(argValue(inv.Args, "-y"))
			writeTestPicture(t, inv.Stdout, x, y, "VIEW= -vta -vv 180 -vh 180")
		case "getinfo":
			data, err := os.ReadFile(inv.Stdin)
			if err != nil {
				return commandResult{ExitCode: 1}, err
			}
			idx := bytes.Index(data, []byte("\n\n"))
			if idx < 0 {
				return commandResult{ExitCode: 1}, errors.New("bad header")
			}
			out := append([]byte{}, data[:idx]...)
			out = append(out, '\n')
			out = append(out, inv.Args[1]...)
			out = append(out, data[idx:]...)
			if err := os.WriteFile(inv.Stdout, out, 0o644); err != nil {
				t.Fatalf("write getinfo output: %v", err)
			}
		case "evalglare":
			return commandResult{Stdout: "dgp,av_lum: 0.31 1200.5\n", ExitCode: 0}, nil
		default:
			t.Fatalf("unexpected command %s", inv.Name)
		}
		return commandResult{ExitCode: 0}, nil
	}
}

// newTestBundle builds a 3612 px fisheye bundle with three exposures and no calibrations.
func newTestBundle(t *testing.T, root string, ext string) domain.ParameterBundle {
	t.Helper()
	var ldr []string
	for i := 1; i <= 3; i++ {
		path := filepath.Join(root, fmt.Sprintf("img%d%s", i, ext))
		mustWriteFile(t, path, "ldr")
		ldr = append(ldr, path)
	}
	return domain.ParameterBundle{
		Diameter:            3612,
		CropXLeft:           1019,
		CropYDown:           74,
		ViewAngleVertical:   186,
		ViewAngleHorizontal: 186,
		TargetXResolution:   1000,
		TargetYResolution:   1000,
		LDRPaths:            ldr,
		TempDir:             filepath.Join(root, "tmp"),
		ErrorsDir:           filepath.Join(root, "errors"),
		LogsDir:             filepath.Join(root, "logs"),
	}
}

// fixedClock returns a clock that never moves.
func fixedClock() func() time.Time {
	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

// progressRecorder collects distinct consecutive percent values.
type progressRecorder struct {
	mu       sync.Mutex
	percents []int
}

// record appends the snapshot percent when it differs from the previous one.
func (r *progressRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.percents); n > 0 && r.percents[n-1] == s.Percent {
		return
	}
	r.percents = append(r.percents, s.Percent)
}

// TestPipelineRunWithoutCalibrationsFinishes checks the documented example run.
func TestPipelineRunWithoutCalibrationsFinishes(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".JPG")

	runner := &fakeRunner{run: toolSimulator(t)}
	rec := &progressRecorder{}
	state := NewRunState()
	pipeline := NewPipelineForTests(Toolchain{RadianceDir: "/opt/radiance/bin"}, runner, fixedClock())

	result, err := pipeline.Run(context.Background(), Request{
		Bundle:     bundle,
		State:      state,
		OnProgress: rec.record,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != domain.JobStatusFinished {
		t.Fatalf("status = %q, want finished (failed steps: %v)", result.Status, result.FailedSteps())
	}
	if !state.Finished() || state.Percent() != 100 || state.StatusText() != "Finished" {
		t.Fatalf("state = %+v", state.Snapshot())
	}

	want := []int{0, 5, 10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 100}
	if fmt.Sprint(rec.percents) != fmt.Sprint(want) {
		t.Fatalf("checkpoints = %v, want %v", rec.percents, want)
	}
	if fmt.Sprint(Checkpoints()) != fmt.Sprint(want) {
		t.Fatalf("Checkpoints() = %v, want %v", Checkpoints(), want)
	}

	for n := 1; n <= ArtifactCount; n++ {
		if _, err := os.Stat(ArtifactPath(bundle.TempDir, n)); err != nil {
			t.Fatalf("artifact %d missing: %v", n, err)
		}
	}

	view, err := HeaderValue(result.FinalArtifact, "VIEW")
	if err != nil {
		t.Fatalf("HeaderValue() error = %v", err)
	}
	if view != "-vta -vv 186 -vh 186" {
		t.Fatalf("final VIEW = %q", view)
	}
	header, err := ReadHeader(result.FinalArtifact)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	for _, line := range header.Lines {
		if strings.Contains(line, "-vv 180") {
			t.Fatalf("stale VIEW line kept: %q", line)
		}
	}

	if result.Inspection == nil || result.Inspection.Width != 1000 || result.Inspection.Height != 1000 {
		t.Fatalf("inspection = %+v", result.Inspection)
	}
	if !strings.Contains(result.GlareReport, "dgp") {
		t.Fatalf("glare report = %q", result.GlareReport)
	}

	vig, ok := runner.find("pcomb")
	if !ok || argValue(vig.Args, "-e") != passThroughExpr {
		t.Fatalf("vignetting pcomb should pass through, args=%v", vig.Args)
	}
	hdrgen, _ := runner.find("hdrgen")
	if hasArg(hdrgen.Args, "-r") {
		t.Fatalf("hdrgen without response file should not pass -r, args=%v", hdrgen.Args)
	}
	if hdrgen.Name != "hdrgen" {
		t.Fatalf("hdrgen name = %q, want PATH lookup", hdrgen.Name)
	}
	crop, _ := runner.find("pcompos")
	if crop.Name != filepath.Join("/opt/radiance/bin", "pcompos") {
		t.Fatalf("pcompos name = %q", crop.Name)
	}
	if got := strings.Join(crop.Args[len(crop.Args)-2:], " "); got != "-1019 -74" {
		t.Fatalf("crop offsets = %q", got)
	}

	if _, err := os.Stat(result.OutputLogPath); err != nil {
		t.Fatalf("output log missing: %v", err)
	}
}

// TestPipelineRunMissingVignettingFileContinues checks the non-aborting default policy.
func TestPipelineRunMissingVignettingFileContinues(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")
	bundle.VignettingPath = filepath.Join(root, "missing", "vignetting.cal")

	runner := &fakeRunner{run: toolSimulator(t)}
	state := NewRunState()
	pipeline := NewPipelineForTests(Toolchain{}, runner, fixedClock())

	result, err := pipeline.Run(context.Background(), Request{Bundle: bundle, State: state})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !state.Finished() || state.Percent() != 100 || state.StatusText() != "Finished" {
		t.Fatalf("state = %+v", state.Snapshot())
	}
	if result.Status != domain.JobStatusDegraded || state.Status() != domain.JobStatusDegraded {
		t.Fatalf("status = %q / %q, want degraded", result.Status, state.Status())
	}
	if got := result.FailedSteps(); len(got) == 0 || got[0] != StepVignetting {
		t.Fatalf("failed steps = %v", got)
	}

	var stepErr *StepError
	if !errors.As(result.Outcomes[3].Err, &stepErr) {
		t.Fatalf("vignetting error = %T, want *StepError", result.Outcomes[3].Err)
	}
	if stepErr.CommandLog.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", stepErr.CommandLog.ExitCode)
	}

	for n := 1; n <= ArtifactCount; n++ {
		if _, err := os.Stat(ArtifactPath(bundle.TempDir, n)); err != nil {
			t.Fatalf("artifact %d missing: %v", n, err)
		}
	}

	errorLog, err := os.ReadFile(result.ErrorLogPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	if !strings.Contains(string(errorLog), "vignetting failed") {
		t.Fatalf("error log = %q", errorLog)
	}
	if !strings.Contains(string(errorLog), result.SessionID) {
		t.Fatalf("error log entries should carry session id %s", result.SessionID)
	}
}

// TestPipelineRunAbortPolicyStopsAfterFailure checks the abort policy.
func TestPipelineRunAbortPolicyStopsAfterFailure(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")

	sim := toolSimulator(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, inv Invocation) (commandResult, error) {
			if filepath.Base(inv.Name) == "pcompos" {
				return commandResult{Stderr: "bad offsets", ExitCode: 2}, errors.New("exit status 2")
			}
			return sim(ctx, inv)
		},
	}
	state := NewRunState()
	pipeline := NewPipelineForTests(Toolchain{}, runner, fixedClock())

	result, err := pipeline.Run(context.Background(), Request{
		Bundle: bundle,
		Policy: domain.ErrorPolicyAbort,
		State:  state,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != domain.JobStatusFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if !state.Finished() || state.Percent() != 20 {
		t.Fatalf("state = %+v", state.Snapshot())
	}
	if state.StatusText() != "Stopped after crop failed" {
		t.Fatalf("status text = %q", state.StatusText())
	}
	if err := result.Err(); err == nil || !strings.Contains(err.Error(), "crop") {
		t.Fatalf("result error = %v, want crop failure", err)
	}
	if got := strings.Join(runner.names(), ","); got != "hdrgen,ra_xyze,pcompos" {
		t.Fatalf("commands = %s", got)
	}
}

// TestPipelineRunCancelCompletesCurrentStep checks cancellation at step boundaries.
func TestPipelineRunCancelCompletesCurrentStep(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")

	state := NewRunState()
	sim := toolSimulator(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, inv Invocation) (commandResult, error) {
			if filepath.Base(inv.Name) == "pcompos" {
				state.RequestCancel()
			}
			return sim(ctx, inv)
		},
	}
	pipeline := NewPipelineForTests(Toolchain{}, runner, fixedClock())

	result, err := pipeline.Run(context.Background(), Request{Bundle: bundle, State: state})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != domain.JobStatusCancelled {
		t.Fatalf("status = %q, want cancelled", result.Status)
	}
	if !errors.Is(result.Err(), ErrCancelled) {
		t.Fatalf("result error = %v, want %v", result.Err(), ErrCancelled)
	}
	if !state.Finished() || state.Percent() != 30 || state.StatusText() != "Cancelled" {
		t.Fatalf("state = %+v", state.Snapshot())
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(result.Outcomes))
	}
	if _, ok := runner.find("pcomb"); ok {
		t.Fatalf("no step should start after cancellation")
	}
	if _, err := os.Stat(ArtifactPath(bundle.TempDir, 3)); err != nil {
		t.Fatalf("crop artifact missing: %v", err)
	}
}

// TestPipelineRunRemovesStaleArtifacts checks temp dir reset at run start.
func TestPipelineRunRemovesStaleArtifacts(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")
	for n := 1; n <= ArtifactCount; n++ {
		mustWriteFile(t, ArtifactPath(bundle.TempDir, n), "stale")
	}

	state := NewRunState()
	state.RequestCancel()
	runner := &fakeRunner{}
	pipeline := NewPipelineForTests(Toolchain{}, runner, fixedClock())

	result, err := pipeline.Run(context.Background(), Request{Bundle: bundle, State: state})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != domain.JobStatusCancelled || state.Percent() != 0 {
		t.Fatalf("state = %+v", state.Snapshot())
	}
	if len(runner.calls) != 0 {
		t.Fatalf("commands = %v, want none", runner.names())
	}
	for n := 1; n <= ArtifactCount; n++ {
		if _, err := os.Stat(ArtifactPath(bundle.TempDir, n)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("stale artifact %d still present, stat err = %v", n, err)
		}
	}
}

// TestPipelineRunInvalidBundle checks validation happens before any command.
func TestPipelineRunInvalidBundle(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")
	bundle.LDRPaths = bundle.LDRPaths[:1]

	runner := &fakeRunner{}
	pipeline := NewPipelineForTests(Toolchain{}, runner, fixedClock())

	_, err := pipeline.Run(context.Background(), Request{Bundle: bundle})
	if !errors.Is(err, domain.ErrInvalidBundle) {
		t.Fatalf("Run() error = %v, want ErrInvalidBundle", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("commands = %v, want none", runner.names())
	}
}

// TestPipelineRunConvertsRawInputs checks dcraw_emu conversion before merging.
func TestPipelineRunConvertsRawInputs(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".CR2")
	bundle.ResponsePath = filepath.Join(root, "camera.rsp")
	mustWriteFile(t, bundle.ResponsePath, "2 1 0 0\n2 1 0 0\n2 1 0 0\n")

	runner := &fakeRunner{run: toolSimulator(t)}
	pipeline := NewPipelineForTests(Toolchain{DcrawEmuDir: "/opt/libraw"}, runner, fixedClock())

	if _, err := pipeline.Run(context.Background(), Request{Bundle: bundle}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	names := runner.names()
	if strings.Join(names[:4], ",") != "dcraw_emu,dcraw_emu,dcraw_emu,hdrgen" {
		t.Fatalf("commands = %v", names)
	}
	hdrgen, _ := runner.find("hdrgen")
	if hasArg(hdrgen.Args, "-r") {
		t.Fatalf("raw merge should not pass response file, args=%v", hdrgen.Args)
	}
	if hdrgen.Args[0] != filepath.Join(bundle.TempDir, "input1.tiff") {
		t.Fatalf("hdrgen first input = %q", hdrgen.Args[0])
	}
}

// TestPipelineRunPassesResponseFile checks -r and calibration file wiring.
func TestPipelineRunPassesResponseFile(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")
	bundle.ResponsePath = filepath.Join(root, "camera.rsp")
	bundle.CalibrationFactorPath = filepath.Join(root, "cf.cal")
	mustWriteFile(t, bundle.ResponsePath, "rsp")
	mustWriteFile(t, bundle.CalibrationFactorPath, "ro=ri(1);go=gi(1);bo=bi(1);")

	runner := &fakeRunner{run: toolSimulator(t)}
	pipeline := NewPipelineForTests(Toolchain{}, runner, fixedClock())

	result, err := pipeline.Run(context.Background(), Request{Bundle: bundle})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != domain.JobStatusFinished {
		t.Fatalf("status = %q, failed = %v", result.Status, result.FailedSteps())
	}

	hdrgen, _ := runner.find("hdrgen")
	if argValue(hdrgen.Args, "-r") != bundle.ResponsePath {
		t.Fatalf("hdrgen args = %v", hdrgen.Args)
	}

	photometric := result.Outcomes[7]
	if photometric.Name != StepPhotometric || len(photometric.Logs) != 1 {
		t.Fatalf("photometric outcome = %+v", photometric)
	}
	args := photometric.Logs[0].Args
	if args[0] != "-h" || argValue(args, "-f") != bundle.CalibrationFactorPath {
		t.Fatalf("photometric args = %v", args)
	}
}

// TestPipelineRunStepTimeout checks that a hung command becomes a step error.
func TestPipelineRunStepTimeout(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")

	runner := &fakeRunner{
		run: func(ctx context.Context, inv Invocation) (commandResult, error) {
			<-ctx.Done()
			return commandResult{ExitCode: -1}, ctx.Err()
		},
	}
	pipeline := NewPipelineForTests(Toolchain{}, runner, nil)

	result, err := pipeline.Run(context.Background(), Request{
		Bundle:      bundle,
		Policy:      domain.ErrorPolicyAbort,
		StepTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != domain.JobStatusFailed || len(result.Outcomes) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.Outcomes[0].Err.Error(), "timed out") {
		t.Fatalf("merge error = %v", result.Outcomes[0].Err)
	}
}

// TestPipelineRunValidityFailureDoesNotGate checks the validity step is informational.
func TestPipelineRunValidityFailureDoesNotGate(t *testing.T) {
	root := t.TempDir()
	bundle := newTestBundle(t, root, ".jpg")

	sim := toolSimulator(t)
	runner := &fakeRunner{
		run: func(ctx context.Context, inv Invocation) (commandResult, error) {
			if filepath.Base(inv.Name) == "evalglare" {
				return commandResult{Stderr: "bad view", ExitCode: 1}, errors.New("exit status 1")
			}
			return sim(ctx, inv)
		},
	}
	state := NewRunState()
	pipeline := NewPipelineForTests(Toolchain{}, runner, fixedClock())

	result, err := pipeline.Run(context.Background(), Request{
		Bundle: bundle,
		Policy: domain.ErrorPolicyAbort,
		State:  state,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if state.Percent() != 100 || state.StatusText() != "Finished" {
		t.Fatalf("state = %+v", state.Snapshot())
	}
	if result.Status != domain.JobStatusDegraded {
		t.Fatalf("status = %q, want degraded", result.Status)
	}
}

// TestLuminanceMapPrependsRadianceDir checks falsecolor args and PATH.
func TestLuminanceMapPrependsRadianceDir(t *testing.T) {
	root := t.TempDir()
	runner := &fakeRunner{}
	pipeline := NewPipelineForTests(Toolchain{RadianceDir: "/opt/radiance/bin"}, runner, nil)

	out := filepath.Join(root, "lum.hdr")
	log, err := pipeline.LuminanceMap(context.Background(), "final.hdr", out, LuminanceOptions{ScaleLimit: 5000})
	if err != nil {
		t.Fatalf("LuminanceMap() error = %v", err)
	}

	inv := runner.calls[0]
	if inv.Stdout != out || argValue(inv.Args, "-s") != "5000" || argValue(inv.Args, "-l") != "cd/m2" {
		t.Fatalf("invocation = %+v", inv)
	}
	if len(inv.Env) != 1 || !strings.HasPrefix(inv.Env[0], "PATH=/opt/radiance/bin"+string(os.PathListSeparator)) {
		t.Fatalf("env = %v", inv.Env)
	}
	if log.Command != filepath.Join("/opt/radiance/bin", "falsecolor") {
		t.Fatalf("command = %q", log.Command)
	}
}

// writeTestPicture writes an RGBE header with optional lines and a short
// run of flat pixels. Only the header is decoded by the code under test.
func writeTestPicture(t *testing.T, path string, width, height int, lines ...string) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("#?RADIANCE\n")
	for _, line := range lines {
		buf.WriteString(line + "\n")
	}
	buf.WriteString("FORMAT=32-bit_rle_rgbe\n\n")
	fmt.Fprintf(&buf, "-Y %d +X %d\n", height, width)
	buf.Write(bytes.Repeat([]byte{128, 128, 128, 129}, min(width*height, 16)))
	mustWriteFile(t, path, buf.String())
}

// copyTestFile copies src to dst, failing the test on error.
func copyTestFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read %s: %v", src, err)
	}
	mustWriteFile(t, dst, string(data))
}

// mustWriteFile writes test fixture content and fails on error.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// argValue returns value after flag in args, or empty string.
func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether args contains exact flag token.
func hasArg(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

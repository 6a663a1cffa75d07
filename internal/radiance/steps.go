package radiance

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// passThroughExpr copies every channel unchanged. It stands in for a missing
// calibration file so the step still writes its artifact.
const passThroughExpr = "ro=ri(1);go=gi(1);bo=bi(1)"

// step is one entry of the fixed sequence. percent is the checkpoint reached
// when the step ends; startPercent, when set, is reached as it begins.
type step struct {
	name         string
	status       string
	startPercent int
	percent      int
	artifact     int  // output artifact number, 0 for none
	gating       bool // a failure counts for the abort policy
	run          func(p *Pipeline, ctx context.Context, rc *runContext) ([]CommandLog, error)
}

// Step names, in execution order.
const (
	StepMerge       = "merge"
	StepNullify     = "nullify"
	StepCrop        = "crop"
	StepVignetting  = "vignetting"
	StepResize      = "resize"
	StepProjection  = "projection"
	StepNDFilter    = "nd_filter"
	StepPhotometric = "photometric"
	StepHeader      = "header"
	StepViewAngle   = "view_angle"
	StepValidity    = "validity"
)

var steps = []step{
	{name: StepMerge, status: "Merging exposures (may take a while)", startPercent: 5, percent: 10, artifact: 1, gating: true, run: (*Pipeline).mergeExposures},
	{name: StepNullify, status: "Nullifying exposures", percent: 20, artifact: 2, gating: true, run: (*Pipeline).nullifyExposure},
	{name: StepCrop, status: "Cropping", percent: 30, artifact: 3, gating: true, run: (*Pipeline).crop},
	{name: StepVignetting, status: "Correcting vignetting", percent: 40, artifact: 4, gating: true, run: (*Pipeline).correctVignetting},
	{name: StepResize, status: "Resizing", percent: 50, artifact: 5, gating: true, run: (*Pipeline).resize},
	{name: StepProjection, status: "Adjusting projection", percent: 60, artifact: 6, gating: true, run: (*Pipeline).adjustProjection},
	{name: StepNDFilter, status: "Correcting neutral density filter", percent: 70, artifact: 7, gating: true, run: (*Pipeline).correctNDFilter},
	{name: StepPhotometric, status: "Performing photometric adjustment", percent: 80, artifact: 8, gating: true, run: (*Pipeline).adjustPhotometry},
	{name: StepHeader, status: "Editing header", percent: 85, artifact: 9, gating: true, run: (*Pipeline).editHeader},
	{name: StepViewAngle, status: "Adjusting for real viewing angle", percent: 90, artifact: 10, gating: true, run: (*Pipeline).setViewAngle},
	{name: StepValidity, status: "Performing validity check", percent: 100, run: (*Pipeline).checkValidity},
}

// Checkpoints lists every percent value a complete run passes through, in order.
func Checkpoints() []int {
	out := []int{0}
	for _, s := range steps {
		if s.startPercent > 0 {
			out = append(out, s.startPercent)
		}
		out = append(out, s.percent)
	}
	return out
}

// StepNames lists the step names in execution order.
func StepNames() []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.name)
	}
	return out
}

func (p *Pipeline) mergeExposures(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	b := rc.bundle
	logExposures(rc)

	var logs []CommandLog
	inputs := b.LDRPaths
	raw := isRawFormat(b.LDRExtension())

	if raw {
		converted := make([]string, 0, len(inputs))
		for i, input := range inputs {
			tiff := filepath.Join(b.TempDir, fmt.Sprintf("input%d.tiff", i+1))
			log, err := p.command(ctx, rc, StepMerge, "dcraw_emu raw conversion failed", Invocation{
				Name: p.tools.DcrawEmu(),
				Args: buildDcrawArgs(input, tiff),
			})
			logs = append(logs, log)
			if err != nil {
				return logs, err
			}
			converted = append(converted, tiff)
		}
		inputs = converted
	} else if b.FilterImages && filterable(b.LDRExtension()) {
		selected, err := FilterExposures(ctx, inputs, Circle{Diameter: b.Diameter, XLeft: b.CropXLeft, YDown: b.CropYDown})
		if err != nil {
			rc.log.Errorf("exposure filter failed, merging all images: %v", err)
		} else {
			rc.log.Infof("exposure filter kept %d of %d images", len(selected), len(inputs))
			inputs = selected
		}
	}

	response := b.ResponsePath
	if raw {
		response = ""
	}
	log, err := p.command(ctx, rc, StepMerge, "hdrgen merge failed", Invocation{
		Name: p.tools.HDRGen(),
		Args: buildHDRGenArgs(inputs, rc.artifact(1), response),
	})
	return append(logs, log), err
}

func (p *Pipeline) nullifyExposure(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	log, err := p.command(ctx, rc, StepNullify, "ra_xyze exposure nullification failed", Invocation{
		Name: p.tools.Radiance("ra_xyze"),
		Args: []string{"-r", "-o", rc.artifact(1), rc.artifact(2)},
	})
	return []CommandLog{log}, err
}

func (p *Pipeline) crop(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	b := rc.bundle
	d := strconv.Itoa(b.Diameter)
	log, err := p.command(ctx, rc, StepCrop, "pcompos crop failed", Invocation{
		Name: p.tools.Radiance("pcompos"),
		Args: []string{
			"-x", d, "-y", d,
			rc.artifact(2),
			"-" + strconv.Itoa(b.CropXLeft),
			"-" + strconv.Itoa(b.CropYDown),
		},
		Stdout: rc.artifact(3),
	})
	return []CommandLog{log}, err
}

func (p *Pipeline) correctVignetting(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	return p.applyCalibration(ctx, rc, StepVignetting, rc.bundle.VignettingPath, 3, 4, false)
}

func (p *Pipeline) resize(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	b := rc.bundle
	log, err := p.command(ctx, rc, StepResize, "pfilt resize failed", Invocation{
		Name: p.tools.Radiance("pfilt"),
		Args: []string{
			"-1",
			"-x", strconv.Itoa(b.TargetXResolution),
			"-y", strconv.Itoa(b.TargetYResolution),
			rc.artifact(4),
		},
		Stdout: rc.artifact(5),
	})
	return []CommandLog{log}, err
}

func (p *Pipeline) adjustProjection(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	return p.applyCalibration(ctx, rc, StepProjection, rc.bundle.FisheyePath, 5, 6, false)
}

func (p *Pipeline) correctNDFilter(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	return p.applyCalibration(ctx, rc, StepNDFilter, rc.bundle.NDFilterPath, 6, 7, false)
}

func (p *Pipeline) adjustPhotometry(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	return p.applyCalibration(ctx, rc, StepPhotometric, rc.bundle.CalibrationFactorPath, 7, 8, true)
}

// applyCalibration runs pcomb with the calibration file, or with the
// pass-through expression when the file was not supplied.
func (p *Pipeline) applyCalibration(ctx context.Context, rc *runContext, name, calFile string, in, out int, keepHeader bool) ([]CommandLog, error) {
	var args []string
	if keepHeader {
		args = append(args, "-h")
	}
	if strings.TrimSpace(calFile) == "" {
		rc.log.Infof("%s: no calibration file, passing picture through", name)
		args = append(args, "-e", passThroughExpr)
	} else {
		args = append(args, "-f", calFile)
	}
	args = append(args, rc.artifact(in))

	log, err := p.command(ctx, rc, name, "pcomb "+strings.ReplaceAll(name, "_", " ")+" correction failed", Invocation{
		Name:   p.tools.Radiance("pcomb"),
		Args:   args,
		Stdout: rc.artifact(out),
	})
	return []CommandLog{log}, err
}

func (p *Pipeline) editHeader(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	if err := stripViewLines(rc.artifact(8), rc.artifact(9)); err != nil {
		return nil, &StepError{
			Step:    StepHeader,
			Message: "cannot rewrite header without VIEW lines",
			Err:     err,
		}
	}
	rc.log.Infof("%s: removed VIEW lines from %s", StepHeader, rc.artifact(8))
	return nil, nil
}

func (p *Pipeline) setViewAngle(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	b := rc.bundle
	log, err := p.command(ctx, rc, StepViewAngle, "getinfo view angle injection failed", Invocation{
		Name:   p.tools.Radiance("getinfo"),
		Args:   []string{"-a", viewArgument(b.ViewAngleVertical, b.ViewAngleHorizontal)},
		Stdin:  rc.artifact(9),
		Stdout: rc.artifact(10),
	})
	return []CommandLog{log}, err
}

// checkValidity runs evalglare on the final picture and inspects it. Its
// failures are recorded but never stop the run.
func (p *Pipeline) checkValidity(ctx context.Context, rc *runContext) ([]CommandLog, error) {
	b := rc.bundle
	final := rc.artifact(ArtifactCount)
	angleV := formatAngle(b.ViewAngleVertical)
	angleH := formatAngle(b.ViewAngleHorizontal)

	log, err := p.execute(ctx, Invocation{
		Name: p.tools.Radiance("evalglare"),
		Args: []string{"-vta", "-vv", angleV, "-vh", angleH, "-V", final},
	})
	emitLog(rc.req.OnLog, log)
	rc.log.Infof("%s: %s %s (exit %d)", StepValidity, log.Command, strings.Join(log.Args, " "), log.ExitCode)

	report := strings.TrimSpace(log.Stdout)
	if report != "" {
		rc.result.GlareReport = report
		rc.log.Infof("%s: evalglare report: %s", StepValidity, report)
	}
	if err != nil && report == "" {
		return []CommandLog{log}, &StepError{
			Step:       StepValidity,
			Message:    "evalglare produced no report",
			CommandLog: log,
			Err:        err,
		}
	}

	info, err := InspectArtifact(final)
	if err != nil {
		return []CommandLog{log}, &StepError{
			Step:    StepValidity,
			Message: "final picture cannot be decoded",
			Err:     err,
		}
	}
	rc.result.Inspection = &info
	rc.log.Infof("%s: final picture %dx%d", StepValidity, info.Width, info.Height)

	if problems := checkArtifact(info, b.TargetXResolution, b.TargetYResolution, b.ViewAngleVertical, b.ViewAngleHorizontal); len(problems) > 0 {
		return []CommandLog{log}, &StepError{
			Step:    StepValidity,
			Message: strings.Join(problems, "; "),
		}
	}
	return []CommandLog{log}, nil
}

// logExposures writes the EXIF exposure of each input to the output log.
func logExposures(rc *runContext) {
	exposures, errs := ReadExposures(rc.bundle.LDRPaths)
	for i, exposure := range exposures {
		if errs[i] != nil {
			rc.log.Infof("%s: no exposure data for %s: %v", StepMerge, filepath.Base(exposure.Path), errs[i])
			continue
		}
		rc.log.Infof("%s: %s", StepMerge, exposure)
	}
}

// buildHDRGenArgs builds hdrgen args; an empty response lets hdrgen derive one.
func buildHDRGenArgs(inputs []string, output, response string) []string {
	args := append([]string(nil), inputs...)
	args = append(args, "-o", output)
	if response != "" {
		args = append(args, "-r", response)
	}
	return append(args, "-a", "-e", "-f", "-g", "-F")
}

// buildDcrawArgs builds dcraw_emu args for a 16-bit linear TIFF conversion.
func buildDcrawArgs(input, output string) []string {
	return []string{
		"-T", "-o", "1", "-W", "-j", "-q", "3",
		"-g", "2", "0", "-t", "0", "-b", "1.1",
		"-Z", output,
		input,
	}
}

// isRawFormat reports whether ext needs dcraw_emu before hdrgen.
func isRawFormat(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".tif", ".tiff":
		return false
	}
	return ext != ""
}

package radiance

import (
	"context"
	"strconv"
	"strings"
)

// LuminanceOptions controls the falsecolor scale and legend.
type LuminanceOptions struct {
	ScaleLimit   float64 `json:"scaleLimit" yaml:"scale_limit"`
	ScaleLabel   string  `json:"scaleLabel" yaml:"scale_label"`
	ScaleLevels  int     `json:"scaleLevels" yaml:"scale_levels"`
	LegendWidth  int     `json:"legendWidth" yaml:"legend_width"`
	LegendHeight int     `json:"legendHeight" yaml:"legend_height"`
}

// DefaultLuminanceOptions returns the scale used when the caller sets nothing.
func DefaultLuminanceOptions() LuminanceOptions {
	return LuminanceOptions{
		ScaleLimit:   2000,
		ScaleLabel:   "cd/m2",
		ScaleLevels:  10,
		LegendWidth:  100,
		LegendHeight: 200,
	}
}

func (o LuminanceOptions) withDefaults() LuminanceOptions {
	def := DefaultLuminanceOptions()
	if o.ScaleLimit <= 0 {
		o.ScaleLimit = def.ScaleLimit
	}
	if strings.TrimSpace(o.ScaleLabel) == "" {
		o.ScaleLabel = def.ScaleLabel
	}
	if o.ScaleLevels <= 0 {
		o.ScaleLevels = def.ScaleLevels
	}
	if o.LegendWidth <= 0 {
		o.LegendWidth = def.LegendWidth
	}
	if o.LegendHeight <= 0 {
		o.LegendHeight = def.LegendHeight
	}
	return o
}

// buildFalsecolorArgs builds falsecolor args; the picture is written to stdout.
func buildFalsecolorArgs(input string, opts LuminanceOptions) []string {
	return []string{
		"-s", formatAngle(opts.ScaleLimit),
		"-l", opts.ScaleLabel,
		"-n", strconv.Itoa(opts.ScaleLevels),
		"-lw", strconv.Itoa(opts.LegendWidth),
		"-lh", strconv.Itoa(opts.LegendHeight),
		"-i", input,
	}
}

// LuminanceMap renders a falsecolor luminance map of input into output.
// falsecolor runs other Radiance tools, so the Radiance directory is put
// first on the child's PATH.
func (p *Pipeline) LuminanceMap(ctx context.Context, input, output string, opts LuminanceOptions) (CommandLog, error) {
	inv := Invocation{
		Name:   p.tools.Radiance("falsecolor"),
		Args:   buildFalsecolorArgs(input, opts.withDefaults()),
		Stdout: output,
		Env:    p.tools.pathEnv(),
	}

	log, err := p.execute(ctx, inv)
	if err != nil {
		return log, &StepError{
			Step:       "falsecolor",
			Message:    "falsecolor luminance map failed",
			CommandLog: log,
			Err:        err,
		}
	}
	return log, nil
}

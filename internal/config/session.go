package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"hdri-calibrator/internal/domain"
)

// Session describes one pipeline run in a YAML file:
//
//	ldr_paths: [img1.jpg, img2.jpg, img3.jpg]
//	diameter: 3612
//	crop_x_left: 1019
//	crop_y_down: 74
//	view_angle_vertical: 186
//	view_angle_horizontal: 186
//	target_x_resolution: 1000
//	target_y_resolution: 1000
//	configuration: nikon-sigma
//	error_policy: continue
type Session struct {
	domain.ParameterBundle `yaml:",inline"`

	// Configuration names a saved configuration applied before the bundle's
	// own calibration fields.
	Configuration      string             `yaml:"configuration"`
	ErrorPolicy        domain.ErrorPolicy `yaml:"error_policy"`
	StepTimeoutSeconds int                `yaml:"step_timeout_seconds"`
}

// StepTimeout returns the per-step limit, zero for none.
func (s Session) StepTimeout() time.Duration {
	return time.Duration(s.StepTimeoutSeconds) * time.Second
}

// LoadSession reads a session file. Relative paths are resolved against the
// directory holding the file; unknown keys are rejected.
func LoadSession(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}

	var s Session
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Session{}, fmt.Errorf("parse session %s: %w", path, err)
	}

	switch s.ErrorPolicy {
	case "", domain.ErrorPolicyContinue, domain.ErrorPolicyAbort:
	default:
		return Session{}, fmt.Errorf("session %s: unknown error_policy %q", path, s.ErrorPolicy)
	}

	base := filepath.Dir(path)
	b := &s.ParameterBundle
	for i, p := range b.LDRPaths {
		b.LDRPaths[i] = resolve(base, p)
	}
	for _, p := range []*string{
		&b.ResponsePath, &b.VignettingPath, &b.FisheyePath, &b.NDFilterPath,
		&b.CalibrationFactorPath, &b.TempDir, &b.ErrorsDir, &b.LogsDir,
	} {
		*p = resolve(base, *p)
	}
	return s, nil
}

// Bundle merges the session over settings defaults and an optional saved
// configuration. Fields set in the session win.
func (s Session) Bundle(settings domain.Settings, saved *domain.SavedConfiguration) domain.ParameterBundle {
	b := s.ParameterBundle.Clone()
	if saved != nil {
		merged := saved.Apply(b)
		if b.ResponsePath != "" {
			merged.ResponsePath = b.ResponsePath
		}
		if b.VignettingPath != "" {
			merged.VignettingPath = b.VignettingPath
		}
		if b.FisheyePath != "" {
			merged.FisheyePath = b.FisheyePath
		}
		if b.NDFilterPath != "" {
			merged.NDFilterPath = b.NDFilterPath
		}
		if b.CalibrationFactorPath != "" {
			merged.CalibrationFactorPath = b.CalibrationFactorPath
		}
		if b.Diameter != 0 {
			merged.Diameter, merged.CropXLeft, merged.CropYDown = b.Diameter, b.CropXLeft, b.CropYDown
		}
		if b.TargetXResolution != 0 {
			merged.TargetXResolution, merged.TargetYResolution = b.TargetXResolution, b.TargetYResolution
		}
		if b.ViewAngleVertical != 0 {
			merged.ViewAngleVertical, merged.ViewAngleHorizontal = b.ViewAngleVertical, b.ViewAngleHorizontal
		}
		b = merged
	}

	if b.TempDir == "" {
		b.TempDir = settings.TempDir
	}
	if b.ErrorsDir == "" {
		b.ErrorsDir = settings.ErrorsDir
	}
	if b.LogsDir == "" {
		b.LogsDir = settings.LogsDir
	}
	return b
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

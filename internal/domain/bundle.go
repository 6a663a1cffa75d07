package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// MinLDRImages is the smallest exposure set the merge step accepts.
const MinLDRImages = 2

// ErrInvalidBundle is matched by every *ValidationError.
var ErrInvalidBundle = errors.New("invalid parameter bundle")

// ParameterBundle is the immutable input set for one pipeline run.
// Empty calibration paths mean the calibration was not supplied.
type ParameterBundle struct {
	Diameter            int     `json:"diameter" yaml:"diameter"`
	CropXLeft           int     `json:"cropXLeft" yaml:"crop_x_left"`
	CropYDown           int     `json:"cropYDown" yaml:"crop_y_down"`
	ViewAngleVertical   float64 `json:"viewAngleVertical" yaml:"view_angle_vertical"`
	ViewAngleHorizontal float64 `json:"viewAngleHorizontal" yaml:"view_angle_horizontal"`
	TargetXResolution   int     `json:"targetXResolution" yaml:"target_x_resolution"`
	TargetYResolution   int     `json:"targetYResolution" yaml:"target_y_resolution"`

	LDRPaths []string `json:"ldrPaths" yaml:"ldr_paths"`

	ResponsePath          string `json:"responsePath,omitempty" yaml:"response_path"`
	VignettingPath        string `json:"vignettingPath,omitempty" yaml:"vignetting_path"`
	FisheyePath           string `json:"fisheyePath,omitempty" yaml:"fisheye_path"`
	NDFilterPath          string `json:"ndFilterPath,omitempty" yaml:"nd_filter_path"`
	CalibrationFactorPath string `json:"calibrationFactorPath,omitempty" yaml:"calibration_factor_path"`

	TempDir   string `json:"tempDir" yaml:"temp_dir"`
	ErrorsDir string `json:"errorsDir" yaml:"errors_dir"`
	LogsDir   string `json:"logsDir" yaml:"logs_dir"`

	// FilterImages drops JPEG exposures that add nothing to the merge.
	FilterImages bool `json:"filterImages,omitempty" yaml:"filter_images"`
}

// Clone returns a deep copy so a running pipeline never shares the LDR slice with its caller.
func (b ParameterBundle) Clone() ParameterBundle {
	b.LDRPaths = append([]string(nil), b.LDRPaths...)
	return b
}

// LDRExtension returns the lower-cased extension shared by the LDR images.
func (b ParameterBundle) LDRExtension() string {
	if len(b.LDRPaths) == 0 {
		return ""
	}
	return strings.ToLower(filepath.Ext(b.LDRPaths[0]))
}

// ValidationError lists every problem found in a bundle.
type ValidationError struct {
	Problems []string
}

// Error joins all problems into one message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidBundle, strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidBundle) succeed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidBundle
}

// Validate checks the structural invariants of a bundle. Calibration file
// contents are validated separately before the bundle is built.
func (b ParameterBundle) Validate() error {
	var problems []string

	if len(b.LDRPaths) < MinLDRImages {
		problems = append(problems, fmt.Sprintf("at least %d LDR images are required, got %d", MinLDRImages, len(b.LDRPaths)))
	}
	ext := b.LDRExtension()
	for _, path := range b.LDRPaths {
		if strings.TrimSpace(path) == "" {
			problems = append(problems, "LDR image path is empty")
			continue
		}
		if got := strings.ToLower(filepath.Ext(path)); got != ext {
			problems = append(problems, fmt.Sprintf("LDR image %s has extension %q, want %q", path, got, ext))
		}
	}

	if b.Diameter <= 0 {
		problems = append(problems, "fisheye diameter must be positive")
	}
	if b.CropXLeft < 0 || b.CropYDown < 0 {
		problems = append(problems, "crop offsets must not be negative")
	}
	if b.ViewAngleVertical <= 0 || b.ViewAngleHorizontal <= 0 {
		problems = append(problems, "view angles must be positive")
	}
	if b.TargetXResolution <= 0 || b.TargetYResolution <= 0 {
		problems = append(problems, "target resolution must be positive")
	}
	if strings.TrimSpace(b.TempDir) == "" {
		problems = append(problems, "temp directory is required")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

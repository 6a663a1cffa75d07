package calibration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdri-calibrator/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestValidateVignetting checks the vignetting token set with loose spacing.
func TestValidateVignetting(t *testing.T) {
	path := writeFile(t, "v.cal", "r = sqrt(x*x+y*y);\nsf\t= 1/(1-r);\nro = ri(1)*sf;\ngo = gi(1)*sf;\nbo = bi(1)*sf;\n")
	require.NoError(t, Validate(KindVignetting, path))
}

// TestValidateReportsMissingTokens checks the missing-definition list.
func TestValidateReportsMissingTokens(t *testing.T) {
	path := writeFile(t, "nd.cal", "ro=ri(1)*2;\n")

	err := Validate(KindNDFilter, path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))

	var fErr *FormatError
	require.ErrorAs(t, err, &fErr)
	assert.Equal(t, []string{"go", "bo"}, fErr.Missing)
}

// TestValidateFisheyeRequiresRadiusFunction checks the fisheye token set.
func TestValidateFisheyeRequiresRadiusFunction(t *testing.T) {
	content := "map_inverse=1;\ninp_r=1;\nmapped_r=1;\nrmult=1;\nxoff=0;\nyoff=0;\nro=1;\ngo=1;\nbo=1;\n"
	path := writeFile(t, "fe.cal", content)

	var fErr *FormatError
	require.ErrorAs(t, Validate(KindFisheye, path), &fErr)
	assert.Equal(t, []string{"rad(r)"}, fErr.Missing)

	path = writeFile(t, "fe2.cal", content+"rad(r) = 2*r;\n")
	require.NoError(t, Validate(KindFisheye, path))
}

// TestValidateMissingFile checks that open failures are not format errors.
func TestValidateMissingFile(t *testing.T) {
	err := Validate(KindCalibrationFactor, filepath.Join(t.TempDir(), "missing.cal"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidFormat))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// TestValidateResponse checks a three-curve response file.
func TestValidateResponse(t *testing.T) {
	path := writeFile(t, "cam.rsp", "3 0.41 -0.05 0.63 0.01\n3 0.39 -0.02 0.62 0.01\n\n3\t0.45 -0.09 0.63 0.01\n")

	curves, err := ValidateResponse(path)
	require.NoError(t, err)
	require.Len(t, curves, 3)
	assert.Equal(t, 3, curves[2].Order)
	assert.Equal(t, []float64{0.45, -0.09, 0.63, 0.01}, curves[2].Coefficients)
	require.NoError(t, Validate(KindResponse, path))
}

// TestValidateResponseRejectsBadLines checks order/coefficient mismatches and curve counts.
func TestValidateResponseRejectsBadLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{name: "short line", content: "3 0.1 0.2 0.3\n", line: 1},
		{name: "non numeric order", content: "x 0.1\n", line: 1},
		{name: "bad coefficient", content: "1 0.1 0.2\n1 a 0.2\n", line: 2},
		{name: "too many curves", content: "1 0.1 0.2\n1 0.1 0.2\n1 0.1 0.2\n1 0.1 0.2\n"},
		{name: "too few curves", content: "1 0.1 0.2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "cam.rsp", tt.content)
			_, err := ValidateResponse(path)

			var fErr *FormatError
			require.ErrorAs(t, err, &fErr)
			assert.Equal(t, tt.line, fErr.Line)
		})
	}
}

// TestFormatPolynomial checks the human-readable rendering of a curve.
func TestFormatPolynomial(t *testing.T) {
	got := FormatPolynomial(ResponseCurve{Order: 2, Coefficients: []float64{0.5, -0.25, 0.1}})
	assert.Equal(t, "(0.5)x^2 - (0.25)x^1 + (0.1)", got)
}

// TestValidateBundleJoinsEveryFileError checks that each supplied file is checked and empty paths are skipped.
func TestValidateBundleJoinsEveryFileError(t *testing.T) {
	good := writeFile(t, "cf.cal", "ro=ri(1)*1.1;go=gi(1)*1.1;bo=bi(1)*1.1;\n")
	badND := writeFile(t, "nd.cal", "ro=ri(1);\n")
	badRsp := writeFile(t, "r.rsp", "2 0.1 0.2 0.7\n")

	err := ValidateBundle(domain.ParameterBundle{
		CalibrationFactorPath: good,
		NDFilterPath:          badND,
		ResponsePath:          badRsp,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
	assert.Contains(t, err.Error(), "nd_filter")
	assert.Contains(t, err.Error(), "response")

	require.NoError(t, ValidateBundle(domain.ParameterBundle{CalibrationFactorPath: good}))
}

// Package calibration validates Radiance calibration files before they are
// handed to the pipeline.
package calibration

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"hdri-calibrator/internal/domain"
)

// Kind identifies which correction a calibration file provides.
type Kind string

const (
	KindResponse          Kind = "response"
	KindVignetting        Kind = "vignetting"
	KindFisheye           Kind = "fisheye"
	KindNDFilter          Kind = "nd_filter"
	KindCalibrationFactor Kind = "calibration_factor"
)

// requiredTokens lists the definitions a .cal file of each kind must contain.
var requiredTokens = map[Kind][]string{
	KindVignetting:        {"r=", "sf=", "ro=", "go=", "bo="},
	KindFisheye:           {"map_inverse=", "inp_r=", "mapped_r=", "rmult=", "xoff=", "yoff=", "ro=", "go=", "bo=", "rad(r)="},
	KindNDFilter:          {"ro=", "go=", "bo="},
	KindCalibrationFactor: {"ro=", "go=", "bo="},
}

// ErrInvalidFormat is matched by every *FormatError.
var ErrInvalidFormat = errors.New("invalid calibration file")

// FormatError describes why a calibration file was rejected.
type FormatError struct {
	Kind    Kind
	Path    string
	Missing []string
	Line    int
	Reason  string
}

func (e *FormatError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("%s file %s: missing definitions %s", e.Kind, e.Path, strings.Join(e.Missing, ", "))
	case e.Line > 0:
		return fmt.Sprintf("%s file %s: line %d: %s", e.Kind, e.Path, e.Line, e.Reason)
	default:
		return fmt.Sprintf("%s file %s: %s", e.Kind, e.Path, e.Reason)
	}
}

func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

// Validate checks the file at path against the format expected for kind.
func Validate(kind Kind, path string) error {
	if kind == KindResponse {
		_, err := ValidateResponse(path)
		return err
	}

	tokens, ok := requiredTokens[kind]
	if !ok {
		return fmt.Errorf("unknown calibration kind: %s", kind)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s file: %w", kind, err)
	}
	defer f.Close()

	found := make(map[string]bool, len(tokens))
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.NewReplacer(" ", "", "\t", "").Replace(scanner.Text())
		for _, token := range tokens {
			if strings.Contains(line, token) {
				found[token] = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s file: %w", kind, err)
	}

	var missing []string
	for _, token := range tokens {
		if !found[token] {
			missing = append(missing, strings.TrimSuffix(token, "="))
		}
	}
	if len(missing) > 0 {
		return &FormatError{Kind: kind, Path: path, Missing: missing}
	}
	return nil
}

// ResponseCurve is one color channel's polynomial, highest order first.
type ResponseCurve struct {
	Order        int
	Coefficients []float64
}

// ValidateResponse parses a camera response function file. Each non-blank
// line holds the order N followed by N+1 coefficients, and the file must
// define exactly three curves (R, G, B).
func ValidateResponse(path string) ([]ResponseCurve, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s file: %w", KindResponse, err)
	}
	defer f.Close()

	var curves []ResponseCurve
	lineNum := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		order, err := strconv.Atoi(fields[0])
		if err != nil || order < 0 {
			return nil, &FormatError{Kind: KindResponse, Path: path, Line: lineNum, Reason: fmt.Sprintf("expected polynomial order, got %q", fields[0])}
		}
		if len(fields)-2 != order {
			return nil, &FormatError{Kind: KindResponse, Path: path, Line: lineNum, Reason: fmt.Sprintf("order %d needs %d coefficients, got %d", order, order+1, len(fields)-1)}
		}

		curve := ResponseCurve{Order: order, Coefficients: make([]float64, 0, order+1)}
		for _, field := range fields[1:] {
			c, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, &FormatError{Kind: KindResponse, Path: path, Line: lineNum, Reason: fmt.Sprintf("coefficient %q is not a number", field)}
			}
			curve.Coefficients = append(curve.Coefficients, c)
		}
		curves = append(curves, curve)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s file: %w", KindResponse, err)
	}

	if len(curves) != 3 {
		return nil, &FormatError{Kind: KindResponse, Path: path, Reason: fmt.Sprintf("expected 3 response curves (R, G, B), found %d", len(curves))}
	}
	return curves, nil
}

// FormatPolynomial renders a curve as "(a)x^N + (b)x^N-1 ... + (z)".
func FormatPolynomial(c ResponseCurve) string {
	var b strings.Builder
	order := c.Order
	for i, coeff := range c.Coefficients {
		switch {
		case coeff < 0:
			b.WriteString(" - ")
			coeff = -coeff
		case i > 0:
			b.WriteString(" + ")
		}
		fmt.Fprintf(&b, "(%s)", strconv.FormatFloat(coeff, 'g', -1, 64))
		if order > 0 {
			fmt.Fprintf(&b, "x^%d", order)
		}
		order--
	}
	return strings.TrimPrefix(b.String(), " ")
}

// ValidateBundle checks every calibration file the bundle supplies and
// returns all format errors joined.
func ValidateBundle(b domain.ParameterBundle) error {
	var errs []error
	for _, f := range []struct {
		kind Kind
		path string
	}{
		{KindResponse, b.ResponsePath},
		{KindVignetting, b.VignettingPath},
		{KindFisheye, b.FisheyePath},
		{KindNDFilter, b.NDFilterPath},
		{KindCalibrationFactor, b.CalibrationFactorPath},
	} {
		if f.path == "" {
			continue
		}
		if err := Validate(f.kind, f.path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

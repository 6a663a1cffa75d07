package radiance

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const radianceMagic = "#?"

// ErrNotRadiance is returned for files without a Radiance "#?" signature line.
var ErrNotRadiance = errors.New("not a Radiance picture")

// Header is the text header of a Radiance picture.
type Header struct {
	Signature  string   // first line, e.g. "#?RADIANCE"
	Lines      []string // header lines in file order, without the signature
	Resolution string   // resolution string following the blank line, e.g. "-Y 1000 +X 1000"
}

// Value returns the value of the last "KEY=" line, or false if there is none.
// Radiance tools append header lines, so the last occurrence wins.
func (h Header) Value(key string) (string, bool) {
	prefix := key + "="
	for i := len(h.Lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(h.Lines[i])
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
		}
	}
	return "", false
}

// View returns the parsed VIEW line of the header.
func (h Header) View() (View, bool) {
	value, ok := h.Value("VIEW")
	if !ok {
		return View{}, false
	}
	view, err := ParseView(value)
	if err != nil {
		return View{}, false
	}
	return view, true
}

// ReadHeader parses the header of the picture at path.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	return parseHeader(bufio.NewReader(f))
}

// HeaderValue is a shortcut for ReadHeader followed by Header.Value.
func HeaderValue(path, key string) (string, error) {
	header, err := ReadHeader(path)
	if err != nil {
		return "", err
	}
	value, ok := header.Value(key)
	if !ok {
		return "", fmt.Errorf("header key %s not found in %s", key, path)
	}
	return value, nil
}

func parseHeader(r *bufio.Reader) (Header, error) {
	var header Header

	first, err := readHeaderLine(r)
	if err != nil {
		return header, fmt.Errorf("%w: %v", ErrNotRadiance, err)
	}
	if !strings.HasPrefix(first, radianceMagic) {
		return header, ErrNotRadiance
	}
	header.Signature = first

	for {
		line, err := readHeaderLine(r)
		if err != nil {
			return header, fmt.Errorf("unterminated header: %w", err)
		}
		if line == "" {
			break
		}
		header.Lines = append(header.Lines, line)
	}

	resolution, err := readHeaderLine(r)
	if err != nil && !errors.Is(err, io.EOF) {
		return header, err
	}
	header.Resolution = resolution
	return header, nil
}

func readHeaderLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// View holds the view parameters of a VIEW header line.
type View struct {
	Type       string  `json:"type"` // "a" for angular fisheye
	Vertical   float64 `json:"vertical"`
	Horizontal float64 `json:"horizontal"`
}

// ParseView extracts -vt, -vv and -vh from a VIEW value such as
// "-vta -vv 186 -vh 186". Other view options are ignored.
func ParseView(value string) (View, error) {
	var view View
	var seenV, seenH bool

	fields := strings.Fields(value)
	for i := 0; i < len(fields); i++ {
		field := fields[i]
		switch {
		case strings.HasPrefix(field, "-vt") && len(field) == 4:
			view.Type = field[3:]
		case field == "-vv" || field == "-vh":
			if i+1 >= len(fields) {
				return view, fmt.Errorf("view option %s has no value", field)
			}
			angle, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return view, fmt.Errorf("view option %s: %w", field, err)
			}
			if field == "-vv" {
				view.Vertical, seenV = angle, true
			} else {
				view.Horizontal, seenH = angle, true
			}
			i++
		}
	}

	if !seenV && !seenH {
		return view, fmt.Errorf("no view angles in %q", value)
	}
	return view, nil
}

// viewArgument formats the header line injected by the view-angle step.
func viewArgument(vertical, horizontal float64) string {
	return fmt.Sprintf("VIEW= -vta -vv %s -vh %s", formatAngle(vertical), formatAngle(horizontal))
}

func formatAngle(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// stripViewLines copies a picture from src to dst without its VIEW= header
// lines. The pixel data after the header is copied byte for byte.
func stripViewLines(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	r := bufio.NewReader(in)
	header, err := parseHeader(r)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(out)
	fmt.Fprintln(w, header.Signature)
	for _, line := range header.Lines {
		if strings.HasPrefix(strings.TrimSpace(line), "VIEW=") {
			continue
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, header.Resolution)

	if _, err := io.Copy(w, r); err != nil {
		out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

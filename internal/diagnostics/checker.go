package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"hdri-calibrator/internal/domain"
)

// RadianceTools lists the Radiance programs the pipeline and luminance map invoke.
var RadianceTools = []string{"ra_xyze", "pcompos", "pcomb", "pfilt", "getinfo", "evalglare", "falsecolor"}

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	var items []domain.DiagnosticItem
	for _, name := range RadianceTools {
		items = append(items, c.checkTool(settings.RadianceDir, name, true))
	}
	items = append(items,
		c.checkTool(settings.HDRGenDir, "hdrgen", true),
		c.checkTool(settings.DcrawEmuDir, "dcraw_emu", false),
		c.checkWritableDir("temp_dir", "Temp directory", settings.TempDir),
		c.checkWritableDir("errors_dir", "Error log directory", settings.ErrorsDir),
		c.checkWritableDir("logs_dir", "Output log directory", settings.LogsDir),
	)
	if strings.TrimSpace(settings.HistoryPath) != "" {
		items = append(items, c.checkWritableDir("history_dir", "History directory", filepath.Dir(settings.HistoryPath)))
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies an executable exists in dir, or on PATH when dir is empty.
// A missing optional tool is reported as a warning.
func (c *Checker) checkTool(dir, name string, required bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "tool_" + name,
		Name: name,
	}
	missing := domain.DiagnosticStatusFail
	if !required {
		missing = domain.DiagnosticStatusWarn
	}

	if strings.TrimSpace(dir) == "" {
		path, err := c.lookPath(name)
		if err != nil {
			item.Status = missing
			item.Message = fmt.Sprintf("Tool not found in PATH: %s", name)
			item.Hint = toolHint(name)
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s", path)
		return item
	}

	path := filepath.Join(dir, name)
	info, err := c.stat(path)
	if err != nil || info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		item.Status = missing
		item.Message = fmt.Sprintf("Tool not found or not executable: %s", path)
		item.Hint = toolHint(name)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

func toolHint(name string) string {
	switch name {
	case "hdrgen":
		return "Install hdrgen and set its directory in settings."
	case "dcraw_emu":
		return "Install LibRaw (dcraw_emu) to merge raw camera images."
	default:
		return "Install Radiance and set its bin directory in settings, or add it to PATH."
	}
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set a directory in settings."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
	}
}

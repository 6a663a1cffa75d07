package radiance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Invocation is one external command with optional file redirection.
// Arguments are passed as a list; no shell is involved.
type Invocation struct {
	Name   string
	Args   []string
	Stdin  string   // file fed to stdin, empty for none
	Stdout string   // file receiving stdout, empty to capture it
	Env    []string // extra KEY=VALUE entries
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args"`
	Stdin    string        `json:"stdin,omitempty"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, inv Invocation) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command. When inv.Stdout is set the file is created before
// the process starts, so the artifact exists even if the command cannot run.
func (r *execRunner) Run(ctx context.Context, inv Invocation) (commandResult, error) {
	result := commandResult{ExitCode: -1}

	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if inv.Stdout != "" {
		out, err := os.Create(inv.Stdout)
		if err != nil {
			return result, fmt.Errorf("create output file %s: %w", inv.Stdout, err)
		}
		defer out.Close()
		cmd.Stdout = out
	} else {
		cmd.Stdout = &stdout
	}

	if inv.Stdin != "" {
		in, err := os.Open(inv.Stdin)
		if err != nil {
			return result, fmt.Errorf("open input file %s: %w", inv.Stdin, err)
		}
		defer in.Close()
		cmd.Stdin = in
	}

	err := cmd.Run()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	result.ExitCode = 0
	return result, nil
}

// Toolchain resolves executable locations. An empty directory means the tool
// is looked up on PATH.
type Toolchain struct {
	RadianceDir string
	HDRGenDir   string
	DcrawEmuDir string
}

// Radiance returns the path of a Radiance tool such as pcomb or getinfo.
func (t Toolchain) Radiance(name string) string {
	return toolPath(t.RadianceDir, name)
}

// HDRGen returns the hdrgen executable path.
func (t Toolchain) HDRGen() string {
	return toolPath(t.HDRGenDir, "hdrgen")
}

// DcrawEmu returns the dcraw_emu executable path.
func (t Toolchain) DcrawEmu() string {
	return toolPath(t.DcrawEmuDir, "dcraw_emu")
}

// pathEnv prepends the Radiance directory to PATH for tools that call other
// Radiance tools themselves.
func (t Toolchain) pathEnv() []string {
	if t.RadianceDir == "" {
		return nil
	}
	return []string{"PATH=" + t.RadianceDir + string(os.PathListSeparator) + os.Getenv("PATH")}
}

func toolPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

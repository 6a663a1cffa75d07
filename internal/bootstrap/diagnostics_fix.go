package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"hdri-calibrator/internal/config"
	"hdri-calibrator/internal/diagnostics"
	"hdri-calibrator/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch {
	case isRadianceToolItem(id):
		fixErr = installRadiance(settings.RadianceDir)
	case id == "tool_dcraw_emu":
		fixErr = installDcrawEmu()
	case id == "tool_hdrgen":
		fixErr = fmt.Errorf("hdrgen has no package; download it from http://www.anyhere.com and set its directory in settings")
	case id == "temp_dir", id == "errors_dir", id == "logs_dir", id == "history_dir":
		settings, settingsChanged, fixErr = installOrFixDirectory(settings, id)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

func isRadianceToolItem(id string) bool {
	for _, name := range diagnostics.RadianceTools {
		if id == "tool_"+name {
			return true
		}
	}
	return false
}

// prependToPATH puts dir first on PATH so child processes find the Radiance tools.
func prependToPATH(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}

	current := os.Getenv("PATH")
	entries := filepath.SplitList(current)
	for _, entry := range entries {
		if filepath.Clean(entry) == filepath.Clean(dir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", dir)
	}
	return os.Setenv("PATH", dir+string(os.PathListSeparator)+current)
}

// installRadiance puts a configured Radiance bin dir on PATH, or installs the
// Radiance suite through the first available package manager.
func installRadiance(radianceDir string) error {
	if radianceDir != "" {
		if info, err := os.Stat(radianceDir); err == nil && info.IsDir() {
			if err := prependToPATH(radianceDir); err != nil {
				return err
			}
			if err := requireToolsOnPath(diagnostics.RadianceTools...); err == nil {
				return nil
			}
		}
	}

	if err := runFirstSuccessfulInstall(radianceInstallOptions(goruntime.GOOS)); err != nil {
		return fmt.Errorf("install radiance: %w", err)
	}
	if err := requireToolsOnPath(diagnostics.RadianceTools...); err != nil {
		return fmt.Errorf("verify radiance on PATH: %w", err)
	}
	return nil
}

func radianceInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return nil
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "radiance"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "radiance"}}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "radiance"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "radiance"}}},
		}
	}
}

func installDcrawEmu() error {
	if err := runFirstSuccessfulInstall(dcrawInstallOptions(goruntime.GOOS)); err != nil {
		return fmt.Errorf("install dcraw_emu: %w", err)
	}
	if err := requireToolsOnPath("dcraw_emu"); err != nil {
		return fmt.Errorf("verify dcraw_emu on PATH: %w", err)
	}
	return nil
}

func dcrawInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "choco", commands: [][]string{{"choco", "install", "libraw", "-y"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "libraw"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "libraw-bin"}}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "LibRaw"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "libraw"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "libraw"}}},
		}
	}
}

func runFirstSuccessfulInstall(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", goruntime.GOOS)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !commandAvailable(option.manager) {
			continue
		}
		atLeastOneManager = true
		if err := runInstallCommands(option.commands); err == nil {
			return nil
		} else {
			errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
		}
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", goruntime.GOOS)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func runInstallCommands(commands [][]string) error {
	for _, command := range commands {
		if err := runCommandWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

func runCommandWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if goruntime.GOOS == "linux" && requiresElevation(command[0]) {
		if commandAvailable("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if commandAvailable("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if err := runCommand(candidate[0], candidate[1:]...); err == nil {
			return nil
		} else {
			attemptErrors = append(attemptErrors, err.Error())
		}
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

func runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func requireToolsOnPath(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

// installOrFixDirectory creates the directory behind a diagnostic item,
// falling back to the default location when the setting is empty.
func installOrFixDirectory(settings domain.Settings, id string) (domain.Settings, bool, error) {
	defaults := config.DefaultSettings()

	var target *string
	var fallback string
	switch id {
	case "temp_dir":
		target, fallback = &settings.TempDir, defaults.TempDir
	case "errors_dir":
		target, fallback = &settings.ErrorsDir, defaults.ErrorsDir
	case "logs_dir":
		target, fallback = &settings.LogsDir, defaults.LogsDir
	case "history_dir":
		target, fallback = &settings.HistoryPath, defaults.HistoryPath
	default:
		return settings, false, fmt.Errorf("unsupported directory item: %s", id)
	}

	changed := false
	if strings.TrimSpace(*target) == "" {
		*target = fallback
		changed = true
	}

	dir := *target
	if id == "history_dir" {
		dir = filepath.Dir(dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return settings, changed, nil
}

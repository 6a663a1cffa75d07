package config

import (
	"os"
	"path/filepath"

	"hdri-calibrator/internal/domain"
)

// AppDirName is the per-user directory holding settings, configurations and history.
const AppDirName = ".hdri-calibrator"

// Dir returns the per-user application directory.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, AppDirName)
}

// SettingsPath returns the settings file location.
func SettingsPath() string {
	return filepath.Join(Dir(), "settings.json")
}

// ConfigurationsDir returns the directory of saved calibration configurations.
func ConfigurationsDir() string {
	return filepath.Join(Dir(), "configurations")
}

// DefaultSettings returns baseline local configuration for first launch.
// Empty tool directories mean the tools are looked up on PATH.
func DefaultSettings() domain.Settings {
	dir := Dir()
	return domain.Settings{
		TempDir:     filepath.Join(dir, "tmp"),
		ErrorsDir:   filepath.Join(dir, "errors"),
		LogsDir:     filepath.Join(dir, "logs"),
		HistoryPath: filepath.Join(dir, "history.db"),
		ErrorPolicy: domain.ErrorPolicyContinue,
	}
}

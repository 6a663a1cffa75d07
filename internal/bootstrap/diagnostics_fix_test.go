package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hdri-calibrator/internal/domain"
)

// TestInstallOrFixDirectoryCreatesConfiguredDirectory ensures a set directory is created as-is.
func TestInstallOrFixDirectoryCreatesConfiguredDirectory(t *testing.T) {
	logsDir := filepath.Join(t.TempDir(), "nested", "logs")

	fixed, changed, err := installOrFixDirectory(domain.Settings{LogsDir: logsDir}, "logs_dir")
	if err != nil {
		t.Fatalf("fix logs dir: %v", err)
	}
	if changed {
		t.Fatal("expected settings to remain unchanged")
	}
	if fixed.LogsDir != logsDir {
		t.Fatalf("LogsDir = %s, want %s", fixed.LogsDir, logsDir)
	}
	if _, err := os.Stat(logsDir); err != nil {
		t.Fatalf("stat logs dir: %v", err)
	}
}

// TestInstallOrFixDirectoryFallsBackToDefault ensures an empty setting gets the default location.
func TestInstallOrFixDirectoryFallsBackToDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	fixed, changed, err := installOrFixDirectory(domain.Settings{}, "temp_dir")
	if err != nil {
		t.Fatalf("fix temp dir: %v", err)
	}
	if !changed {
		t.Fatal("expected settings to change")
	}
	if !strings.HasSuffix(fixed.TempDir, filepath.Join(".hdri-calibrator", "tmp")) {
		t.Fatalf("TempDir = %s", fixed.TempDir)
	}
	if _, err := os.Stat(fixed.TempDir); err != nil {
		t.Fatalf("stat temp dir: %v", err)
	}
}

// TestInstallOrFixDirectoryCreatesHistoryParent ensures the history fix creates the database's directory.
func TestInstallOrFixDirectoryCreatesHistoryParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db", "history.db")

	if _, _, err := installOrFixDirectory(domain.Settings{HistoryPath: dbPath}, "history_dir"); err != nil {
		t.Fatalf("fix history dir: %v", err)
	}
	if info, err := os.Stat(filepath.Dir(dbPath)); err != nil || !info.IsDir() {
		t.Fatalf("history parent not created: %v", err)
	}
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatalf("database file should not be created, stat err = %v", err)
	}
}

// TestPrependToPATHIsIdempotent checks the Radiance dir is added once and first.
func TestPrependToPATHIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PATH", "/usr/bin")

	if err := prependToPATH(dir); err != nil {
		t.Fatalf("prepend: %v", err)
	}
	if err := prependToPATH(dir); err != nil {
		t.Fatalf("prepend again: %v", err)
	}

	entries := filepath.SplitList(os.Getenv("PATH"))
	if len(entries) != 2 || entries[0] != dir {
		t.Fatalf("PATH entries = %v", entries)
	}
}

// TestPrependToPATHIgnoresEmptyDir checks that an unset Radiance dir leaves PATH alone.
func TestPrependToPATHIgnoresEmptyDir(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	if err := prependToPATH("  "); err != nil {
		t.Fatalf("prepend: %v", err)
	}
	if got := os.Getenv("PATH"); got != "/usr/bin" {
		t.Fatalf("PATH = %s", got)
	}
}

// TestInstallOptionsPerOS checks package manager choices for Radiance and LibRaw.
func TestInstallOptionsPerOS(t *testing.T) {
	if got := radianceInstallOptions("windows"); len(got) != 0 {
		t.Fatalf("windows radiance options = %v, want none", got)
	}
	linux := radianceInstallOptions("linux")
	if len(linux) == 0 || linux[0].manager != "apt-get" {
		t.Fatalf("linux radiance options = %v", linux)
	}
	if last := linux[0].commands[len(linux[0].commands)-1]; last[len(last)-1] != "radiance" {
		t.Fatalf("apt-get command = %v", last)
	}

	darwin := dcrawInstallOptions("darwin")
	if len(darwin) != 1 || darwin[0].commands[0][2] != "libraw" {
		t.Fatalf("darwin dcraw options = %v", darwin)
	}
}

// TestIsRadianceToolItem checks diagnostic IDs routed to the Radiance installer.
func TestIsRadianceToolItem(t *testing.T) {
	if !isRadianceToolItem("tool_evalglare") {
		t.Fatal("tool_evalglare should be a Radiance tool")
	}
	if isRadianceToolItem("tool_hdrgen") {
		t.Fatal("tool_hdrgen is not part of Radiance")
	}
}

// TestInstallOrFixDiagnosticRejectsUnknownItem checks the unsupported ID error.
func TestInstallOrFixDiagnosticRejectsUnknownItem(t *testing.T) {
	app := newTestApp(&fakeStore{}, &fakePipeline{}, nil)
	if _, err := app.InstallOrFixDiagnostic("model_path"); err == nil {
		t.Fatal("expected error for unknown diagnostic item")
	}
}

// TestInstallOrFixDiagnosticSavesDefaultedDirectory checks settings are persisted after a fix.
func TestInstallOrFixDiagnosticSavesDefaultedDirectory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	store := &fakeStore{}
	app := newTestApp(store, &fakePipeline{}, nil)

	if _, err := app.InstallOrFixDiagnostic("errors_dir"); err != nil {
		t.Fatalf("fix errors dir: %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].ErrorsDir == "" {
		t.Fatalf("saved settings = %+v", store.saved)
	}
}

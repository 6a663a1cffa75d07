// Package history persists pipeline runs and their step outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is one pipeline execution.
type Run struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt,omitempty"`
	Status        string    `json:"status"`
	Percent       int       `json:"percent"`
	StatusText    string    `json:"statusText"`
	LDRCount      int       `json:"ldrCount"`
	ErrorPolicy   string    `json:"errorPolicy"`
	TempDir       string    `json:"tempDir"`
	FinalArtifact string    `json:"finalArtifact"`
	ErrorLogPath  string    `json:"errorLogPath"`
	OutputLogPath string    `json:"outputLogPath"`
	GlareReport   string    `json:"glareReport,omitempty"`
}

// Step is the recorded outcome of one pipeline step.
type Step struct {
	RunID    string        `json:"runId"`
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Failed   bool          `json:"failed"`
	Message  string        `json:"message,omitempty"`
	Command  string        `json:"command,omitempty"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	Artifact string        `json:"artifact,omitempty"`
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	// m.Close would close db as well; the store keeps using it.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun inserts a run or replaces the stored row with the same ID.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, session_id, started_at, finished_at, status, percent, status_text,
			ldr_count, error_policy, temp_dir, final_artifact, error_log_path,
			output_log_path, glare_report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET
			session_id = excluded.session_id,
			finished_at = excluded.finished_at,
			status = excluded.status,
			percent = excluded.percent,
			status_text = excluded.status_text,
			final_artifact = excluded.final_artifact,
			error_log_path = excluded.error_log_path,
			output_log_path = excluded.output_log_path,
			glare_report = excluded.glare_report`,
		r.ID, r.SessionID, formatTime(r.StartedAt), nullableTime(r.FinishedAt), r.Status,
		r.Percent, r.StatusText, r.LDRCount, r.ErrorPolicy, r.TempDir, r.FinalArtifact,
		r.ErrorLogPath, r.OutputLogPath, r.GlareReport,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

// RecordStep stores one step outcome of a recorded run.
func (s *Store) RecordStep(ctx context.Context, st Step) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_steps (
			run_id, step_index, name, failed, message, command, exit_code, duration_ms, artifact
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.RunID, st.Index, st.Name, st.Failed, st.Message, st.Command, st.ExitCode,
		st.Duration.Milliseconds(), st.Artifact,
	)
	if err != nil {
		return fmt.Errorf("record step %s/%d: %w", st.RunID, st.Index, err)
	}
	return nil
}

// ListRuns returns the most recent runs first. A limit of zero returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT run_id, session_id, started_at, finished_at, status, percent, status_text,
			ldr_count, error_policy, temp_dir, final_artifact, error_log_path,
			output_log_path, glare_report
		FROM runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, session_id, started_at, finished_at, status, percent, status_text,
			ldr_count, error_policy, temp_dir, final_artifact, error_log_path,
			output_log_path, glare_report
		FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, err
}

// StepsForRun returns the recorded steps of a run in execution order.
func (s *Store) StepsForRun(ctx context.Context, runID string) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_index, name, failed, message, command, exit_code, duration_ms, artifact
		FROM run_steps WHERE run_id = ? ORDER BY step_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps for %s: %w", runID, err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		var durationMS int64
		if err := rows.Scan(&st.RunID, &st.Index, &st.Name, &st.Failed, &st.Message,
			&st.Command, &st.ExitCode, &durationMS, &st.Artifact); err != nil {
			return nil, err
		}
		st.Duration = time.Duration(durationMS) * time.Millisecond
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var started string
	var finished sql.NullString
	if err := sc.Scan(&r.ID, &r.SessionID, &started, &finished, &r.Status, &r.Percent,
		&r.StatusText, &r.LDRCount, &r.ErrorPolicy, &r.TempDir, &r.FinalArtifact,
		&r.ErrorLogPath, &r.OutputLogPath, &r.GlareReport); err != nil {
		return Run{}, err
	}

	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at of %s: %w", r.ID, err)
	}
	if finished.Valid && finished.String != "" {
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return Run{}, fmt.Errorf("parse finished_at of %s: %w", r.ID, err)
		}
	}
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

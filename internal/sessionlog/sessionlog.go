// Package sessionlog writes the per-run error and output log files.
package sessionlog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TimestampLayout formats the session identifier embedded in log file names.
const TimestampLayout = "20060102-150405.000"

const (
	levelError = "ERROR"
	levelInfo  = "INFO"
)

// Logf reports log write failures. It defaults to log.Printf (stderr) and may
// be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the fallback logger. Passing nil mutes it.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SessionID returns the identifier for a session started at t.
func SessionID(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Logger appends entries to ErrorLog_<session>.txt and OutputLog_<session>.txt.
// Each entry opens, appends and closes the file; failures never reach the caller.
type Logger struct {
	name      string
	errorsDir string
	logsDir   string
	sessionID string

	mu       sync.Mutex
	mkdirAll func(path string, perm os.FileMode) error
	openFile func(name string, flag int, perm os.FileMode) (*os.File, error)
}

// New creates a logger for one session. Empty directories fall back to
// "errors" and "logs" under the working directory.
func New(errorsDir, logsDir string, sessionTime time.Time) *Logger {
	if errorsDir == "" {
		errorsDir = "errors"
	}
	if logsDir == "" {
		logsDir = "logs"
	}
	return &Logger{
		name:      "radiance_pipeline",
		errorsDir: errorsDir,
		logsDir:   logsDir,
		sessionID: SessionID(sessionTime),
		mkdirAll:  os.MkdirAll,
		openFile:  os.OpenFile,
	}
}

// SessionID returns the start-time identifier shared by both log files.
func (l *Logger) SessionID() string {
	return l.sessionID
}

// ErrorLogPath returns the path of this session's error log.
func (l *Logger) ErrorLogPath() string {
	return filepath.Join(l.errorsDir, "ErrorLog_"+l.sessionID+".txt")
}

// OutputLogPath returns the path of this session's output log.
func (l *Logger) OutputLogPath() string {
	return filepath.Join(l.logsDir, "OutputLog_"+l.sessionID+".txt")
}

// Errorf appends an ERROR entry to the error log.
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.append(l.errorsDir, l.ErrorLogPath(), levelError, fmt.Sprintf(format, args...))
}

// Infof appends an INFO entry to the output log.
func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.append(l.logsDir, l.OutputLogPath(), levelInfo, fmt.Sprintf(format, args...))
}

func (l *Logger) append(dir, path, level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.mkdirAll(dir, 0o755); err != nil {
		Logf("sessionlog: create %s: %v (%s %s)", dir, err, level, message)
		return
	}

	f, err := l.openFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		Logf("sessionlog: open %s: %v (%s %s)", path, err, level, message)
		return
	}

	logger := log.New(f, "", log.LstdFlags)
	logger.Printf("%s %s [%s] %s", level, l.name, l.sessionID, message)
	if err := f.Close(); err != nil {
		Logf("sessionlog: close %s: %v", path, err)
	}
}

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level controls which messages are written.
type Level int

const (
	// LevelQuiet writes errors only.
	LevelQuiet Level = iota
	// LevelNormal writes info, warnings and errors.
	LevelNormal
	// LevelVerbose adds debug messages.
	LevelVerbose
	// LevelDebug adds debug messages annotated with the calling file and line.
	LevelDebug
)

// ParseLevel maps a verbosity name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quiet":
		return LevelQuiet, nil
	case "", "normal":
		return LevelNormal, nil
	case "verbose":
		return LevelVerbose, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelNormal, fmt.Errorf("invalid verbosity %q: must be quiet, normal, verbose, or debug", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelQuiet:
		return "quiet"
	case LevelVerbose:
		return "verbose"
	case LevelDebug:
		return "debug"
	default:
		return "normal"
	}
}

// Options configures where and how much the process logs. Zero values fall
// back to ~/.webpilot/logs, 20 MB files and 3 backups.
type Options struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	Level      Level
}

const (
	defaultMaxSizeMB  = 20
	defaultMaxBackups = 3
)

// Logger provides leveled logging for webpilot components.
// All components of a process share one rotating file:
// <dir>/<session-id>-webpilot.log
//
// Loggers are usually created from package init functions, before the
// process has read its configuration. They resolve the destination and level
// on every write, so a later Configure call applies to them too.
type Logger struct {
	component string
}

var (
	// Global session ID for the current process
	sessionID     string
	sessionIDOnce sync.Once

	// mu guards everything below and serializes writes.
	mu          sync.Mutex
	opts        = Options{Level: LevelNormal}
	writer      *lumberjack.Logger
	logDir      string
	initErr     error
	initialized bool
)

// getSessionID returns or creates the session ID for this process
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// Configure sets process-wide logging options. An already open log file is
// closed; the next write opens one in the configured directory.
func Configure(o Options) {
	mu.Lock()
	defer mu.Unlock()

	opts = o
	if writer != nil {
		_ = writer.Close()
	}
	writer = nil
	logDir = ""
	initErr = nil
	initialized = false
}

// ensureWriter opens the rotating writer on first use. Callers hold mu.
func ensureWriter() error {
	if initialized {
		return initErr
	}
	initialized = true

	dir := opts.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return initErr
		}
		dir = filepath.Join(homeDir, ".webpilot", "logs")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		initErr = fmt.Errorf("failed to create log directory: %w", err)
		return initErr
	}
	logDir = dir

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = defaultMaxSizeMB
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = defaultMaxBackups
	}
	writer = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fmt.Sprintf("%s-webpilot.log", getSessionID())),
		MaxSize:    maxSize,
		MaxBackups: backups,
	}
	return nil
}

// NewLogger creates a new logger for a specific component.
//
// If the log directory cannot be created, the logger falls back to stderr
// and the error is returned alongside it. Callers can check the error to
// detect fallback mode.
func NewLogger(component string) (*Logger, error) {
	mu.Lock()
	err := ensureWriter()
	mu.Unlock()
	return &Logger{component: component}, err
}

// formatLogEntry creates a log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s", timestamp, l.component, level, message)
}

func (l *Logger) write(min Level, level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Level < min {
		return
	}
	message := fmt.Sprintf(format, v...)
	if level == "DEBUG" && opts.Level >= LevelDebug {
		if _, file, line, ok := runtime.Caller(2); ok {
			message = fmt.Sprintf("%s:%d: %s", filepath.Base(file), line, message)
		}
	}

	var out io.Writer = os.Stderr
	if ensureWriter() == nil {
		out = writer
	}
	fmt.Fprintln(out, l.formatLogEntry(level, message))
}

// Debugf logs a debug-level message. It is dropped below LevelVerbose.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.write(LevelVerbose, "DEBUG", format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.write(LevelNormal, "INFO", format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.write(LevelNormal, "WARN", format, v...)
}

// Errorf logs an error-level message. Errors are always written.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.write(LevelQuiet, "ERROR", format, v...)
}

// LogPath returns the path to the log file, or "" in stderr fallback mode
func (l *Logger) LogPath() string {
	mu.Lock()
	defer mu.Unlock()
	if ensureWriter() != nil {
		return ""
	}
	return writer.Filename
}

// SessionID returns the current process session ID
func (l *Logger) SessionID() string {
	return getSessionID()
}

// CurrentLevel returns the configured verbosity.
func CurrentLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return opts.Level
}

// Close flushes and closes the shared log file. Safe to call multiple times;
// a later write reopens the file.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if writer != nil {
		return writer.Close()
	}
	return nil
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	mu.Lock()
	defer mu.Unlock()
	if err := ensureWriter(); err != nil {
		return "", err
	}
	return logDir, nil
}

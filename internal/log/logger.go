package log

import (
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"modelplayground/internal/core"
	"modelplayground/internal/util"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel defines the severity level for log messages.
type LogLevel int

// Log level constants.
const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// AppLogger is the application logger implementation.
type AppLogger struct {
	logger *log.Logger
	debug  bool
	closer io.Closer
	mu     sync.RWMutex
}

// NewAppLoggerWithConfig creates a logger instance with configuration.
func NewAppLoggerWithConfig(output io.Writer, debugMode bool) *AppLogger {
	return &AppLogger{
		logger: log.New(output, "", log.LstdFlags),
		debug:  debugMode,
	}
}

// Debug logs a message at DEBUG level.
func (l *AppLogger) Debug(format string, args ...any) {
	if l != nil && l.debug {
		l.logger.Printf("[DEBUG] "+format, args...)
	}
}

// Info logs a message at INFO level.
func (l *AppLogger) Info(format string, args ...any) {
	if l != nil {
		l.logger.Printf("[INFO] "+format, args...)
	}
}

// Warn logs a message at WARN level.
func (l *AppLogger) Warn(format string, args ...any) {
	if l != nil {
		l.logger.Printf("[WARN] "+format, args...)
	}
}

// Error logs a message at ERROR level.
func (l *AppLogger) Error(format string, args ...any) {
	if l != nil {
		l.logger.Printf("[ERROR] "+format, args...)
	}
}

// Fatal logs a message at FATAL level and terminates the process.
func (l *AppLogger) Fatal(format string, args ...any) {
	if l != nil {
		l.logger.Fatalf("[FATAL] "+format, args...)
	}
	log.New(os.Stderr, "", log.LstdFlags).Fatalf("[FATAL] "+format, args...)
}

// Close flushes and closes the rotating log file, if any.
func (l *AppLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closer != nil {
		err := l.closer.Close()
		l.closer = nil
		return err
	}
	return nil
}

// containsPathTraversal checks if path contains path traversal segments.
func containsPathTraversal(path string) bool {
	normalized := strings.ReplaceAll(path, "\\", "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

// RotationConfig controls DEBUG_FILE rotation.
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// rotationFromEnv reads LOG_MAX_* overrides.
func rotationFromEnv() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  util.GetEnvInt("LOG_MAX_SIZE_MB", core.DefaultLogMaxSizeMB),
		MaxBackups: util.GetEnvInt("LOG_MAX_BACKUPS", core.DefaultLogMaxBackups),
		MaxAgeDays: util.GetEnvInt("LOG_MAX_AGE_DAYS", core.DefaultLogMaxAgeDays),
	}
}

// createDebugFileOutput picks the log destination. An unusable DEBUG_FILE falls back to stdout
// and the reason is returned so it can be logged once the logger exists.
func createDebugFileOutput(debugFile string, rotation RotationConfig) (io.Writer, io.Closer, string) {
	if debugFile == "" {
		return os.Stdout, nil, ""
	}

	if len(debugFile) > core.MaxDebugFilePathLength {
		return os.Stdout, nil, "DEBUG_FILE path too long, falling back to stdout"
	}

	if containsPathTraversal(debugFile) {
		return os.Stdout, nil, "DEBUG_FILE contains path traversal characters, falling back to stdout"
	}

	rotator := &lumberjack.Logger{
		Filename:   debugFile,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   true,
	}

	return rotator, rotator, ""
}

// IsDebug returns whether the app is running in debug mode.
func IsDebug() bool {
	return os.Getenv("GIN_MODE") == "debug"
}

// CreateLogger creates a logger instance (for dependency injection).
func CreateLogger() core.Logger {
	output, closer, warning := createDebugFileOutput(os.Getenv("DEBUG_FILE"), rotationFromEnv())

	logger := &AppLogger{
		logger: log.New(output, "", log.LstdFlags),
		debug:  IsDebug(),
		closer: closer,
	}

	if warning != "" {
		logger.Warn("%s", warning)
	}

	return logger
}

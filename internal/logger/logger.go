// Package logger provides a simple logging interface for cscs-keygen components.
// It allows packages to log debug, info, warn, and error messages without
// being coupled to a specific logging implementation.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Level is the minimum severity a logger emits.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// DebugEnv forces debug output regardless of the configured level.
const DebugEnv = "CSCS_KEYGEN_DEBUG"

// LevelEnv overrides the default level ("error", "warn", "info", "debug").
const LevelEnv = "LOG_LEVEL"

// ParseLevel converts a level name to a Level. Unknown names map to LevelWarn.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelWarn
	}
}

// LevelFromVerbosity maps the CLI's -q/-v counters onto a Level.
// Negative verbosity means quiet; each -v raises the level by one step
// above the base level.
func LevelFromVerbosity(base Level, verbosity int) Level {
	if verbosity < 0 {
		return LevelError
	}
	lvl := base + Level(verbosity)
	if lvl > LevelDebug {
		lvl = LevelDebug
	}
	return lvl
}

// envLogger implements Logger and writes through the standard log package.
// Debug messages are also printed when CSCS_KEYGEN_DEBUG is set.
type envLogger struct {
	prefix string
	mu     sync.RWMutex
	level  Level
}

// NewEnvLogger creates a logger that respects the CSCS_KEYGEN_DEBUG and
// LOG_LEVEL environment variables. The prefix is prepended to all log
// messages (e.g., "[vault]" or "[exchange]").
func NewEnvLogger(prefix string) Logger {
	return &envLogger{prefix: prefix, level: ParseLevel(os.Getenv(LevelEnv))}
}

// NewLevelLogger creates a logger with an explicit minimum level.
func NewLevelLogger(prefix string, level Level) Logger {
	return &envLogger{prefix: prefix, level: level}
}

func (l *envLogger) enabled(level Level) bool {
	if level == LevelDebug && os.Getenv(DebugEnv) != "" {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *envLogger) format(tag, format string) string {
	prefix := l.prefix
	if prefix != "" {
		prefix += " "
	}
	return prefix + tag + format
}

func (l *envLogger) Debug(format string, args ...interface{}) {
	if l.enabled(LevelDebug) {
		log.Printf(l.format("DEBUG: ", format), args...)
	}
}

func (l *envLogger) Info(format string, args ...interface{}) {
	if l.enabled(LevelInfo) {
		log.Printf(l.format("", format), args...)
	}
}

func (l *envLogger) Warn(format string, args ...interface{}) {
	if l.enabled(LevelWarn) {
		log.Printf(l.format("WARN: ", format), args...)
	}
}

func (l *envLogger) Error(format string, args ...interface{}) {
	log.Printf(l.format("ERROR: ", format), args...)
}

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
}

// BufferLogger captures log messages for testing.
type BufferLogger struct {
	mu       sync.Mutex
	Messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{
		Messages: make([]LogMessage, 0),
	}
}

func (l *BufferLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, LogMessage{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.add("debug", format, args...) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.add("info", format, args...) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.add("warn", format, args...) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.add("error", format, args...) }

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Contains returns true if any captured message contains substr.
func (l *BufferLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = l.Messages[:0]
}

// defaultLogger is the package-level default logger.
var defaultLogger = NewEnvLogger("")

// Default returns the default logger for the package.
func Default() Logger {
	return defaultLogger
}

// SetDefault sets the default logger for the package.
func SetDefault(l Logger) {
	defaultLogger = l
}

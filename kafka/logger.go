package kafka

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
)

// Logger interface for customizable logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// DefaultLogger implements Logger on the standard log package, dropping
// messages above its level
type DefaultLogger struct {
	level  LogLevel
	logger *log.Logger
}

// NewDefaultLogger creates a logger writing to stderr
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return NewDefaultLoggerWithOutput(os.Stderr, level)
}

// NewDefaultLoggerWithOutput creates a logger writing to w
func NewDefaultLoggerWithOutput(w io.Writer, level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		logger: log.New(w, "[kafka] ", log.LstdFlags),
	}
}

var levelTags = map[LogLevel]string{
	LogLevelError: "[ERROR] ",
	LogLevelWarn:  "[WARN] ",
	LogLevelInfo:  "[INFO] ",
	LogLevelDebug: "[DEBUG] ",
}

func (l *DefaultLogger) logf(level LogLevel, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	l.logger.Printf(levelTags[level]+format, args...)
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(format string, args ...interface{}) {
	l.logf(LogLevelDebug, format, args...)
}

// Info logs an info message
func (l *DefaultLogger) Info(format string, args ...interface{}) {
	l.logf(LogLevelInfo, format, args...)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(format string, args ...interface{}) {
	l.logf(LogLevelWarn, format, args...)
}

// Error logs an error message
func (l *DefaultLogger) Error(format string, args ...interface{}) {
	l.logf(LogLevelError, format, args...)
}

// SlogLogger adapts a *slog.Logger to Logger
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps logger; a nil logger uses slog.Default()
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger.With("component", "kafka-producer-factory")}
}

func (l *SlogLogger) log(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *SlogLogger) Debug(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

// Info logs an info message
func (l *SlogLogger) Info(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *SlogLogger) Warn(format string, args ...interface{}) {
	l.log(slog.LevelWarn, format, args...)
}

// Error logs an error message
func (l *SlogLogger) Error(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

// NoopLogger is a logger that does nothing
type NoopLogger struct{}

// NewNoopLogger creates a no-op logger
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Debug does nothing
func (l *NoopLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoopLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoopLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoopLogger) Error(format string, args ...interface{}) {}

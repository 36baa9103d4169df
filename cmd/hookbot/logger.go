// cmd/hookbot/logger.go
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarning
	LogError
)

var logLevelStrings = map[LogLevel]string{
	LogDebug:   "DEBUG",
	LogInfo:    "INFO",
	LogWarning: "WARN",
	LogError:   "ERROR",
}

var zapLevels = map[LogLevel]zapcore.Level{
	LogDebug:   zapcore.DebugLevel,
	LogInfo:    zapcore.InfoLevel,
	LogWarning: zapcore.WarnLevel,
	LogError:   zapcore.ErrorLevel,
}

// ParseLogLevel converts a level name to a LogLevel, defaulting to info
func ParseLogLevel(name string) LogLevel {
	for level, s := range logLevelStrings {
		if strings.EqualFold(s, name) {
			return level
		}
	}
	if strings.EqualFold(name, "warning") {
		return LogWarning
	}
	return LogInfo
}

// Logger handles application logging
type Logger struct {
	sugar     *zap.SugaredLogger
	level     zap.AtomicLevel
	file      *os.File
	startTime time.Time
}

var (
	instance *Logger
	once     sync.Once
)

// InitLogger initializes the global logger instance
func InitLogger(logPath string, level LogLevel, format string) error {
	var err error
	once.Do(func() {
		instance, err = NewLogger(logPath, level, format)
	})
	return err
}

// Log returns the global logger instance. Before InitLogger runs it
// returns a logger that discards everything.
func Log() *Logger {
	if instance == nil {
		return NopLogger()
	}
	return instance
}

// NewLogger creates a logger writing to stdout and, when logPath is set,
// to that file as well.
func NewLogger(logPath string, level LogLevel, format string) (*Logger, error) {
	atom := zap.NewAtomicLevelAt(zapLevels[level])

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}

	var file *os.File
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		file = f
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), atom)
	l := &Logger{
		sugar:     zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar(),
		level:     atom,
		file:      file,
		startTime: time.Now(),
	}

	l.Info("Logger initialized")
	return l, nil
}

// NewLoggerFromCore wraps an existing zap core
func NewLoggerFromCore(core zapcore.Core) *Logger {
	return &Logger{
		sugar:     zap.New(core).Sugar(),
		level:     zap.NewAtomicLevelAt(zapcore.DebugLevel),
		startTime: time.Now(),
	}
}

// NopLogger returns a logger that discards everything
func NopLogger() *Logger {
	return &Logger{
		sugar:     zap.NewNop().Sugar(),
		level:     zap.NewAtomicLevel(),
		startTime: time.Now(),
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Close flushes buffered entries and closes the log file
func (l *Logger) Close() error {
	_ = l.sugar.Sync()
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// GetStats returns logging statistics
func (l *Logger) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"uptime": time.Since(l.startTime).String(),
		"level":  l.level.Level().CapitalString(),
	}
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(zapLevels[level])
	l.Info("Log level changed to %s", logLevelStrings[level])
}

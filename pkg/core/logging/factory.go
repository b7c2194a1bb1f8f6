// ============================================================================
// bell - Turn-Taking Voice Session Engine
// ============================================================================
//
// Package:     logging
// Description: Logger factory and key/value logging facade
// Author:      Mike Stoffels with Claude
// Created:     2026-10-18
// License:     MIT
// ============================================================================

package logging

import (
	"io"
	"os"
	"sync"

	belllog "github.com/msto63/bell/pkg/core/log"
)

var (
	defaultsMu sync.RWMutex
	defaults   = LoggerConfig{Level: "info", Format: "text"}
)

// LoggerConfig holds configuration for creating loggers
type LoggerConfig struct {
	// ServiceName is the logger name shown in every entry
	ServiceName string

	// Level (trace, debug, info, warn, error)
	Level string

	// Format is "json" or "text"
	Format string

	// Output defaults to stderr
	Output io.Writer

	// AdditionalOutputs receive a copy of every entry
	AdditionalOutputs []io.Writer
}

// DefaultLoggerConfig returns the process-wide defaults for serviceName
func DefaultLoggerConfig(serviceName string) LoggerConfig {
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	cfg := defaults
	cfg.ServiceName = serviceName
	return cfg
}

// SetDefaults changes level, format and output for loggers created afterwards.
// Empty values keep the current setting.
func SetDefaults(level, format string, output io.Writer) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	if level != "" {
		defaults.Level = level
	}
	if format != "" {
		defaults.Format = format
	}
	if output != nil {
		defaults.Output = output
	}
}

// NewLogger creates a structured logger from cfg. Unknown level or format
// names fall back to info and JSON.
func NewLogger(cfg LoggerConfig) *belllog.Logger {
	level, _ := belllog.ParseLevel(cfg.Level)
	format, _ := belllog.ParseFormat(cfg.Format)

	var output io.Writer = os.Stderr
	if cfg.Output != nil {
		output = cfg.Output
	}
	if len(cfg.AdditionalOutputs) > 0 {
		output = io.MultiWriter(append([]io.Writer{output}, cfg.AdditionalOutputs...)...)
	}

	return belllog.NewWithConfig(belllog.Config{
		Level:        level,
		Format:       format,
		Output:       output,
		Name:         cfg.ServiceName,
		EnableCaller: level <= belllog.LevelDebug,
	})
}

// Logger is a key/value facade over the structured logger:
//
//	logger.Info("turn completed", "turn_id", id, "took", d)
type Logger struct {
	*belllog.Logger
	name string
}

// New creates a named logger using the process-wide defaults
func New(name string) *Logger {
	return &Logger{
		Logger: NewLogger(DefaultLoggerConfig(name)),
		name:   name,
	}
}

// Wrap adapts an existing structured logger
func Wrap(l *belllog.Logger) *Logger {
	return &Logger{Logger: l, name: l.Name()}
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		Logger: l.Logger.WithFields(toFields(keysAndValues...)),
		name:   l.name,
	}
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Logger.Debug(msg, toFields(keysAndValues...))
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Logger.Info(msg, toFields(keysAndValues...))
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Logger.Warn(msg, toFields(keysAndValues...))
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Logger.Error(msg, toFields(keysAndValues...))
}

// toFields converts key-value pairs to log fields; a dangling key is dropped
func toFields(keysAndValues ...interface{}) belllog.Fields {
	if len(keysAndValues) == 0 {
		return nil
	}

	fields := make(belllog.Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

// Package logger builds the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLogFile is where launcherd logs when no file is given.
const DefaultLogFile = "launcherd.log"

// Init initializes the file logger, writing to launcherd.log in the current directory.
// It should be called once at application startup.
// Log level can be configured via LOG_LEVEL environment variable (trace, debug, info, warn, error).
func Init() (zerolog.Logger, error) {
	return InitWithOptions(DefaultLogFile, false)
}

// InitWithOptions initializes the logger with the specified options.
// If logFile is empty, logs to stdout.
// If pretty is true, uses ConsoleWriter for human-readable output (only valid when logFile is empty).
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	switch {
	case logFile != "":
		if dir := filepath.Dir(logFile); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return zerolog.Logger{}, fmt.Errorf("failed to create log directory %s: %w", dir, err)
			}
		}
		//nolint:gosec // G304: User-specified log file path is intentional
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		log := New(file, level)
		log.Info().Str("path", logFile).Str("level", level.String()).Msg("Logger initialized")
		return log, nil
	case pretty:
		log := New(zerolog.ConsoleWriter{Out: os.Stdout}, level)
		log.Info().Str("output", "stdout").Str("format", "pretty").Str("level", level.String()).Msg("Logger initialized")
		return log, nil
	default:
		log := New(os.Stdout, level)
		log.Info().Str("output", "stdout").Str("level", level.String()).Msg("Logger initialized")
		return log, nil
	}
}

// Stderr returns a quiet console logger for CLI tools, whose stdout carries
// answers. Only warnings and above are shown unless LOG_LEVEL says otherwise.
func Stderr() zerolog.Logger {
	level := zerolog.WarnLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = parseLogLevel(env)
	}
	return New(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

// New creates a timestamped logger writing to w.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

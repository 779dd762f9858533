// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Rate limiter waits (tokens, computed delay)
//   - Cache operations (hit/miss, key, TTL)
//   - Pagination page boundaries (cursor, offset, page count)
//
// Info: Normal operation events
//   - Successful fetches (source, record count, duration)
//   - Circuit breaker recovery (half-open trial success)
//   - Pipeline startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts (with delay and reason)
//   - Circuit breaker transitions to open/half-open
//   - Pagination anomalies (empty page, invalid payload, page limit)
//   - Fallback payload substitution
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries exhausted)
//   - Payload decode failures
//   - Configuration errors
//
// Context Fields:
//   - destination: upstream host the limiter/breaker pair is keyed by
//   - source: data-source adapter name (chembl, crossref, ...)
//   - url: full request URL
//   - status_code: HTTP status code
//   - attempt: zero-based retry attempt index
//   - delay: computed retry or rate-limit delay
//   - error_class: error classification (connection, timeout, http, ...)
//   - state: circuit breaker state after a transition
//   - pages: number of pages fetched by a pagination run
//   - run_id: pipeline run identity stamped into provenance

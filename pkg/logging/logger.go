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
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
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
//   - Batch dispatch (batch index, wave size)
//   - Duplicate and no-data skips (id)
//   - Cache operations (hit/miss, key, TTL)
//   - Rate pacing decisions (wait duration)
//
// Info: Normal operation events
//   - Run start/completion
//   - Checkpoint freezes (reason, processed, remaining)
//   - Fetches that succeeded after a retry
//   - Circuit breaker close after cooldown
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Items that exhausted their retry budget
//   - Circuit breaker open (failure rate, window)
//   - Cache errors (fallback to direct fetch)
//
// Error: Error conditions requiring attention
//   - Run-fatal failures
//   - Configuration errors
//
// Context Fields:
//   - run_id: ingestion run identifier
//   - id: work item identifier
//   - batch: batch index within the run
//   - attempts: fetch attempts for an item
//   - status_code: HTTP status from the remote
//   - duration: Request duration
//   - error_class: Error classification (client, server, rate_limit, network)
//   - cache_hit: Boolean indicating cache hit
//   - reason: Checkpoint reason (pause, stop, failure)
//   - ttl: Cache entry TTL

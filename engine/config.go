package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/davechogan/agile-stories-v2/analyzer"
	"github.com/davechogan/agile-stories-v2/fanout"
	"github.com/davechogan/agile-stories-v2/retry"
	"github.com/davechogan/agile-stories-v2/token"
	"github.com/davechogan/agile-stories-v2/version"
)

// Logger defines the logging interface for the engine.
// Implementations should be safe for concurrent use.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an informational message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

// NoConfirmations makes every stage advance without an external signal.
// Assign it to Config.Confirmations for straight-through runs.
var NoConfirmations = []Stage{}

// Config configures the Engine.
type Config struct {
	// Store is the version persistence layer.
	// Required.
	Store version.Store

	// Tokens issues and consumes resume tokens for suspended stages.
	// Required.
	Tokens *token.Registry

	// Analyzer runs the coach and technical review stages.
	// Required.
	Analyzer analyzer.Analyzer

	// Estimator runs the estimation fan-out.
	// Required.
	Estimator *fanout.Coordinator

	// Agents is the role registry used to derive the estimation team.
	// If nil, the embedded default registry is used.
	Agents *analyzer.Registry

	// Retry is the per-stage retry policy for transient analyzer
	// failures. If nil, retry.Default() is used.
	Retry *retry.Policy

	// Confirmations lists the stages that suspend awaiting an external
	// signal before dispatching. If nil, the technical review and
	// estimation stages require confirmation; assign NoConfirmations to
	// run straight through.
	Confirmations []Stage

	// Logger is the logging interface. If nil, a no-op logger is used.
	Logger Logger

	// Now is the time source. If nil, time.Now is used.
	Now func() time.Time

	// NewID generates story identifiers. If nil, random UUIDs are used.
	NewID func() string
}

// Validate checks that the configuration is valid.
// Returns an error if any required fields are missing.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("engine: Store is required")
	}
	if c.Tokens == nil {
		return errors.New("engine: Tokens is required")
	}
	if c.Analyzer == nil {
		return errors.New("engine: Analyzer is required")
	}
	if c.Estimator == nil {
		return errors.New("engine: Estimator is required")
	}
	return nil
}

// withDefaults returns a copy of the config with default values applied.
func (c *Config) withDefaults() Config {
	cfg := *c

	if cfg.Agents == nil {
		cfg.Agents = analyzer.DefaultRegistry()
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.Default()
	}
	if cfg.Confirmations == nil {
		cfg.Confirmations = []Stage{StageTechPending, StageEstimatePending}
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.New().String() }
	}

	return cfg
}

// noopLogger is a Logger that discards all log messages.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

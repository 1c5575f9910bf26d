// Package analyzer defines the external analysis capability the pipeline
// invokes at each stage: a prompt and story content go in, structured
// JSON comes out. The LLM call itself lives behind the Analyzer
// interface; the pipeline only depends on the contract.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
)

// Common errors returned by Analyzer implementations.
var (
	// ErrUnavailable indicates a transient failure (network, rate
	// limit, 5xx). Stage handlers retry with backoff.
	ErrUnavailable = errors.New("analyzer unavailable")

	// ErrInvalidOutput indicates the model's output did not parse into
	// the expected structured shape. Retrying with identical input
	// would reproduce it, so stage handlers treat it as permanent.
	ErrInvalidOutput = errors.New("analyzer returned invalid output")
)

// Analyzer produces a structured analysis for one role.
// Implementations must be safe for concurrent use: the estimation stage
// invokes one Run per role in parallel.
type Analyzer interface {
	// Run analyzes content as the given role. promptContext carries
	// extra stage context appended to the role's prompt (for example
	// the technical review feeding estimation). The result is the
	// role's structured JSON output.
	Run(ctx context.Context, role string, content json.RawMessage, promptContext string) (json.RawMessage, error)
}

// Func adapts a function to the Analyzer interface, the way
// http.HandlerFunc does for http.Handler. Handy for tests.
type Func func(ctx context.Context, role string, content json.RawMessage, promptContext string) (json.RawMessage, error)

// Run implements Analyzer.
func (f Func) Run(ctx context.Context, role string, content json.RawMessage, promptContext string) (json.RawMessage, error) {
	return f(ctx, role, content, promptContext)
}

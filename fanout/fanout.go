// Package fanout dispatches the estimation stage: one analyzer run per
// team role, executed in parallel, each result persisted as its own
// version the moment it lands. A role failing never cancels its
// siblings; the aggregate is built from whichever roles reported.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/davechogan/agile-stories-v2/analyzer"
	"github.com/davechogan/agile-stories-v2/retry"
	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version"
)

// ErrEstimationFailed indicates no dispatched role produced an estimate.
// No FINAL version is written in that case.
var ErrEstimationFailed = errors.New("estimation failed for all roles")

// Input describes one estimation dispatch.
type Input struct {
	StoryID  string
	TenantID string

	// Content is the story snapshot the roles estimate, normally the
	// technical review stage's improved story.
	Content json.RawMessage

	// Roles lists the team roles to dispatch. Order does not affect
	// the aggregate.
	Roles []string

	// PromptContext carries extra context appended to each role's
	// prompt, such as the technical review findings.
	PromptContext string
}

// Coordinator runs the estimation fan-out against a version store and
// an analyzer. Safe for concurrent use.
type Coordinator struct {
	store    version.Store
	analyzer analyzer.Analyzer
	policy   *retry.Policy
	limit    int
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetryPolicy sets the per-role retry policy for transient analyzer
// failures. Defaults to retry.Default().
func WithRetryPolicy(p *retry.Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithMaxConcurrency caps concurrent role dispatches (0 = unlimited).
func WithMaxConcurrency(n int) Option {
	return func(c *Coordinator) { c.limit = n }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store version.Store, an analyzer.Analyzer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		analyzer: an,
		policy:   retry.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Estimate dispatches every role, persists each successful estimate as
// an ESTIMATE:<role> version, and writes the FINAL aggregate.
//
// Roles whose ESTIMATE:<role> version already exists are not re-run, so
// a crashed dispatch resumes where it left off without duplicate
// analyzer calls. When no role succeeds no FINAL version is written and
// ErrEstimationFailed is returned.
func (c *Coordinator) Estimate(ctx context.Context, in Input) (story.FinalEstimate, error) {
	var zero story.FinalEstimate
	if in.StoryID == "" {
		return zero, errors.New("fanout: story id is required")
	}
	if len(in.Roles) == 0 {
		return zero, errors.New("fanout: at least one role is required")
	}

	collected := make([]story.RoleEstimate, 0, len(in.Roles))
	var pending []string

	// Recover estimates persisted by a previous dispatch.
	for _, role := range in.Roles {
		v, err := c.store.Get(ctx, in.StoryID, story.EstimateTag(role))
		switch {
		case err == nil:
			var est story.RoleEstimate
			if uerr := json.Unmarshal(v.Content, &est); uerr == nil && est.Validate() == nil {
				collected = append(collected, est)
				continue
			}
			// Unparseable stored estimate, re-run the role.
			pending = append(pending, role)
		case errors.Is(err, version.ErrNotFound):
			pending = append(pending, role)
		default:
			return zero, fmt.Errorf("fanout: check existing estimate for %s: %w", role, err)
		}
	}

	var mu sync.Mutex
	var missing []string

	g, gctx := errgroup.WithContext(ctx)
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}

	for _, role := range pending {
		role := role
		g.Go(func() error {
			est, err := c.runRole(gctx, in, role)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Record and continue: one role failing must not
				// cancel its siblings, so never return the error.
				missing = append(missing, role)
				return nil
			}
			collected = append(collected, est)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	if len(collected) == 0 {
		return zero, fmt.Errorf("fanout: %d role(s) dispatched, none succeeded: %w", len(in.Roles), ErrEstimationFailed)
	}

	final := Aggregate(collected, missing)
	content, err := json.Marshal(final)
	if err != nil {
		return zero, fmt.Errorf("fanout: marshal final estimate: %w", err)
	}
	now := c.now()
	if err := c.store.Put(ctx, story.Version{
		StoryID:   in.StoryID,
		Tag:       story.TagFinal,
		TenantID:  in.TenantID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return zero, fmt.Errorf("fanout: persist final estimate: %w", err)
	}
	return final, nil
}

// runRole invokes the analyzer for one role with retry and persists the
// validated result under ESTIMATE:<role>.
func (c *Coordinator) runRole(ctx context.Context, in Input, role string) (story.RoleEstimate, error) {
	var zero story.RoleEstimate

	var raw json.RawMessage
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		out, rerr := c.analyzer.Run(ctx, role, in.Content, in.PromptContext)
		if rerr != nil {
			if errors.Is(rerr, analyzer.ErrInvalidOutput) {
				return retry.Permanent(rerr)
			}
			return rerr
		}
		raw = out
		return nil
	})
	if err != nil {
		return zero, err
	}

	var est story.RoleEstimate
	if err := json.Unmarshal(raw, &est); err != nil {
		return zero, fmt.Errorf("fanout: parse %s estimate: %w", role, err)
	}
	if est.Role == "" {
		est.Role = role
	}
	if err := est.Validate(); err != nil {
		return zero, fmt.Errorf("fanout: %s estimate: %w", role, err)
	}

	content, err := json.Marshal(est)
	if err != nil {
		return zero, fmt.Errorf("fanout: marshal %s estimate: %w", role, err)
	}
	now := c.now()
	if err := c.store.Put(ctx, story.Version{
		StoryID:   in.StoryID,
		Tag:       story.EstimateTag(role),
		TenantID:  in.TenantID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return zero, fmt.Errorf("fanout: persist %s estimate: %w", role, err)
	}
	return est, nil
}

// Package engine drives the per-story review workflow: a state machine
// advancing from submission through coach analysis, technical review,
// and team estimation to the final aggregate. Each stage persists its
// output as an immutable version; suspendable stages park behind a
// resume token until an external signal arrives.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/davechogan/agile-stories-v2/analyzer"
	"github.com/davechogan/agile-stories-v2/fanout"
	"github.com/davechogan/agile-stories-v2/retry"
	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/token"
)

// Common errors returned by the Engine.
var (
	// ErrNotFound indicates no workflow run exists for the story.
	ErrNotFound = errors.New("workflow run not found")

	// ErrRunFailed indicates the run reached the FAILED terminal stage.
	// A failed run never reopens; a new submission is required.
	ErrRunFailed = errors.New("workflow run failed")
)

// stageOrder positions each stage for already-advanced checks.
var stageOrder = map[Stage]int{
	StageSubmitted:       0,
	StageCoachPending:    1,
	StageCoachDone:       2,
	StageTechPending:     3,
	StageTechDone:        4,
	StageEstimatePending: 5,
	StageEstimateDone:    6,
	StageFinal:           7,
	StageFailed:          7,
}

// stageSpec describes one analyzer-backed stage.
type stageSpec struct {
	pending    Stage
	done       Stage
	pendingTag story.VersionTag
	resultTag  story.VersionTag
	agent      string
	sourceTag  story.VersionTag
	validate   func(json.RawMessage) error
}

var coachSpec = stageSpec{
	pending:    StageCoachPending,
	done:       StageCoachDone,
	pendingTag: story.TagCoachPending,
	resultTag:  story.TagCoach,
	agent:      "agile_coach",
	sourceTag:  story.TagOriginal,
	validate: func(raw json.RawMessage) error {
		var a story.CoachAnalysis
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		return a.Validate()
	},
}

var techSpec = stageSpec{
	pending:    StageTechPending,
	done:       StageTechDone,
	pendingTag: story.TagTechPending,
	resultTag:  story.TagTech,
	agent:      "senior_dev",
	sourceTag:  story.TagCoach,
	validate: func(raw json.RawMessage) error {
		var r story.TechReview
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		return r.Validate()
	},
}

// Submission is a new story entering the pipeline.
type Submission struct {
	// StoryID pins the identifier when the caller generated one up
	// front, as asynchronous submitters do. If empty, one is generated.
	StoryID  string
	TenantID string
	Content  story.Content
}

// Engine orchestrates workflow runs. Safe for concurrent use; each
// run advances under its own lock, so stories never block one another.
type Engine struct {
	cfg      Config
	confirms map[Stage]bool

	mu   sync.Mutex
	runs map[string]*run
}

// run is the engine's live state for one story.
type run struct {
	mu        sync.Mutex
	snap      Run
	confirmed map[Stage]bool
}

// New creates an Engine from the configuration.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	confirms := make(map[Stage]bool, len(cfg.Confirmations))
	for _, s := range cfg.Confirmations {
		if _, ok := pendingTagFor(s); !ok {
			return nil, fmt.Errorf("engine: stage %s cannot require confirmation", s)
		}
		confirms[s] = true
	}
	return &Engine{
		cfg:      cfg,
		confirms: confirms,
		runs:     make(map[string]*run),
	}, nil
}

// Submit validates the story, persists it as the ORIGINAL version, and
// starts a workflow run. The run advances until it completes, suspends
// awaiting a signal, or fails.
func (e *Engine) Submit(ctx context.Context, sub Submission) (Run, error) {
	if err := sub.Content.Validate(); err != nil {
		return Run{}, err
	}
	content, err := json.Marshal(sub.Content)
	if err != nil {
		return Run{}, fmt.Errorf("engine: marshal submission: %w", err)
	}

	storyID := sub.StoryID
	if storyID == "" {
		storyID = e.cfg.NewID()
	}
	r := &run{
		snap: Run{
			StoryID:  storyID,
			TenantID: sub.TenantID,
			Stage:    StageSubmitted,
		},
		confirmed: make(map[Stage]bool),
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e.mu.Lock()
	e.runs[r.snap.StoryID] = r
	e.mu.Unlock()

	if err := e.putVersion(ctx, r, story.TagOriginal, content); err != nil {
		return r.snapshot(), e.fail(ctx, r, err)
	}
	e.cfg.Logger.Info("story submitted", "story_id", r.snap.StoryID, "tenant_id", r.snap.TenantID)

	err = e.advance(ctx, r)
	return r.snapshot(), err
}

// Resume delivers an external signal to a suspended stage. Duplicate
// signals are accepted as no-ops, so at-least-once delivery from the
// signal source never double-advances a run. The payload is opaque to
// the engine.
func (e *Engine) Resume(ctx context.Context, storyID string, stage Stage, payload json.RawMessage) (Run, error) {
	tag, ok := pendingTagFor(stage)
	if !ok {
		return Run{}, fmt.Errorf("engine: stage %s cannot be resumed", stage)
	}

	r, err := e.findRun(ctx, storyID)
	if err != nil {
		return Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.Stage == StageFailed {
		return r.snapshot(), fmt.Errorf("engine: story %s: %w: %s", storyID, ErrRunFailed, r.snap.Failure)
	}
	if stageOrder[r.snap.Stage] > stageOrder[stage] {
		// The run already advanced past this stage; the signal is a
		// replay and succeeds without effect.
		return r.snapshot(), nil
	}

	if _, err := e.cfg.Tokens.Consume(ctx, storyID, tag); err != nil {
		switch {
		case errors.Is(err, token.ErrAlreadyConsumed):
			// A concurrent duplicate won the race. No-op.
			return r.snapshot(), nil
		case errors.Is(err, token.ErrNotFound):
			return r.snapshot(), fmt.Errorf("engine: story %s has no suspended %s stage", storyID, stage)
		default:
			return r.snapshot(), err
		}
	}

	r.confirmed[stage] = true
	r.snap.Suspended = false
	e.cfg.Logger.Info("workflow resumed", "story_id", storyID, "stage", stage, "payload_bytes", len(payload))

	err = e.advance(ctx, r)
	return r.snapshot(), err
}

// Recover rebuilds a run from its persisted versions after a process
// restart and advances it if it is not suspended. Stages whose result
// version never landed are re-dispatched; idempotent upserts keep the
// re-run from duplicating versions.
func (e *Engine) Recover(ctx context.Context, storyID string) (Run, error) {
	r, err := e.findRun(ctx, storyID)
	if err != nil {
		return Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.Stage.IsTerminal() || r.snap.Suspended {
		return r.snapshot(), nil
	}
	err = e.advance(ctx, r)
	return r.snapshot(), err
}

// Snapshot returns the run's current state, if the engine knows the
// story. Read-side status queries use the version store instead; this
// exists to expose the failed-run marker.
func (e *Engine) Snapshot(storyID string) (Run, bool) {
	e.mu.Lock()
	r, ok := e.runs[storyID]
	e.mu.Unlock()
	if !ok {
		return Run{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// findRun returns the live run, rebuilding it from the store when the
// engine has no in-memory state for the story.
func (e *Engine) findRun(ctx context.Context, storyID string) (*run, error) {
	e.mu.Lock()
	r, ok := e.runs[storyID]
	e.mu.Unlock()
	if ok {
		return r, nil
	}

	rebuilt, err := e.rebuild(ctx, storyID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// A concurrent caller may have rebuilt the run first.
	if existing, ok := e.runs[storyID]; ok {
		return existing, nil
	}
	e.runs[storyID] = rebuilt
	return rebuilt, nil
}

// rebuild reconstructs run state from the story's persisted versions.
func (e *Engine) rebuild(ctx context.Context, storyID string) (*run, error) {
	tags, err := e.cfg.Store.ListVersions(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("engine: story %s: %w", storyID, ErrNotFound)
	}
	present := make(map[story.VersionTag]bool, len(tags))
	for _, tag := range tags {
		present[tag] = true
	}

	r := &run{
		snap:      Run{StoryID: storyID},
		confirmed: make(map[Stage]bool),
	}

	var nextPending Stage
	switch {
	case present[story.TagFailed]:
		r.snap.Stage = StageFailed
		marker, err := e.cfg.Store.Get(ctx, storyID, story.TagFailed)
		if err != nil {
			return nil, fmt.Errorf("engine: load story %s: %w", storyID, err)
		}
		var record failureRecord
		if jerr := json.Unmarshal(marker.Content, &record); jerr == nil {
			r.snap.Failure = record.Error
		}
	case present[story.TagFinal]:
		r.snap.Stage = StageFinal
	case present[story.TagTech]:
		r.snap.Stage = StageTechDone
		nextPending = StageEstimatePending
	case present[story.TagCoach]:
		r.snap.Stage = StageCoachDone
		nextPending = StageTechPending
	default:
		r.snap.Stage = StageSubmitted
		nextPending = StageCoachPending
	}

	original, err := e.cfg.Store.Get(ctx, storyID, story.TagOriginal)
	if err != nil {
		return nil, fmt.Errorf("engine: load story %s: %w", storyID, err)
	}
	r.snap.TenantID = original.TenantID

	if nextPending != "" {
		tag, _ := pendingTagFor(nextPending)
		if present[tag] {
			v, err := e.cfg.Store.Get(ctx, storyID, tag)
			if err != nil {
				return nil, fmt.Errorf("engine: load story %s: %w", storyID, err)
			}
			if v.ResumeToken != "" {
				// Suspended awaiting the signal; pick up where we were.
				r.snap.Stage = nextPending
				r.snap.Suspended = true
			} else {
				// Token consumed or never required: the stage was
				// confirmed but its result never landed. Re-dispatch
				// without re-suspending.
				r.confirmed[nextPending] = true
			}
		}
	}
	e.cfg.Logger.Info("workflow recovered", "story_id", storyID, "stage", r.snap.Stage, "suspended", r.snap.Suspended)
	return r, nil
}

// advance drives the run until it completes, suspends, or fails.
// Caller holds r.mu.
func (e *Engine) advance(ctx context.Context, r *run) error {
	for {
		var err error
		switch r.snap.Stage {
		case StageSubmitted, StageCoachPending:
			err = e.runStage(ctx, r, coachSpec)
		case StageCoachDone, StageTechPending:
			err = e.runStage(ctx, r, techSpec)
		case StageTechDone, StageEstimatePending:
			err = e.runEstimation(ctx, r)
		case StageEstimateDone:
			r.snap.Stage = StageFinal
			e.cfg.Logger.Info("workflow completed", "story_id", r.snap.StoryID)
			return nil
		default:
			return nil
		}
		if err != nil {
			return e.fail(ctx, r, err)
		}
		if r.snap.Suspended {
			return nil
		}
	}
}

// runStage dispatches one analyzer-backed stage: writes the pending
// marker, suspends if the stage requires confirmation, then invokes the
// analyzer and persists the validated result.
func (e *Engine) runStage(ctx context.Context, r *run, spec stageSpec) error {
	r.snap.Stage = spec.pending
	if err := e.putVersion(ctx, r, spec.pendingTag, nil); err != nil {
		return err
	}

	if e.confirms[spec.pending] && !r.confirmed[spec.pending] {
		if _, err := e.cfg.Tokens.Issue(ctx, r.snap.StoryID, spec.pendingTag); err != nil {
			return err
		}
		r.snap.Suspended = true
		e.cfg.Logger.Info("workflow suspended", "story_id", r.snap.StoryID, "stage", spec.pending)
		return nil
	}

	source, err := e.cfg.Store.Get(ctx, r.snap.StoryID, spec.sourceTag)
	if err != nil {
		return fmt.Errorf("load %s source: %w", spec.agent, err)
	}

	var raw json.RawMessage
	err = retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		out, rerr := e.cfg.Analyzer.Run(ctx, spec.agent, source.Content, "")
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
		return fmt.Errorf("%s stage: %w", spec.agent, err)
	}
	if err := spec.validate(raw); err != nil {
		return fmt.Errorf("%s stage: %w: %v", spec.agent, analyzer.ErrInvalidOutput, err)
	}

	if err := e.putVersion(ctx, r, spec.resultTag, raw); err != nil {
		return err
	}
	r.snap.Stage = spec.done
	e.cfg.Logger.Info("stage completed", "story_id", r.snap.StoryID, "stage", spec.done)
	return nil
}

// runEstimation delegates to the fan-out coordinator, which persists
// the per-role versions and the FINAL aggregate itself.
func (e *Engine) runEstimation(ctx context.Context, r *run) error {
	r.snap.Stage = StageEstimatePending
	if err := e.putVersion(ctx, r, story.TagEstimatePending, nil); err != nil {
		return err
	}

	if e.confirms[StageEstimatePending] && !r.confirmed[StageEstimatePending] {
		if _, err := e.cfg.Tokens.Issue(ctx, r.snap.StoryID, story.TagEstimatePending); err != nil {
			return err
		}
		r.snap.Suspended = true
		e.cfg.Logger.Info("workflow suspended", "story_id", r.snap.StoryID, "stage", StageEstimatePending)
		return nil
	}

	tech, err := e.cfg.Store.Get(ctx, r.snap.StoryID, story.TagTech)
	if err != nil {
		return fmt.Errorf("load technical review: %w", err)
	}
	var review story.TechReview
	if err := json.Unmarshal(tech.Content, &review); err != nil {
		return fmt.Errorf("parse technical review: %w", err)
	}
	coach, err := e.cfg.Store.Get(ctx, r.snap.StoryID, story.TagCoach)
	if err != nil {
		return fmt.Errorf("load coach analysis: %w", err)
	}

	roles := fanout.RolesForReview(review, e.cfg.Agents)
	r.snap.Roles = roles
	e.cfg.Logger.Info("estimation dispatched", "story_id", r.snap.StoryID, "roles", roles)

	final, err := e.cfg.Estimator.Estimate(ctx, fanout.Input{
		StoryID:       r.snap.StoryID,
		TenantID:      r.snap.TenantID,
		Content:       coach.Content,
		Roles:         roles,
		PromptContext: string(tech.Content),
	})
	if err != nil {
		return err
	}

	r.snap.Stage = StageEstimateDone
	e.cfg.Logger.Info("estimation completed",
		"story_id", r.snap.StoryID,
		"story_points", final.StoryPoints,
		"missing_roles", final.MissingRoles)
	return nil
}

// failureRecord is the content of a FAILED marker version.
type failureRecord struct {
	Error string `json:"error"`
}

// fail moves the run to the FAILED terminal stage and persists a FAILED
// marker version, so the run stays dead after a restart. Caller holds r.mu.
func (e *Engine) fail(ctx context.Context, r *run, cause error) error {
	r.snap.Stage = StageFailed
	r.snap.Suspended = false
	r.snap.Failure = cause.Error()

	record, err := json.Marshal(failureRecord{Error: cause.Error()})
	if err == nil {
		err = e.putVersion(ctx, r, story.TagFailed, record)
	}
	if err != nil {
		// The in-memory state still marks the run failed; only the
		// marker's durability is lost.
		e.cfg.Logger.Error("persist failure marker", "story_id", r.snap.StoryID, "error", err)
	}
	e.cfg.Logger.Error("workflow failed", "story_id", r.snap.StoryID, "error", cause)
	return fmt.Errorf("%w: %w", ErrRunFailed, cause)
}

func (e *Engine) putVersion(ctx context.Context, r *run, tag story.VersionTag, content json.RawMessage) error {
	now := e.cfg.Now()
	err := e.cfg.Store.Put(ctx, story.Version{
		StoryID:   r.snap.StoryID,
		Tag:       tag,
		TenantID:  r.snap.TenantID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("persist %s version: %w", tag, err)
	}
	return nil
}

// snapshot copies the run state. Caller holds r.mu.
func (r *run) snapshot() Run {
	snap := r.snap
	snap.Roles = append([]string(nil), r.snap.Roles...)
	return snap
}

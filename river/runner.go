// Package river runs the story workflow on a durable PostgreSQL-backed
// job queue. Submissions and stage signals are enqueued as jobs, so a
// process crash loses no work: River retries the job and the engine's
// idempotent version writes make the re-run safe.
package river

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/davechogan/agile-stories-v2/engine"
	"github.com/davechogan/agile-stories-v2/story"
)

// Common errors returned by the Runner.
var (
	// ErrRunnerNotStarted indicates an operation was attempted before Start.
	ErrRunnerNotStarted = errors.New("runner not started")

	// ErrRunnerAlreadyStarted indicates Start was called twice.
	ErrRunnerAlreadyStarted = errors.New("runner already started")
)

// Runner enqueues workflow operations as durable jobs and processes
// them with River workers.
type Runner interface {
	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// SubmitStory enqueues a submission and returns the story ID the
	// workflow will run under.
	SubmitStory(ctx context.Context, tenantID string, content story.Content) (string, error)

	// SignalStage enqueues an external signal for a suspended stage.
	SignalStage(ctx context.Context, storyID string, stage engine.Stage, payload json.RawMessage) error

	// RecoverStory enqueues a recovery pass for an interrupted run.
	RecoverStory(ctx context.Context, storyID string) error
}

// runner is the concrete implementation of Runner.
type runner struct {
	pool   *pgxpool.Pool
	engine *engine.Engine
	logger Logger
	config Config

	client  *river.Client[pgx.Tx]
	started bool
	mu      sync.RWMutex
}

// NewRunner creates a new Runner with the given configuration.
// Returns an error if required configuration is missing.
func NewRunner(config Config) (*runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cfg := config.withDefaults()

	return &runner{
		pool:   cfg.Pool,
		engine: cfg.Engine,
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Start initializes the River client and starts workers.
// Must be called before any workflow operations.
func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrRunnerAlreadyStarted
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &submitWorker{runner: r})
	river.AddWorker(workers, &resumeWorker{runner: r})
	river.AddWorker(workers, &recoverWorker{runner: r})

	client, err := river.NewClient(riverpgxv5.New(r.pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: r.config.Workers},
		},
		Workers:      workers,
		JobTimeout:   r.config.JobTimeout,
		ErrorHandler: &errorHandler{logger: r.logger},
	})
	if err != nil {
		return fmt.Errorf("create river client: %w", err)
	}

	r.client = client

	if err := r.client.Start(ctx); err != nil {
		return fmt.Errorf("start river client: %w", err)
	}

	r.started = true
	r.logger.Info("runner started", "workers", r.config.Workers)

	return nil
}

// Stop gracefully shuts down the runner.
// Waits for in-flight jobs up to ShutdownTimeout.
func (r *runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, r.config.ShutdownTimeout)
	defer cancel()

	if err := r.client.Stop(shutdownCtx); err != nil {
		r.logger.Warn("river client stop error", "error", err)
	}

	r.started = false
	r.logger.Info("runner stopped")

	return nil
}

// SubmitStory validates the submission, generates the story ID, and
// enqueues the workflow job. The ID is returned immediately; the
// pipeline runs asynchronously.
func (r *runner) SubmitStory(ctx context.Context, tenantID string, content story.Content) (string, error) {
	if err := r.ensureStarted(); err != nil {
		return "", err
	}
	// Reject malformed submissions before burning a job on them.
	if err := content.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}

	storyID := uuid.New().String()
	_, err = r.client.Insert(ctx, SubmitStoryJobArgs{
		StoryID:  storyID,
		TenantID: tenantID,
		Content:  payload,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("insert submit job: %w", err)
	}

	r.logger.Info("story submission enqueued", "story_id", storyID, "tenant_id", tenantID)
	return storyID, nil
}

// SignalStage enqueues an external signal for a suspended stage.
// Duplicate signals are harmless: the engine treats replays as no-ops.
func (r *runner) SignalStage(ctx context.Context, storyID string, stage engine.Stage, payload json.RawMessage) error {
	if err := r.ensureStarted(); err != nil {
		return err
	}
	_, err := r.client.Insert(ctx, ResumeStageJobArgs{
		StoryID: storyID,
		Stage:   stage,
		Payload: payload,
	}, nil)
	if err != nil {
		return fmt.Errorf("insert resume job: %w", err)
	}

	r.logger.Info("stage signal enqueued", "story_id", storyID, "stage", stage)
	return nil
}

// RecoverStory enqueues a recovery pass for an interrupted run.
func (r *runner) RecoverStory(ctx context.Context, storyID string) error {
	if err := r.ensureStarted(); err != nil {
		return err
	}
	_, err := r.client.Insert(ctx, RecoverStoryJobArgs{StoryID: storyID}, nil)
	if err != nil {
		return fmt.Errorf("insert recover job: %w", err)
	}

	r.logger.Info("recovery enqueued", "story_id", storyID)
	return nil
}

func (r *runner) ensureStarted() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.started {
		return ErrRunnerNotStarted
	}
	return nil
}

// errorHandler handles River job errors.
type errorHandler struct {
	logger Logger
}

func (h *errorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.logger.Error("job error", "job_kind", job.Kind, "error", err)
	return nil
}

func (h *errorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.logger.Error("job panic", "job_kind", job.Kind, "panic", panicVal, "trace", trace)
	return nil
}

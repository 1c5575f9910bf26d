package river

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/davechogan/agile-stories-v2/engine"
	"github.com/davechogan/agile-stories-v2/story"
)

// submitWorker processes story submission jobs.
type submitWorker struct {
	river.WorkerDefaults[SubmitStoryJobArgs]
	runner *runner
}

// Work runs the workflow for a submitted story.
func (w *submitWorker) Work(ctx context.Context, job *river.Job[SubmitStoryJobArgs]) error {
	args := job.Args
	r := w.runner

	r.logger.Debug("executing submit job", "story_id", args.StoryID, "attempt", job.Attempt)

	var content story.Content
	if err := json.Unmarshal(args.Content, &content); err != nil {
		// Malformed payloads never deserialize on retry either.
		return river.JobCancel(fmt.Errorf("unmarshal submission: %w", err))
	}

	run, err := r.engine.Submit(ctx, engine.Submission{
		StoryID:  args.StoryID,
		TenantID: args.TenantID,
		Content:  content,
	})
	if err != nil {
		if errors.Is(err, engine.ErrRunFailed) {
			// The run is terminally failed; its version history tells
			// the story. Retrying the job cannot reopen it.
			r.logger.Error("workflow run failed", "story_id", args.StoryID, "error", err)
			return river.JobCancel(err)
		}
		return fmt.Errorf("submit story %s: %w", args.StoryID, err)
	}

	r.logger.Info("submit job completed", "story_id", args.StoryID, "stage", run.Stage)
	return nil
}

// resumeWorker processes stage resume signal jobs.
type resumeWorker struct {
	river.WorkerDefaults[ResumeStageJobArgs]
	runner *runner
}

// Work delivers the signal to the engine. The engine's idempotent
// Resume makes duplicate deliveries and job retries safe.
func (w *resumeWorker) Work(ctx context.Context, job *river.Job[ResumeStageJobArgs]) error {
	args := job.Args
	r := w.runner

	r.logger.Debug("executing resume job",
		"story_id", args.StoryID,
		"stage", args.Stage,
		"attempt", job.Attempt,
	)

	run, err := r.engine.Resume(ctx, args.StoryID, args.Stage, args.Payload)
	if err != nil {
		if errors.Is(err, engine.ErrRunFailed) {
			r.logger.Error("workflow run failed", "story_id", args.StoryID, "error", err)
			return river.JobCancel(err)
		}
		// ErrNotFound may be a race with an in-flight submit job, so
		// it stays retryable.
		return fmt.Errorf("resume story %s at %s: %w", args.StoryID, args.Stage, err)
	}

	r.logger.Info("resume job completed", "story_id", args.StoryID, "stage", run.Stage)
	return nil
}

// recoverWorker processes crash recovery jobs.
type recoverWorker struct {
	river.WorkerDefaults[RecoverStoryJobArgs]
	runner *runner
}

// Work re-drives an interrupted run from its persisted versions.
func (w *recoverWorker) Work(ctx context.Context, job *river.Job[RecoverStoryJobArgs]) error {
	args := job.Args
	r := w.runner

	r.logger.Debug("executing recover job", "story_id", args.StoryID, "attempt", job.Attempt)

	run, err := r.engine.Recover(ctx, args.StoryID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			r.logger.Warn("nothing to recover", "story_id", args.StoryID)
			return nil
		case errors.Is(err, engine.ErrRunFailed):
			r.logger.Error("workflow run failed", "story_id", args.StoryID, "error", err)
			return river.JobCancel(err)
		default:
			return fmt.Errorf("recover story %s: %w", args.StoryID, err)
		}
	}

	r.logger.Info("recover job completed",
		"story_id", args.StoryID,
		"stage", run.Stage,
		"suspended", run.Suspended,
	)
	return nil
}

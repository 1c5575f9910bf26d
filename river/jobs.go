package river

import (
	"encoding/json"

	"github.com/riverqueue/river"

	"github.com/davechogan/agile-stories-v2/engine"
)

// Job kind constants for River job registration.
const (
	// JobKindSubmitStory is the kind for story submission jobs.
	JobKindSubmitStory = "agile.submit_story"

	// JobKindResumeStage is the kind for stage resume signal jobs.
	JobKindResumeStage = "agile.resume_stage"

	// JobKindRecoverStory is the kind for crash recovery jobs.
	JobKindRecoverStory = "agile.recover_story"
)

// SubmitStoryJobArgs carries a submission into the workflow engine.
// The story ID is generated up front so the enqueueing caller can hand
// it back before the workflow runs.
type SubmitStoryJobArgs struct {
	// StoryID is the pre-generated story identifier.
	StoryID string `json:"story_id"`

	// TenantID partitions the story's versions.
	TenantID string `json:"tenant_id,omitempty"`

	// Content is the submitted story.
	Content json.RawMessage `json:"content"`
}

// Kind implements river.JobArgs.
func (SubmitStoryJobArgs) Kind() string {
	return JobKindSubmitStory
}

// InsertOpts implements river.JobArgsWithInsertOpts to provide default options.
// The returned options can be overridden when inserting the job.
func (SubmitStoryJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
	}
}

// ResumeStageJobArgs delivers an external signal to a suspended stage.
type ResumeStageJobArgs struct {
	// StoryID identifies the suspended run.
	StoryID string `json:"story_id"`

	// Stage is the suspended stage the signal targets.
	Stage engine.Stage `json:"stage"`

	// Payload is the signal payload, opaque to the engine.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Kind implements river.JobArgs.
func (ResumeStageJobArgs) Kind() string {
	return JobKindResumeStage
}

// InsertOpts implements river.JobArgsWithInsertOpts.
func (ResumeStageJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
	}
}

// RecoverStoryJobArgs re-drives a run whose process died mid-stage.
type RecoverStoryJobArgs struct {
	// StoryID identifies the run to recover.
	StoryID string `json:"story_id"`
}

// Kind implements river.JobArgs.
func (RecoverStoryJobArgs) Kind() string {
	return JobKindRecoverStory
}

// InsertOpts implements river.JobArgsWithInsertOpts.
func (RecoverStoryJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 3,
	}
}

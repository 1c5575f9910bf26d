package engine

import "github.com/davechogan/agile-stories-v2/story"

// Stage is a workflow run's position in the review pipeline.
type Stage string

const (
	StageSubmitted       Stage = "SUBMITTED"
	StageCoachPending    Stage = "COACH_PENDING"
	StageCoachDone       Stage = "COACH_DONE"
	StageTechPending     Stage = "TECH_PENDING"
	StageTechDone        Stage = "TECH_DONE"
	StageEstimatePending Stage = "ESTIMATE_PENDING"
	StageEstimateDone    Stage = "ESTIMATE_DONE"
	StageFinal           Stage = "FINAL"
	StageFailed          Stage = "FAILED"
)

// IsTerminal reports whether the run can advance no further. FAILED is
// permanent: no signal or retry reopens a failed run.
func (s Stage) IsTerminal() bool {
	return s == StageFinal || s == StageFailed
}

func (s Stage) String() string { return string(s) }

// pendingTagFor maps a suspendable stage to the version tag its resume
// token lives on.
func pendingTagFor(s Stage) (story.VersionTag, bool) {
	switch s {
	case StageCoachPending:
		return story.TagCoachPending, true
	case StageTechPending:
		return story.TagTechPending, true
	case StageEstimatePending:
		return story.TagEstimatePending, true
	default:
		return "", false
	}
}

// Run is a point-in-time snapshot of one story's workflow state.
// Snapshots are values; mutating one never affects the engine.
type Run struct {
	// StoryID identifies the story this run drives.
	StoryID string `json:"story_id"`

	// TenantID is carried onto every version the run writes.
	TenantID string `json:"tenant_id,omitempty"`

	// Stage is the run's current position.
	Stage Stage `json:"stage"`

	// Suspended is true while the run awaits an external signal.
	Suspended bool `json:"suspended,omitempty"`

	// Failure holds the failure description once Stage is FAILED.
	Failure string `json:"failure,omitempty"`

	// Roles lists the roles dispatched during estimation.
	Roles []string `json:"roles,omitempty"`
}

// Package status derives a read-side progress view for a story from the
// versions present in the store. The projection never touches live
// workflow state, so status queries cannot block or interfere with an
// in-flight run.
package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version"
)

// Stage is the externally visible pipeline position.
type Stage string

const (
	StageCompleted          Stage = "COMPLETED"
	StageEstimateInProgress Stage = "ESTIMATE_IN_PROGRESS"
	StageEstimatePending    Stage = "ESTIMATE_PENDING"
	StageTechPending        Stage = "TECH_PENDING"
	StageCoachPending       Stage = "COACH_PENDING"
	StageUnknown            Stage = "UNKNOWN"
)

// Steps flags which pipeline steps have completed.
type Steps struct {
	Submitted     bool `json:"submitted"`
	CoachReviewed bool `json:"coach_reviewed"`
	TechReviewed  bool `json:"tech_reviewed"`
	Estimated     bool `json:"estimated"`
	Finalized     bool `json:"finalized"`
}

// View is the projected status for one story. A failed run keeps the
// stage of its last completed progress; Failed and Failure carry the
// explicit failure marker.
type View struct {
	StoryID  string             `json:"story_id"`
	Tags     []story.VersionTag `json:"version_tags"`
	Stage    Stage              `json:"stage"`
	Steps    Steps              `json:"steps"`
	Terminal bool               `json:"terminal"`
	Failed   bool               `json:"failed,omitempty"`
	Failure  string             `json:"failure,omitempty"`
}

// Projector builds status views from a version store.
type Projector struct {
	store version.Store
}

// NewProjector creates a Projector.
func NewProjector(store version.Store) *Projector {
	return &Projector{store: store}
}

// Project derives the story's status from its persisted versions. The
// derivation is a strict priority order, most advanced tag first, so a
// partially written stage still reports the latest completed progress.
// An unknown story projects to UNKNOWN, not an error.
func (p *Projector) Project(ctx context.Context, storyID string) (View, error) {
	tags, err := p.store.ListVersions(ctx, storyID)
	if err != nil {
		return View{}, fmt.Errorf("status: list versions for %s: %w", storyID, err)
	}

	view := View{StoryID: storyID, Tags: tags, Stage: StageUnknown}

	var hasEstimate bool
	present := make(map[story.VersionTag]bool, len(tags))
	for _, tag := range tags {
		present[tag] = true
		if tag.IsEstimate() {
			hasEstimate = true
		}
	}

	view.Steps = Steps{
		Submitted:     present[story.TagOriginal],
		CoachReviewed: present[story.TagCoach],
		TechReviewed:  present[story.TagTech],
		Estimated:     hasEstimate,
		Finalized:     present[story.TagFinal],
	}

	switch {
	case present[story.TagFinal]:
		view.Stage = StageCompleted
		view.Terminal = true
	case hasEstimate:
		view.Stage = StageEstimateInProgress
	case present[story.TagTech]:
		view.Stage = StageEstimatePending
	case present[story.TagCoach]:
		view.Stage = StageTechPending
	case present[story.TagOriginal]:
		view.Stage = StageCoachPending
	}

	if present[story.TagFailed] {
		view.Failed = true
		view.Terminal = true
		if marker, err := p.store.Get(ctx, storyID, story.TagFailed); err == nil {
			var record struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(marker.Content, &record) == nil {
				view.Failure = record.Error
			}
		}
	}
	return view, nil
}

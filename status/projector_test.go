package status

import (
	"context"
	"testing"

	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version/memory"
)

func TestProject(t *testing.T) {
	tests := []struct {
		name         string
		tags         []story.VersionTag
		wantStage    Stage
		wantTerminal bool
	}{
		{
			name:      "unknown story",
			tags:      nil,
			wantStage: StageUnknown,
		},
		{
			name:      "only original",
			tags:      []story.VersionTag{story.TagOriginal},
			wantStage: StageCoachPending,
		},
		{
			name:      "coach pending marker does not advance the stage",
			tags:      []story.VersionTag{story.TagOriginal, story.TagCoachPending},
			wantStage: StageCoachPending,
		},
		{
			name:      "coach done",
			tags:      []story.VersionTag{story.TagOriginal, story.TagCoachPending, story.TagCoach},
			wantStage: StageTechPending,
		},
		{
			name: "tech done",
			tags: []story.VersionTag{
				story.TagOriginal, story.TagCoachPending, story.TagCoach,
				story.TagTechPending, story.TagTech,
			},
			wantStage: StageEstimatePending,
		},
		{
			name: "estimates in flight",
			tags: []story.VersionTag{
				story.TagOriginal, story.TagCoach, story.TagTech,
				story.EstimateTag("backend_dev"),
			},
			wantStage: StageEstimateInProgress,
		},
		{
			name: "final wins over everything",
			tags: []story.VersionTag{
				story.TagOriginal, story.TagCoach, story.TagTech,
				story.EstimateTag("backend_dev"), story.EstimateTag("frontend_dev"),
				story.TagFinal,
			},
			wantStage:    StageCompleted,
			wantTerminal: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			for _, tag := range tt.tags {
				if err := store.Put(context.Background(), story.Version{StoryID: "s1", Tag: tag}); err != nil {
					t.Fatal(err)
				}
			}

			view, err := NewProjector(store).Project(context.Background(), "s1")
			if err != nil {
				t.Fatalf("Project: %v", err)
			}
			if view.Stage != tt.wantStage {
				t.Errorf("Stage = %s, want %s", view.Stage, tt.wantStage)
			}
			if view.Terminal != tt.wantTerminal {
				t.Errorf("Terminal = %v, want %v", view.Terminal, tt.wantTerminal)
			}
			if len(view.Tags) != len(tt.tags) {
				t.Errorf("Tags = %v, want %v", view.Tags, tt.tags)
			}
		})
	}
}

func TestProject_FailedRun(t *testing.T) {
	store := memory.New()
	for _, v := range []story.Version{
		{StoryID: "s1", Tag: story.TagOriginal},
		{StoryID: "s1", Tag: story.TagCoachPending},
		{StoryID: "s1", Tag: story.TagFailed, Content: []byte(`{"error":"agile_coach stage: analyzer output invalid"}`)},
	} {
		if err := store.Put(context.Background(), v); err != nil {
			t.Fatal(err)
		}
	}

	view, err := NewProjector(store).Project(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	// The stage reports the last completed progress, never a fabricated
	// success; the failure rides alongside as an explicit marker.
	if view.Stage != StageCoachPending {
		t.Errorf("Stage = %s, want COACH_PENDING", view.Stage)
	}
	if !view.Failed || !view.Terminal {
		t.Errorf("Failed=%v Terminal=%v, want both true", view.Failed, view.Terminal)
	}
	if view.Failure != "agile_coach stage: analyzer output invalid" {
		t.Errorf("Failure = %q, want the recorded cause", view.Failure)
	}
}

func TestProject_Steps(t *testing.T) {
	store := memory.New()
	for _, tag := range []story.VersionTag{
		story.TagOriginal, story.TagCoach, story.TagTech,
		story.EstimateTag("backend_dev"),
	} {
		if err := store.Put(context.Background(), story.Version{StoryID: "s1", Tag: tag}); err != nil {
			t.Fatal(err)
		}
	}

	view, err := NewProjector(store).Project(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	want := Steps{Submitted: true, CoachReviewed: true, TechReviewed: true, Estimated: true}
	if view.Steps != want {
		t.Errorf("Steps = %+v, want %+v", view.Steps, want)
	}
}

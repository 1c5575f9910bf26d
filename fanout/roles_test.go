package fanout

import (
	"reflect"
	"testing"

	"github.com/davechogan/agile-stories-v2/analyzer"
	"github.com/davechogan/agile-stories-v2/story"
)

func reviewWithAreas(areas ...string) story.TechReview {
	var review story.TechReview
	for _, area := range areas {
		review.Implementation = append(review.Implementation, story.ImplementationArea{Area: area})
	}
	return review
}

func TestRolesForReview(t *testing.T) {
	reg := analyzer.DefaultRegistry()

	tests := []struct {
		name   string
		review story.TechReview
		want   []string
	}{
		{
			name:   "maps areas to roles",
			review: reviewWithAreas("Frontend", "Backend"),
			want:   []string{"backend_dev", "frontend_dev"},
		},
		{
			name:   "deduplicates",
			review: reviewWithAreas("API", "Database", "Backend"),
			want:   []string{"backend_dev"},
		},
		{
			name:   "infrastructure maps to devops",
			review: reviewWithAreas("Infrastructure"),
			want:   []string{"devops_engineer"},
		},
		{
			name:   "unknown areas fall back to full team",
			review: reviewWithAreas("Legal", "Marketing"),
			want:   reg.EstimationTeam(),
		},
		{
			name:   "empty review falls back to full team",
			review: story.TechReview{},
			want:   reg.EstimationTeam(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RolesForReview(tt.review, reg)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RolesForReview() = %v, want %v", got, tt.want)
			}
		})
	}
}

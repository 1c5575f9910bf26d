package fanout

import (
	"math"
	"sort"

	"github.com/davechogan/agile-stories-v2/story"
)

// referencePoints is the fixed sequence aggregate story points snap to.
var referencePoints = []int{1, 2, 3, 5, 8, 13, 21}

// SnapPoints returns the reference value nearest to mean by absolute
// difference, breaking ties toward the smaller value.
func SnapPoints(mean float64) int {
	best := referencePoints[0]
	bestDiff := math.Abs(mean - float64(best))
	for _, ref := range referencePoints[1:] {
		diff := math.Abs(mean - float64(ref))
		// Strict inequality keeps the smaller value on a tie.
		if diff < bestDiff {
			best = ref
			bestDiff = diff
		}
	}
	return best
}

// Aggregate reduces the reporting roles' estimates into the FINAL
// result. The reduction is commutative, so the order estimates arrived
// in does not matter.
func Aggregate(estimates []story.RoleEstimate, missing []string) story.FinalEstimate {
	sorted := make([]story.RoleEstimate, len(estimates))
	copy(sorted, estimates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Role < sorted[j].Role })

	var pointSum, daySum float64
	confidence := story.ConfidenceHigh
	for _, e := range sorted {
		pointSum += e.Estimates.StoryPoints.Value
		daySum += e.Estimates.PersonDays.Value
		confidence = story.MinConfidence(confidence, e.Estimates.StoryPoints.Confidence)
		confidence = story.MinConfidence(confidence, e.Estimates.PersonDays.Confidence)
	}

	n := float64(len(sorted))
	missingSorted := append([]string(nil), missing...)
	sort.Strings(missingSorted)

	return story.FinalEstimate{
		StoryPoints:   SnapPoints(pointSum / n),
		PersonDays:    daySum / n,
		Confidence:    confidence,
		Estimates:     sorted,
		MissingRoles:  missingSorted,
		TeamConsensus: len(missingSorted) == 0,
	}
}

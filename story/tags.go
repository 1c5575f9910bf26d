package story

import "strings"

// VersionTag classifies a story snapshot by the pipeline stage that wrote it.
// Pending tags mark "handler dispatched, result not yet written"; the
// remaining tags mark completed stage output.
type VersionTag string

const (
	// TagOriginal is the story as submitted.
	TagOriginal VersionTag = "ORIGINAL"

	// TagCoachPending marks the agile-coach analysis as dispatched.
	TagCoachPending VersionTag = "COACH_PENDING"

	// TagCoach is the agile-coach analysis result.
	TagCoach VersionTag = "COACH"

	// TagTechPending marks the technical review as dispatched.
	TagTechPending VersionTag = "TECH_PENDING"

	// TagTech is the technical review result.
	TagTech VersionTag = "TECH"

	// TagEstimatePending marks the estimation fan-out as dispatched.
	TagEstimatePending VersionTag = "ESTIMATE_PENDING"

	// TagFinal is the aggregated estimation result.
	TagFinal VersionTag = "FINAL"

	// TagFailed marks a run that reached the FAILED terminal stage. Its
	// content records the failure cause so a dead run stays diagnosable
	// and stays dead across process restarts.
	TagFailed VersionTag = "FAILED"
)

// estimatePrefix prefixes per-role estimate tags ("ESTIMATE:<role>").
const estimatePrefix = "ESTIMATE:"

// EstimateTag returns the per-role estimate tag for a role.
func EstimateTag(role string) VersionTag {
	return VersionTag(estimatePrefix + role)
}

// IsEstimate reports whether the tag is a per-role estimate tag.
func (t VersionTag) IsEstimate() bool {
	return strings.HasPrefix(string(t), estimatePrefix)
}

// EstimateRole returns the role of a per-role estimate tag.
// The second return value is false for any other tag.
func (t VersionTag) EstimateRole() (string, bool) {
	if !t.IsEstimate() {
		return "", false
	}
	return strings.TrimPrefix(string(t), estimatePrefix), true
}

// IsPending reports whether the tag marks a dispatched-but-unfinished stage.
func (t VersionTag) IsPending() bool {
	switch t {
	case TagCoachPending, TagTechPending, TagEstimatePending:
		return true
	default:
		return false
	}
}

// Valid reports whether the tag belongs to the closed tag set.
func (t VersionTag) Valid() bool {
	switch t {
	case TagOriginal, TagCoachPending, TagCoach, TagTechPending, TagTech,
		TagEstimatePending, TagFinal, TagFailed:
		return true
	}
	if role, ok := t.EstimateRole(); ok {
		return role != ""
	}
	return false
}

// String returns the tag as stored.
func (t VersionTag) String() string {
	return string(t)
}

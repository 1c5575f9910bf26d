package story

import (
	"errors"
	"fmt"
)

// Confidence is the ordinal confidence level attached to an estimate
// dimension: LOW < MEDIUM < HIGH.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Rank returns the ordinal position (LOW=0, MEDIUM=1, HIGH=2).
// Unknown values rank below LOW so a malformed report never inflates
// the aggregate.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 0
	case ConfidenceMedium:
		return 1
	case ConfidenceHigh:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the value is one of the three levels.
func (c Confidence) Valid() bool {
	return c.Rank() >= 0
}

// MinConfidence returns the more conservative of two levels.
func MinConfidence(a, b Confidence) Confidence {
	if a.Rank() < b.Rank() {
		return a
	}
	return b
}

// PointEstimate is one numeric estimate dimension with its confidence.
type PointEstimate struct {
	Value      float64    `json:"value"`
	Confidence Confidence `json:"confidence"`
}

// EstimateDimensions holds the two dimensions every role reports.
type EstimateDimensions struct {
	StoryPoints PointEstimate `json:"story_points"`
	PersonDays  PointEstimate `json:"person_days"`
}

// RoleEstimate is one team role's estimate for a story.
type RoleEstimate struct {
	Role          string             `json:"role"`
	Estimates     EstimateDimensions `json:"estimates"`
	Justification []Note             `json:"justification,omitempty"`
}

// Validate checks the estimate parsed into the expected shape.
func (e RoleEstimate) Validate() error {
	if e.Estimates.StoryPoints.Value < 0 || e.Estimates.PersonDays.Value < 0 {
		return errors.New("story: estimate values must be non-negative")
	}
	if !e.Estimates.StoryPoints.Confidence.Valid() {
		return fmt.Errorf("story: invalid story points confidence %q", e.Estimates.StoryPoints.Confidence)
	}
	if !e.Estimates.PersonDays.Confidence.Valid() {
		return fmt.Errorf("story: invalid person days confidence %q", e.Estimates.PersonDays.Confidence)
	}
	return nil
}

// FinalEstimate is the FINAL version content: the aggregate over the
// reporting roles plus every individual result for auditability.
type FinalEstimate struct {
	// StoryPoints is the mean of the reporting roles, snapped to the
	// reference sequence {1,2,3,5,8,13,21}.
	StoryPoints int `json:"story_points"`

	// PersonDays is the arithmetic mean of the reporting roles.
	PersonDays float64 `json:"person_days"`

	// Confidence is the most conservative level any role reported.
	Confidence Confidence `json:"confidence"`

	// Estimates holds each reporting role's full result.
	Estimates []RoleEstimate `json:"estimates"`

	// MissingRoles lists dispatched roles that never produced an
	// estimate (exhausted retries or invalid output).
	MissingRoles []string `json:"missing_roles,omitempty"`

	// TeamConsensus is true when every dispatched role reported.
	TeamConsensus bool `json:"team_consensus"`
}

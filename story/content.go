package story

import (
	"errors"
	"fmt"
)

// Content is the user story as submitted: title, narrative, and
// acceptance criteria.
type Content struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// Validate checks the submission for the fields every stage depends on.
func (c Content) Validate() error {
	if c.Title == "" {
		return errors.New("story: title is required")
	}
	if c.Description == "" {
		return errors.New("story: description is required")
	}
	return nil
}

// CoachAnalysis is the agile-coach stage output: an improved story plus
// INVEST analysis and concrete suggestions.
type CoachAnalysis struct {
	ImprovedStory  Content      `json:"improved_story"`
	InvestAnalysis []InvestItem `json:"invest_analysis"`
	Suggestions    []Note       `json:"suggestions"`
}

// InvestItem is one letter of the INVEST analysis.
type InvestItem struct {
	Letter  string `json:"letter"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Note is a titled free-text remark, used for suggestions and estimate
// justifications.
type Note struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Validate checks the analysis parsed into the expected shape.
func (a CoachAnalysis) Validate() error {
	if err := a.ImprovedStory.Validate(); err != nil {
		return fmt.Errorf("story: coach analysis improved story: %w", err)
	}
	return nil
}

// TechReview is the senior-developer stage output.
type TechReview struct {
	Implementation     []ImplementationArea `json:"implementation"`
	ArchitectureImpact ArchitectureImpact   `json:"architecture_impact"`
	Risks              []Risk               `json:"risks"`
	Dependencies       ReviewDependencies   `json:"dependencies"`
}

// ImplementationArea is one technical area the review calls out.
type ImplementationArea struct {
	Area           string `json:"area"`
	Considerations string `json:"considerations"`
	Complexity     string `json:"complexity"` // HIGH, MEDIUM, or LOW
}

// ArchitectureImpact describes how the story touches the architecture.
type ArchitectureImpact struct {
	Description        string   `json:"description"`
	AffectedComponents []string `json:"affected_components"`
	DataFlowChanges    []string `json:"data_flow_changes"`
}

// Risk is one technical risk with its mitigation.
type Risk struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Mitigation  string `json:"mitigation"`
	Severity    string `json:"severity"` // HIGH, MEDIUM, or LOW
}

// ReviewDependencies lists what the story depends on.
type ReviewDependencies struct {
	Technical     []string `json:"technical"`
	Business      []string `json:"business"`
	Prerequisites []string `json:"prerequisites"`
}

// Validate checks the review parsed into the expected shape.
func (r TechReview) Validate() error {
	if len(r.Implementation) == 0 && r.ArchitectureImpact.Description == "" {
		return errors.New("story: tech review has no implementation analysis")
	}
	return nil
}

// Package story provides the domain model for the story review pipeline:
// versioned story snapshots, the closed set of version tags, and the
// structured content each review stage produces.
package story

import (
	"encoding/json"
	"time"
)

// Version is an immutable snapshot of a story at one pipeline stage.
// Versions are keyed by (StoryID, Tag); writes are idempotent upserts, so
// retrying a write overwrites rather than duplicates.
type Version struct {
	// StoryID identifies the story this snapshot belongs to.
	// Generated at submission and stable for the story's lifetime.
	StoryID string `json:"story_id"`

	// Tag identifies which stage output this snapshot holds.
	Tag VersionTag `json:"version_tag"`

	// TenantID is the logical partition for multi-tenant isolation.
	TenantID string `json:"tenant_id,omitempty"`

	// Content is the stage-specific payload. The store treats it as
	// opaque JSON; stage handlers validate it at the boundary.
	Content json.RawMessage `json:"content,omitempty"`

	// ResumeToken is the opaque continuation handle, present only on a
	// pending version that is suspended awaiting an external signal.
	ResumeToken string `json:"resume_token,omitempty"`

	// CreatedAt records when the version was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt records the latest write (upserts advance it).
	UpdatedAt time.Time `json:"updated_at"`
}

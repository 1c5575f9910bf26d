// Package version defines the persistence interface for immutable story
// snapshots, keyed by (story_id, version_tag).
package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/davechogan/agile-stories-v2/story"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound indicates no version exists for the requested key.
	ErrNotFound = errors.New("version not found")

	// ErrUnavailable indicates a transient backend failure. Writes are
	// idempotent upserts, so callers may retry safely.
	ErrUnavailable = errors.New("version store unavailable")

	// ErrNoToken indicates the version exists but carries no resume
	// token (never attached, or already consumed).
	ErrNoToken = errors.New("no resume token on version")
)

// UnavailableError wraps a backend failure with the failing operation.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("version store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return ErrUnavailable
}

// Store persists story versions. Implementations must be safe for
// concurrent use.
//
// Put is an upsert: writing the same (story_id, version_tag) twice leaves
// exactly one stored version reflecting the latest write. No multi-key
// transaction is needed; each stage writes independent keys.
type Store interface {
	// Put upserts a version. CreatedAt is preserved on overwrite.
	Put(ctx context.Context, v story.Version) error

	// Get retrieves one version. Returns ErrNotFound if absent.
	Get(ctx context.Context, storyID string, tag story.VersionTag) (story.Version, error)

	// ListVersions returns the story's version tags in creation order.
	// Returns an empty slice for an unknown story.
	ListVersions(ctx context.Context, storyID string) ([]story.VersionTag, error)

	// AttachToken sets the resume token on an existing version.
	// Returns ErrNotFound if the version is absent.
	AttachToken(ctx context.Context, storyID string, tag story.VersionTag, token string) error

	// ConsumeToken atomically clears and returns the resume token on a
	// version. Exactly one of two concurrent consumers receives the
	// token; the other gets ErrNoToken. Returns ErrNotFound if the
	// version is absent.
	ConsumeToken(ctx context.Context, storyID string, tag story.VersionTag) (string, error)
}

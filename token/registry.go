// Package token manages resume tokens for suspended workflow stages.
//
// A token is issued when a stage suspends awaiting an external signal and
// consumed exactly once when the signal arrives. Tokens live as an
// attribute on the corresponding pending story version, so their lifecycle
// matches the version's.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version"
)

// Common errors returned by the Registry.
var (
	// ErrNotFound indicates no pending version exists for the key.
	ErrNotFound = errors.New("resume token not found")

	// ErrAlreadyConsumed indicates the token was consumed by an earlier
	// signal. Expected under at-least-once delivery; callers treat it as
	// an idempotent no-op, not a failure.
	ErrAlreadyConsumed = errors.New("resume token already consumed")
)

// Registry issues and consumes resume tokens, storing them on pending
// story versions.
type Registry struct {
	store version.Store

	// newToken is injected for deterministic tokens in tests.
	newToken func() string
}

// NewRegistry creates a registry backed by the given version store.
func NewRegistry(store version.Store) *Registry {
	return &Registry{
		store:    store,
		newToken: func() string { return uuid.New().String() },
	}
}

// WithTokenSource replaces the token generator. Intended for tests.
func (r *Registry) WithTokenSource(fn func() string) *Registry {
	r.newToken = fn
	return r
}

// Issue generates a token and attaches it to the pending version.
// The pending version must already exist.
func (r *Registry) Issue(ctx context.Context, storyID string, tag story.VersionTag) (string, error) {
	token := r.newToken()
	if err := r.store.AttachToken(ctx, storyID, tag, token); err != nil {
		if errors.Is(err, version.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("attach resume token: %w", err)
	}
	return token, nil
}

// Consume atomically takes the token off the pending version.
// A second consume for the same key returns ErrAlreadyConsumed, which
// prevents double-resumption from a duplicate external signal.
func (r *Registry) Consume(ctx context.Context, storyID string, tag story.VersionTag) (string, error) {
	token, err := r.store.ConsumeToken(ctx, storyID, tag)
	if err != nil {
		switch {
		case errors.Is(err, version.ErrNoToken):
			return "", ErrAlreadyConsumed
		case errors.Is(err, version.ErrNotFound):
			return "", ErrNotFound
		default:
			return "", fmt.Errorf("consume resume token: %w", err)
		}
	}
	return token, nil
}

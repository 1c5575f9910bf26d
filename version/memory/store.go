// Package memory provides an in-memory implementation of version.Store.
// This implementation is suitable for testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version"
)

// Store is a thread-safe in-memory implementation of version.Store.
type Store struct {
	mu      sync.RWMutex
	stories map[string]*storyRecord

	// now is injected for deterministic timestamps in tests.
	now func() time.Time
}

// storyRecord holds one story's versions plus their creation order.
type storyRecord struct {
	versions map[story.VersionTag]story.Version
	order    []story.VersionTag
}

// New creates a new in-memory version store.
func New() *Store {
	return &Store{
		stories: make(map[string]*storyRecord),
		now:     time.Now,
	}
}

// WithClock replaces the store's clock. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Put upserts a version. On overwrite the original CreatedAt is
// preserved and UpdatedAt advances.
func (s *Store) Put(ctx context.Context, v story.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.stories[v.StoryID]
	if !ok {
		rec = &storyRecord{versions: make(map[story.VersionTag]story.Version)}
		s.stories[v.StoryID] = rec
	}

	now := s.now()
	if existing, ok := rec.versions[v.Tag]; ok {
		v.CreatedAt = existing.CreatedAt
	} else {
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
		rec.order = append(rec.order, v.Tag)
	}
	v.UpdatedAt = now

	rec.versions[v.Tag] = v
	return nil
}

// Get retrieves one version.
func (s *Store) Get(ctx context.Context, storyID string, tag story.VersionTag) (story.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.stories[storyID]
	if !ok {
		return story.Version{}, version.ErrNotFound
	}
	v, ok := rec.versions[tag]
	if !ok {
		return story.Version{}, version.ErrNotFound
	}
	return v, nil
}

// ListVersions returns the story's version tags in creation order.
func (s *Store) ListVersions(ctx context.Context, storyID string) ([]story.VersionTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.stories[storyID]
	if !ok {
		return []story.VersionTag{}, nil
	}

	tags := make([]story.VersionTag, len(rec.order))
	copy(tags, rec.order)
	return tags, nil
}

// AttachToken sets the resume token on an existing version.
func (s *Store) AttachToken(ctx context.Context, storyID string, tag story.VersionTag, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.stories[storyID]
	if !ok {
		return version.ErrNotFound
	}
	v, ok := rec.versions[tag]
	if !ok {
		return version.ErrNotFound
	}

	v.ResumeToken = token
	v.UpdatedAt = s.now()
	rec.versions[tag] = v
	return nil
}

// ConsumeToken atomically clears and returns the resume token.
// The mutex makes check-and-clear atomic under concurrent consumers.
func (s *Store) ConsumeToken(ctx context.Context, storyID string, tag story.VersionTag) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.stories[storyID]
	if !ok {
		return "", version.ErrNotFound
	}
	v, ok := rec.versions[tag]
	if !ok {
		return "", version.ErrNotFound
	}
	if v.ResumeToken == "" {
		return "", version.ErrNoToken
	}

	token := v.ResumeToken
	v.ResumeToken = ""
	v.UpdatedAt = s.now()
	rec.versions[tag] = v
	return token, nil
}

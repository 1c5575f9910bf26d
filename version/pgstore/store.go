// Package pgstore provides a PostgreSQL-based version store implementation.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version"
)

// Store implements version.Store with PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL version store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the story_versions table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS story_versions (
			story_id     TEXT NOT NULL,
			version_tag  TEXT NOT NULL,
			tenant_id    TEXT,
			content      JSONB,
			resume_token TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (story_id, version_tag)
		);
		CREATE INDEX IF NOT EXISTS idx_story_versions_story
			ON story_versions (story_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("create story_versions table: %w", err)
	}
	return nil
}

// Put upserts a version. The primary key on (story_id, version_tag)
// makes a retried write overwrite instead of duplicate; created_at is
// preserved on conflict.
func (s *Store) Put(ctx context.Context, v story.Version) error {
	var token any
	if v.ResumeToken != "" {
		token = v.ResumeToken
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO story_versions (story_id, version_tag, tenant_id, content, resume_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (story_id, version_tag) DO UPDATE SET
			tenant_id    = EXCLUDED.tenant_id,
			content      = EXCLUDED.content,
			resume_token = EXCLUDED.resume_token,
			updated_at   = NOW()
	`, v.StoryID, string(v.Tag), v.TenantID, v.Content, token)
	if err != nil {
		return &version.UnavailableError{Op: "put", Err: err}
	}
	return nil
}

// Get retrieves one version.
func (s *Store) Get(ctx context.Context, storyID string, tag story.VersionTag) (story.Version, error) {
	var v story.Version
	var versionTag string
	var tenantID, token *string

	err := s.pool.QueryRow(ctx, `
		SELECT story_id, version_tag, tenant_id, content, resume_token, created_at, updated_at
		FROM story_versions
		WHERE story_id = $1 AND version_tag = $2
	`, storyID, string(tag)).Scan(&v.StoryID, &versionTag, &tenantID, &v.Content, &token, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return story.Version{}, version.ErrNotFound
		}
		return story.Version{}, &version.UnavailableError{Op: "get", Err: err}
	}

	v.Tag = story.VersionTag(versionTag)
	if tenantID != nil {
		v.TenantID = *tenantID
	}
	if token != nil {
		v.ResumeToken = *token
	}
	return v, nil
}

// ListVersions returns the story's version tags in creation order.
func (s *Store) ListVersions(ctx context.Context, storyID string) ([]story.VersionTag, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT version_tag
		FROM story_versions
		WHERE story_id = $1
		ORDER BY created_at ASC, version_tag ASC
	`, storyID)
	if err != nil {
		return nil, &version.UnavailableError{Op: "list", Err: err}
	}
	defer rows.Close()

	tags := []story.VersionTag{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan version tag: %w", err)
		}
		tags = append(tags, story.VersionTag(tag))
	}
	if err := rows.Err(); err != nil {
		return nil, &version.UnavailableError{Op: "list", Err: err}
	}
	return tags, nil
}

// AttachToken sets the resume token on an existing version.
func (s *Store) AttachToken(ctx context.Context, storyID string, tag story.VersionTag, token string) error {
	res, err := s.pool.Exec(ctx, `
		UPDATE story_versions
		SET resume_token = $3, updated_at = NOW()
		WHERE story_id = $1 AND version_tag = $2
	`, storyID, string(tag), token)
	if err != nil {
		return &version.UnavailableError{Op: "attach token", Err: err}
	}
	if res.RowsAffected() == 0 {
		return version.ErrNotFound
	}
	return nil
}

// ConsumeToken atomically clears and returns the resume token. The
// conditional UPDATE is the check-and-delete: under concurrent duplicate
// signals exactly one caller matches the non-null token row.
func (s *Store) ConsumeToken(ctx context.Context, storyID string, tag story.VersionTag) (string, error) {
	// RETURNING reflects the post-update row, so the pre-update token is
	// captured through a locking CTE.
	var token string
	err := s.pool.QueryRow(ctx, `
		WITH pending AS (
			SELECT story_id, version_tag, resume_token
			FROM story_versions
			WHERE story_id = $1 AND version_tag = $2 AND resume_token IS NOT NULL
			FOR UPDATE
		)
		UPDATE story_versions v
		SET resume_token = NULL, updated_at = NOW()
		FROM pending p
		WHERE v.story_id = p.story_id AND v.version_tag = p.version_tag
		RETURNING p.resume_token
	`, storyID, string(tag)).Scan(&token)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", &version.UnavailableError{Op: "consume token", Err: err}
	}

	// No token row matched: distinguish a missing version from a
	// previously consumed token.
	var exists bool
	checkErr := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM story_versions WHERE story_id = $1 AND version_tag = $2
		)
	`, storyID, string(tag)).Scan(&exists)
	if checkErr != nil {
		return "", &version.UnavailableError{Op: "consume token", Err: checkErr}
	}
	if !exists {
		return "", version.ErrNotFound
	}
	return "", version.ErrNoToken
}

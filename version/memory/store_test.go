package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version"
)

func TestStore_PutIsUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := story.Version{
		StoryID: "story-1",
		Tag:     story.TagCoach,
		Content: json.RawMessage(`{"v":1}`),
	}
	if err := s.Put(ctx, first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	second := first
	second.Content = json.RawMessage(`{"v":2}`)
	if err := s.Put(ctx, second); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := s.Get(ctx, "story-1", story.TagCoach)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Content) != `{"v":2}` {
		t.Errorf("Content = %s, want latest write", got.Content)
	}

	tags, err := s.ListVersions(ctx, "story-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(tags) != 1 {
		t.Errorf("stored %d versions, want exactly 1 after duplicate write", len(tags))
	}
}

func TestStore_PutPreservesCreatedAt(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	s := New().WithClock(func() time.Time { return current })
	ctx := context.Background()

	v := story.Version{StoryID: "story-1", Tag: story.TagOriginal}
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	current = base.Add(time.Hour)
	if err := s.Put(ctx, v); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := s.Get(ctx, "story-1", story.TagOriginal)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want original %v", got.CreatedAt, base)
	}
	if !got.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, base.Add(time.Hour))
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing", story.TagOriginal); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("Get unknown story error = %v, want ErrNotFound", err)
	}

	if err := s.Put(ctx, story.Version{StoryID: "story-1", Tag: story.TagOriginal}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := s.Get(ctx, "story-1", story.TagFinal); !errors.Is(err, version.ErrNotFound) {
		t.Errorf("Get unknown tag error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListVersionsCreationOrder(t *testing.T) {
	s := New()
	ctx := context.Background()

	order := []story.VersionTag{
		story.TagOriginal,
		story.TagCoachPending,
		story.TagCoach,
		story.EstimateTag("backend_dev"),
		story.EstimateTag("frontend_dev"),
	}
	for _, tag := range order {
		if err := s.Put(ctx, story.Version{StoryID: "story-1", Tag: tag}); err != nil {
			t.Fatalf("Put %s failed: %v", tag, err)
		}
	}

	tags, err := s.ListVersions(ctx, "story-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(tags) != len(order) {
		t.Fatalf("got %d tags, want %d", len(tags), len(order))
	}
	for i, tag := range order {
		if tags[i] != tag {
			t.Errorf("tags[%d] = %s, want %s", i, tags[i], tag)
		}
	}
}

func TestStore_ListVersionsUnknownStory(t *testing.T) {
	s := New()

	tags, err := s.ListVersions(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("got %d tags for unknown story, want 0", len(tags))
	}
}

func TestStore_ConsumeTokenOnce(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, story.Version{StoryID: "story-1", Tag: story.TagTechPending}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.AttachToken(ctx, "story-1", story.TagTechPending, "tok-1"); err != nil {
		t.Fatalf("AttachToken failed: %v", err)
	}

	token, err := s.ConsumeToken(ctx, "story-1", story.TagTechPending)
	if err != nil {
		t.Fatalf("ConsumeToken failed: %v", err)
	}
	if token != "tok-1" {
		t.Errorf("token = %q, want %q", token, "tok-1")
	}

	if _, err := s.ConsumeToken(ctx, "story-1", story.TagTechPending); !errors.Is(err, version.ErrNoToken) {
		t.Errorf("second consume error = %v, want ErrNoToken", err)
	}
}

func TestStore_ConsumeTokenConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Put(ctx, story.Version{StoryID: "story-1", Tag: story.TagTechPending}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.AttachToken(ctx, "story-1", story.TagTechPending, "tok-1"); err != nil {
		t.Fatalf("AttachToken failed: %v", err)
	}

	const consumers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners int

	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeToken(ctx, "story-1", story.TagTechPending); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("%d consumers received the token, want exactly 1", winners)
	}
}

func TestStore_AttachTokenNotFound(t *testing.T) {
	s := New()
	err := s.AttachToken(context.Background(), "missing", story.TagTechPending, "tok")
	if !errors.Is(err, version.ErrNotFound) {
		t.Errorf("AttachToken error = %v, want ErrNotFound", err)
	}
}

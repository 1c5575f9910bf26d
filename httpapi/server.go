// Package httpapi exposes the story pipeline over HTTP: submission,
// status queries, version retrieval, and the external signals that
// resume suspended stages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/davechogan/agile-stories-v2/engine"
	"github.com/davechogan/agile-stories-v2/status"
	"github.com/davechogan/agile-stories-v2/story"
	"github.com/davechogan/agile-stories-v2/version"
)

// signalStages maps external signal actions to the stages they resume.
var signalStages = map[string]engine.Stage{
	"agile-review": engine.StageTechPending,
	"tech-review":  engine.StageEstimatePending,
}

// Submitter enqueues pipeline work. Satisfied by the river runner.
type Submitter interface {
	SubmitStory(ctx context.Context, tenantID string, content story.Content) (string, error)
	SignalStage(ctx context.Context, storyID string, stage engine.Stage, payload json.RawMessage) error
}

// RunInspector exposes live run state, used for the failed-run marker.
// Satisfied by the engine.
type RunInspector interface {
	Snapshot(storyID string) (engine.Run, bool)
}

// Server holds the dependencies for the API server.
type Server struct {
	submitter Submitter
	store     version.Store
	projector *status.Projector
	runs      RunInspector
}

// NewServer creates a new Server. runs may be nil when the serving
// process does not host the engine.
func NewServer(submitter Submitter, store version.Store, runs RunInspector) *Server {
	return &Server{
		submitter: submitter,
		store:     store,
		projector: status.NewProjector(store),
		runs:      runs,
	}
}

// Register mounts the API routes.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.Health)
	e.POST("/api/stories", s.SubmitStory)
	e.GET("/api/stories/:id/status", s.GetStatus)
	e.GET("/api/stories/:id/versions/:tag", s.GetVersion)
	e.POST("/api/stories/:id/signal/:action", s.Signal)
}

// Health reports liveness.
// (GET /healthz)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

type submitRequest struct {
	TenantID           string   `json:"tenant_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

type submitResponse struct {
	StoryID string `json:"story_id"`
	Status  string `json:"status"`
}

// SubmitStory accepts a new story and enqueues the review pipeline.
// (POST /api/stories)
func (s *Server) SubmitStory(c echo.Context) error {
	ctx := c.Request().Context()

	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	content := story.Content{
		Title:              req.Title,
		Description:        req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
	}
	if err := content.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	storyID, err := s.submitter.SubmitStory(ctx, req.TenantID, content)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to submit story: "+err.Error())
	}

	return c.JSON(http.StatusAccepted, submitResponse{StoryID: storyID, Status: "SUBMITTED"})
}

type statusResponse struct {
	status.View
	LastVersion *story.Version `json:"last_version,omitempty"`
}

// GetStatus projects the story's progress from its versions. A failed
// run reports the last successfully written version plus an explicit
// failed marker, never a fabricated success.
// (GET /api/stories/:id/status)
func (s *Server) GetStatus(c echo.Context) error {
	ctx := c.Request().Context()
	storyID := c.Param("id")

	view, err := s.projector.Project(ctx, storyID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to project status: "+err.Error())
	}
	if view.Stage == status.StageUnknown {
		return echo.NewHTTPError(http.StatusNotFound, "Story not found: "+storyID)
	}

	resp := statusResponse{View: view}
	if !resp.Failed && s.runs != nil {
		// The persisted marker is authoritative; the live snapshot
		// covers a failure whose marker write itself failed.
		if run, ok := s.runs.Snapshot(storyID); ok && run.Stage == engine.StageFailed {
			resp.Failed = true
			resp.Failure = run.Failure
		}
	}
	if resp.Failed {
		if last := s.lastVersion(ctx, storyID, view.Tags); last != nil {
			resp.LastVersion = last
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// lastVersion loads the most recently created version before the
// failure marker, skipping tags whose read fails.
func (s *Server) lastVersion(ctx context.Context, storyID string, tags []story.VersionTag) *story.Version {
	for i := len(tags) - 1; i >= 0; i-- {
		if tags[i] == story.TagFailed {
			continue
		}
		v, err := s.store.Get(ctx, storyID, tags[i])
		if err == nil {
			return &v
		}
	}
	return nil
}

// GetVersion returns one persisted version.
// (GET /api/stories/:id/versions/:tag)
func (s *Server) GetVersion(c echo.Context) error {
	ctx := c.Request().Context()
	storyID := c.Param("id")
	tag := story.VersionTag(c.Param("tag"))

	v, err := s.store.Get(ctx, storyID, tag)
	if err != nil {
		if errors.Is(err, version.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Version not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load version: "+err.Error())
	}
	return c.JSON(http.StatusOK, v)
}

// Signal delivers an external confirmation signal to a suspended stage.
// (POST /api/stories/:id/signal/:action)
func (s *Server) Signal(c echo.Context) error {
	ctx := c.Request().Context()
	storyID := c.Param("id")
	action := c.Param("action")

	stage, ok := signalStages[action]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown signal action: "+action)
	}

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read payload: "+err.Error())
	}

	if err := s.submitter.SignalStage(ctx, storyID, stage, payload); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to deliver signal: "+err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"story_id": storyID,
		"stage":    string(stage),
	})
}

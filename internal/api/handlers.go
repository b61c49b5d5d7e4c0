package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobarin/storyforge/internal/auth"
	"github.com/bobarin/storyforge/internal/db"
	"github.com/bobarin/storyforge/internal/metrics"
	"github.com/bobarin/storyforge/internal/models"
	"github.com/bobarin/storyforge/internal/render"
	"github.com/bobarin/storyforge/internal/storage"
	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// StoryRunner executes the story pipeline.
type StoryRunner interface {
	RunStory(ctx context.Context, req models.StoryRequest) (*models.StoryResult, error)
}

// Sessions issues and checks session tokens.
type Sessions interface {
	Login(username, password string) (auth.SessionToken, error)
	Authorize(token string) error
}

// RunStore is the run history.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.StoryRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.StoryRun, error)
	ListRecentRuns(ctx context.Context, limit int) ([]models.StoryRun, error)
	MarkRunRunning(ctx context.Context, id uuid.UUID) error
	CompleteRun(ctx context.Context, id uuid.UUID, slug string, bundle models.OutputBundle) error
	FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// JobQueue accepts asynchronous story runs.
type JobQueue interface {
	EnqueueStoryRun(ctx context.Context, jobID uuid.UUID, req models.StoryRequest) error
}

// NarrativeReader loads persisted narratives.
type NarrativeReader interface {
	ReadNarrative(slug string) (string, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the handler collaborators. Runs, Jobs and Database are optional;
// leave them nil (untyped) when no database or Redis is configured.
type Deps struct {
	Runner     StoryRunner
	Sessions   Sessions
	Narratives NarrativeReader
	Runs       RunStore
	Jobs       JobQueue
	Database   HealthChecker
}

type Handler struct {
	runner     StoryRunner
	sessions   Sessions
	narratives NarrativeReader
	runs       RunStore
	jobs       JobQueue
	database   HealthChecker
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		runner:     deps.Runner,
		sessions:   deps.Sessions,
		narratives: deps.Narratives,
		runs:       deps.Runs,
		jobs:       deps.Jobs,
		database:   deps.Database,
	}
}

// Login handles POST /login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.sessions.Login(req.Username, req.Password)
	if err != nil {
		metrics.Logins.WithLabelValues("failure").Inc()
		if storyerr.IsAuth(err) {
			log.Info().Str("username", req.Username).Msg("Rejected login")
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Error().Err(err).Msg("Failed to issue session token")
		respondError(w, http.StatusInternalServerError, "Failed to issue session token")
		return
	}

	metrics.Logins.WithLabelValues("success").Inc()
	respondJSON(w, http.StatusOK, models.LoginResponse{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}

// CreateStory handles POST /story
// Runs the whole pipeline synchronously and returns the narrative with the
// audio inlined as base64.
func (h *Handler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if missing := req.Missing(); len(missing) > 0 {
		respondError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}

	storyReq := req.StoryRequest()
	run := h.recordRunStart(r.Context(), storyReq)

	result, err := h.runner.RunStory(r.Context(), storyReq)
	if err != nil {
		h.recordRunFailure(r.Context(), run, err)
		respondStoryError(w, err)
		return
	}
	h.recordRunSuccess(r.Context(), run, result)

	respondJSON(w, http.StatusOK, models.StoryResponse{
		MarkdownPath: result.Bundle.NarrativePath,
		AudioPath:    result.Bundle.AudioPath,
		Text:         result.Narrative,
		AudioBase64:  base64.StdEncoding.EncodeToString(result.Audio),
	})
}

// CreateStoryJob handles POST /story/jobs
func (h *Handler) CreateStoryJob(w http.ResponseWriter, r *http.Request) {
	var req models.CreateStoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if missing := req.Missing(); len(missing) > 0 {
		respondError(w, http.StatusBadRequest, "Missing required fields: "+strings.Join(missing, ", "))
		return
	}

	run := models.NewStoryRun(req.StoryRequest())

	if h.runs != nil {
		if err := h.runs.CreateRun(r.Context(), run); err != nil {
			log.Error().Err(err).Msg("Failed to create story run")
			respondError(w, http.StatusInternalServerError, "Failed to create story run")
			return
		}
	}

	if err := h.jobs.EnqueueStoryRun(r.Context(), run.ID, req.StoryRequest()); err != nil {
		log.Error().Err(err).Str("job_id", run.ID.String()).Msg("Failed to enqueue story job")
		if h.runs != nil {
			if recErr := h.runs.FailRun(r.Context(), run.ID, "failed to enqueue: "+err.Error()); recErr != nil {
				log.Warn().Err(recErr).Str("run_id", run.ID.String()).Msg("Failed to record run failure")
			}
		}
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	metrics.QueueJobs.WithLabelValues("enqueued").Inc()
	respondJSON(w, http.StatusAccepted, models.CreateJobResponse{
		JobID:  run.ID,
		Status: models.RunStatusQueued,
	})
}

// GetStoryJob handles GET /story/jobs/{id}
func (h *Handler) GetStoryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", id.String()).Msg("Failed to get story run")
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// ListStoryJobs handles GET /story/jobs
// Query params:
//   - limit: max results (default 20, max 100)
func (h *Handler) ListStoryJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, 100)
	}

	runs, err := h.runs.ListRecentRuns(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list story runs")
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if runs == nil {
		runs = []models.StoryRun{}
	}

	respondJSON(w, http.StatusOK, runs)
}

// GetStoryPreview handles GET /stories/{slug}
func (h *Handler) GetStoryPreview(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	narrative, err := h.narratives.ReadNarrative(slug)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Story not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("Failed to read narrative")
		respondError(w, http.StatusInternalServerError, "Failed to read story")
		return
	}

	page, err := render.Page(slug, narrative)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("Failed to render narrative")
		respondError(w, http.StatusInternalServerError, "Failed to render story")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

// ---------------------------------------------------------------------------
// Run history for synchronous requests. Recording failures never fail the request.
// ---------------------------------------------------------------------------

func (h *Handler) recordRunStart(ctx context.Context, req models.StoryRequest) *models.StoryRun {
	if h.runs == nil {
		return nil
	}
	run := models.NewStoryRun(req)
	if err := h.runs.CreateRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record story run")
		return nil
	}
	if err := h.runs.MarkRunRunning(ctx, run.ID); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("Failed to mark run running")
	}
	return run
}

func (h *Handler) recordRunSuccess(ctx context.Context, run *models.StoryRun, result *models.StoryResult) {
	if run == nil {
		return
	}
	if err := h.runs.CompleteRun(ctx, run.ID, result.Slug, result.Bundle); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("Failed to record run completion")
	}
}

func (h *Handler) recordRunFailure(ctx context.Context, run *models.StoryRun, runErr error) {
	if run == nil {
		return
	}
	if err := h.runs.FailRun(ctx, run.ID, runErr.Error()); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID.String()).Msg("Failed to record run failure")
	}
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// respondStoryError maps pipeline errors: auth kinds to 401, upstream and
// persistence failures to 502 with the cause, anything else to 500.
func respondStoryError(w http.ResponseWriter, err error) {
	switch {
	case storyerr.IsAuth(err):
		respondError(w, http.StatusUnauthorized, err.Error())
	case storyerr.IsUpstream(err):
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "Story generation failed")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check. Reports 503 when a configured database is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.database != nil {
		if err := h.database.Health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Database health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unhealthy",
				"database": "unreachable",
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

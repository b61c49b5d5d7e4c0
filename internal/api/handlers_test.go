package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/storyforge/internal/auth"
	"github.com/bobarin/storyforge/internal/db"
	"github.com/bobarin/storyforge/internal/models"
	"github.com/bobarin/storyforge/internal/storage"
	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser     = "admin"
	testPassword = "s3cret"
	testToken    = "test-token"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRunner struct {
	mu     sync.Mutex
	calls  []models.StoryRequest
	result *models.StoryResult
	err    error
}

func (f *fakeRunner) RunStory(ctx context.Context, req models.StoryRequest) (*models.StoryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.result, f.err
}

type fakeRuns struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*models.StoryRun
	statuses []models.RunStatus
	getErr   error
	failErr  error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: make(map[uuid.UUID]*models.StoryRun)}
}

func (f *fakeRuns) CreateRun(ctx context.Context, run *models.StoryRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.CreatedAt = time.Now()
	f.runs[run.ID] = run
	f.statuses = append(f.statuses, run.Status)
	return nil
}

func (f *fakeRuns) GetRun(ctx context.Context, id uuid.UUID) (*models.StoryRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	run, ok := f.runs[id]
	if !ok {
		return nil, db.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRuns) ListRecentRuns(ctx context.Context, limit int) ([]models.StoryRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.StoryRun
	for _, run := range f.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (f *fakeRuns) setStatus(id uuid.UUID, status models.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[id]; ok {
		run.Status = status
	}
	f.statuses = append(f.statuses, status)
}

func (f *fakeRuns) MarkRunRunning(ctx context.Context, id uuid.UUID) error {
	f.setStatus(id, models.RunStatusRunning)
	return nil
}

func (f *fakeRuns) CompleteRun(ctx context.Context, id uuid.UUID, slug string, bundle models.OutputBundle) error {
	f.setStatus(id, models.RunStatusSucceeded)
	return nil
}

func (f *fakeRuns) FailRun(ctx context.Context, id uuid.UUID, errorMessage string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.setStatus(id, models.RunStatusFailed)
	return nil
}

type fakeHealth struct {
	err error
}

func (f *fakeHealth) Health(ctx context.Context) error {
	return f.err
}

type fakeJobs struct {
	mu   sync.Mutex
	ids  []uuid.UUID
	reqs []models.StoryRequest
	err  error
}

func (f *fakeJobs) EnqueueStoryRun(ctx context.Context, jobID uuid.UUID, req models.StoryRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, jobID)
	f.reqs = append(f.reqs, req)
	return nil
}

type testEnv struct {
	now      time.Time
	runner   *fakeRunner
	runs     *fakeRuns
	jobs     *fakeJobs
	store    *storage.Store
	sessions *auth.SessionStore
	router   http.Handler
}

type envOption func(*Deps)

func withoutOptional() envOption {
	return func(d *Deps) {
		d.Runs = nil
		d.Jobs = nil
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		runner: &fakeRunner{result: &models.StoryResult{
			Slug:      "prompt-english",
			Bundle:    models.OutputBundle{NarrativePath: "/out/prompt-english/story.md", AudioPath: "/out/prompt-english/story.mp3"},
			Narrative: "This is a test story.",
			Audio:     []byte("TESTMP3"),
		}},
		runs: newFakeRuns(),
		jobs: &fakeJobs{},
	}

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	env.store = store

	env.sessions = auth.NewSessionStore(testUser, testPassword,
		auth.WithClock(func() time.Time { return env.now }),
		auth.WithTokenSource(func() (string, error) { return testToken, nil }),
	)

	deps := Deps{
		Runner:     env.runner,
		Sessions:   env.sessions,
		Narratives: env.store,
		Runs:       env.runs,
		Jobs:       env.jobs,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	env.router = NewRouter(NewHandler(deps), RouterConfig{})
	return env
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rec := e.do(http.MethodPost, "/login", "", models.LoginRequest{Username: testUser, Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

var validStory = models.CreateStoryRequest{Prompt: "Prompt English", Language: "English", Style: "fairy tale"}

// ---------------------------------------------------------------------------
// Public routes
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealthChecksDatabase(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Database = &fakeHealth{} })
	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	env = newTestEnv(t, func(d *Deps) { d.Database = &fakeHealth{err: errors.New("connection refused")} })
	rec = env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unhealthy","database":"unreachable"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/login", "", models.LoginRequest{Username: testUser, Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testToken, resp.Token)
	assert.True(t, resp.ExpiresAt.Equal(env.now.Add(auth.DefaultTTL)))
}

func TestLoginRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"wrong password", models.LoginRequest{Username: testUser, Password: "nope"}, http.StatusUnauthorized},
		{"wrong username", models.LoginRequest{Username: "root", Password: testPassword}, http.StatusUnauthorized},
		{"empty credentials", models.LoginRequest{}, http.StatusUnauthorized},
		{"malformed body", "{not json", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/login", "", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, errorMessage(t, rec))

			// No token was issued.
			assert.Error(t, env.sessions.Authorize(testToken))
		})
	}
}

// ---------------------------------------------------------------------------
// POST /story
// ---------------------------------------------------------------------------

func TestCreateStory(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(http.MethodPost, "/story", token, validStory)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.StoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "/out/prompt-english/story.md", resp.MarkdownPath)
	assert.Equal(t, "/out/prompt-english/story.mp3", resp.AudioPath)
	assert.Equal(t, "This is a test story.", resp.Text)
	assert.Equal(t, "VEVTVE1QMw==", resp.AudioBase64)

	require.Len(t, env.runner.calls, 1)
	assert.Equal(t, validStory.StoryRequest(), env.runner.calls[0])
	assert.Equal(t, []models.RunStatus{models.RunStatusQueued, models.RunStatusRunning, models.RunStatusSucceeded}, env.runs.statuses)
}

func TestCreateStoryBearerToken(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	body, _ := json.Marshal(validStory)
	req := httptest.NewRequest(http.MethodPost, "/story", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateStoryUnauthorized(t *testing.T) {
	tests := []struct {
		name  string
		token string
		setup func(env *testEnv)
	}{
		{name: "missing token"},
		{name: "unknown token", token: "forged"},
		{
			name:  "expired token",
			token: testToken,
			setup: func(env *testEnv) { env.now = env.now.Add(auth.DefaultTTL) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.login(t)
			if tt.setup != nil {
				tt.setup(env)
			}

			rec := env.do(http.MethodPost, "/story", tt.token, validStory)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Empty(t, env.runner.calls, "pipeline must not run")
		})
	}
}

func TestCreateStoryMissingFields(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(http.MethodPost, "/story", token, models.CreateStoryRequest{Prompt: "p"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields: language, style", errorMessage(t, rec))
	assert.Empty(t, env.runner.calls)

	rec = env.do(http.MethodPost, "/story", token, "[]")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateStoryErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{
			name:   "generation failure",
			err:    storyerr.Newf(storyerr.KindUpstreamGeneration, "generate", "llm returned status 500: boom"),
			status: http.StatusBadGateway,
			msg:    "llm returned status 500",
		},
		{
			name:   "synthesis failure",
			err:    storyerr.Newf(storyerr.KindUpstreamSynthesis, "synthesize", "tts returned status 503"),
			status: http.StatusBadGateway,
			msg:    "tts returned status 503",
		},
		{
			name:   "fetch failure",
			err:    storyerr.Newf(storyerr.KindUpstreamFetch, "fetch wikipedia extract", "status 404"),
			status: http.StatusBadGateway,
			msg:    "status 404",
		},
		{
			name:   "persistence failure",
			err:    storyerr.New(storyerr.KindPersistence, "write audio", errors.New("disk full")),
			status: http.StatusBadGateway,
			msg:    "disk full",
		},
		{
			name:   "unexpected",
			err:    errors.New("nil pointer somewhere"),
			status: http.StatusInternalServerError,
			msg:    "Story generation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.runner.result, env.runner.err = nil, tt.err
			token := env.login(t)

			rec := env.do(http.MethodPost, "/story", token, validStory)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tt.msg)
			assert.Equal(t, models.RunStatusFailed, env.runs.statuses[len(env.runs.statuses)-1])
		})
	}
}

func TestCreateStoryWithoutRunHistory(t *testing.T) {
	env := newTestEnv(t, withoutOptional())
	token := env.login(t)

	rec := env.do(http.MethodPost, "/story", token, validStory)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.runs.statuses)
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

func TestCreateStoryJob(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	req := validStory
	req.Engine = "kokoro"
	rec := env.do(http.MethodPost, "/story/jobs", token, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp models.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.RunStatusQueued, resp.Status)

	require.Len(t, env.jobs.ids, 1)
	assert.Equal(t, resp.JobID, env.jobs.ids[0])
	assert.Equal(t, "kokoro", env.jobs.reqs[0].Engine)

	rec = env.do(http.MethodGet, "/story/jobs/"+resp.JobID.String(), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run models.StoryRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, resp.JobID, run.ID)
	assert.Equal(t, "Prompt English", run.Prompt)

	rec = env.do(http.MethodGet, "/story/jobs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.StoryRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestCreateStoryJobEnqueueFailure(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.err = errors.New("redis down")
	token := env.login(t)

	rec := env.do(http.MethodPost, "/story/jobs", token, validStory)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []models.RunStatus{models.RunStatusQueued, models.RunStatusFailed}, env.runs.statuses)
}

func TestCreateStoryJobLogsUnrecordedFailure(t *testing.T) {
	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	t.Cleanup(func() { log.Logger = prev })

	env := newTestEnv(t)
	env.jobs.err = errors.New("redis down")
	env.runs.failErr = errors.New("database gone")
	token := env.login(t)

	rec := env.do(http.MethodPost, "/story/jobs", token, validStory)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to enqueue job", errorMessage(t, rec))
	assert.Contains(t, logs.String(), "Failed to record run failure")
	assert.Contains(t, logs.String(), "database gone")
}

func TestGetStoryJobErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	rec := env.do(http.MethodGet, "/story/jobs/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodGet, "/story/jobs/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.runs.getErr = errors.New("connection reset")
	rec = env.do(http.MethodGet, "/story/jobs/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = env.do(http.MethodGet, "/story/jobs?limit=zero", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobRoutesRequireBackends(t *testing.T) {
	env := newTestEnv(t, withoutOptional())
	token := env.login(t)

	rec := env.do(http.MethodPost, "/story/jobs", token, validStory)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/story/jobs/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ---------------------------------------------------------------------------
// Preview
// ---------------------------------------------------------------------------

func TestGetStoryPreview(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Persist("prompt-english", "# Once\n\nThis is a test story.", []byte("TESTMP3"))
	require.NoError(t, err)
	token := env.login(t)

	rec := env.do(http.MethodGet, "/stories/prompt-english", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "<h1>Once</h1>")
	assert.Contains(t, rec.Body.String(), "<p>This is a test story.</p>")

	rec = env.do(http.MethodGet, "/stories/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/stories/prompt-english", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAllowedOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, allowedOrigins(""))
	assert.Equal(t, []string{"*"}, allowedOrigins(" , "))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, allowedOrigins("https://a.example, https://b.example"))
}

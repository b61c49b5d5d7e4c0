package models

import (
	"time"

	"github.com/google/uuid"
)

// Enums
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// StoryRequest is one pipeline invocation. Engine empty means the configured
// default engine; Location empty means no context enrichment.
type StoryRequest struct {
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
	Style    string `json:"style"`
	Engine   string `json:"engine,omitempty"`
	Location string `json:"location,omitempty"`
}

// OutputBundle holds the absolute locations of one run's artifacts under
// <base>/outputs/<slug>/.
type OutputBundle struct {
	Dir           string `json:"dir"`
	NarrativePath string `json:"narrative_path"`
	AudioPath     string `json:"audio_path"`
}

// StoryResult is everything a completed run produced.
type StoryResult struct {
	Slug      string
	Bundle    OutputBundle
	Narrative string
	Audio     []byte
}

// Models

type StoryRun struct {
	ID            uuid.UUID  `json:"id"`
	Prompt        string     `json:"prompt"`
	Language      string     `json:"language"`
	Style         string     `json:"style"`
	Engine        string     `json:"engine"`
	Location      *string    `json:"location,omitempty"`
	Slug          *string    `json:"slug,omitempty"`
	Status        RunStatus  `json:"status"`
	NarrativePath *string    `json:"narrative_path,omitempty"`
	AudioPath     *string    `json:"audio_path,omitempty"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// NewStoryRun builds a queued run record for req.
func NewStoryRun(req StoryRequest) *StoryRun {
	run := &StoryRun{
		ID:       uuid.New(),
		Prompt:   req.Prompt,
		Language: req.Language,
		Style:    req.Style,
		Engine:   req.Engine,
		Status:   RunStatusQueued,
	}
	if req.Location != "" {
		loc := req.Location
		run.Location = &loc
	}
	return run
}

// Request reconstructs the pipeline request a run was created from.
func (r *StoryRun) Request() StoryRequest {
	req := StoryRequest{
		Prompt:   r.Prompt,
		Language: r.Language,
		Style:    r.Style,
		Engine:   r.Engine,
	}
	if r.Location != nil {
		req.Location = *r.Location
	}
	return req
}

// DTOs for API requests and responses

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type CreateStoryRequest struct {
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
	Style    string `json:"style"`
	Engine   string `json:"engine,omitempty"`   // Default: TTS_ENGINE
	Location string `json:"location,omitempty"` // Optional place for context enrichment
}

// Missing returns the names of required fields that are empty.
func (r CreateStoryRequest) Missing() []string {
	var missing []string
	if r.Prompt == "" {
		missing = append(missing, "prompt")
	}
	if r.Language == "" {
		missing = append(missing, "language")
	}
	if r.Style == "" {
		missing = append(missing, "style")
	}
	return missing
}

// StoryRequest converts the wire request into a pipeline request.
func (r CreateStoryRequest) StoryRequest() StoryRequest {
	return StoryRequest{
		Prompt:   r.Prompt,
		Language: r.Language,
		Style:    r.Style,
		Engine:   r.Engine,
		Location: r.Location,
	}
}

type StoryResponse struct {
	MarkdownPath string `json:"markdown_path"`
	AudioPath    string `json:"audio_path"`
	Text         string `json:"text"`
	AudioBase64  string `json:"audio_base64"`
}

type CreateJobResponse struct {
	JobID  uuid.UUID `json:"job_id"`
	Status RunStatus `json:"status"`
}

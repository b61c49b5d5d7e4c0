package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Generator: common interface for text-generation backends
// The pipeline hands it a fully rendered prompt and receives the narrative.
// ---------------------------------------------------------------------------

// Generator turns a rendered prompt into a narrative.
type Generator interface {
	Generate(ctx context.Context, renderedPrompt string) (string, error)
}

// HTTPGenerator talks to a self-hosted generation server exposing
// POST /generate {"inputs": ...}.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

// Ensure HTTPGenerator implements Generator at compile time.
var _ Generator = (*HTTPGenerator)(nil)

// NewHTTPGenerator creates a generator for the server at baseURL.
func NewHTTPGenerator(baseURL string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Inputs string `json:"inputs"`
}

type generateResponse struct {
	Story string `json:"story"`
}

// Generate posts the prompt and returns the "story" field of the JSON reply.
// When the reply is not JSON or has no story, the raw body is the narrative.
func (g *HTTPGenerator) Generate(ctx context.Context, renderedPrompt string) (string, error) {
	url := g.baseURL + "/generate"

	log.Debug().
		Str("endpoint", url).
		Int("prompt_length", len(renderedPrompt)).
		Msg("Requesting story generation")

	status, body, err := postJSON(ctx, g.client, url, generateRequest{Inputs: renderedPrompt})
	if err != nil {
		return "", storyerr.New(storyerr.KindUpstreamGeneration, "generate", err)
	}
	if status < 200 || status > 299 {
		return "", storyerr.Newf(storyerr.KindUpstreamGeneration, "generate",
			"llm returned status %d: %s", status, truncate(string(body), 200))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Story != "" {
		return parsed.Story, nil
	}

	log.Debug().Int("bytes", len(body)).Msg("Generation response has no story field, using raw body")
	return string(body), nil
}

// postJSON sends payload as JSON and returns the status and full body.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) (int, []byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	return resp.StatusCode, body, nil
}

// truncate limits a string to at most maxLen bytes for log output without
// splitting a UTF-8 sequence.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

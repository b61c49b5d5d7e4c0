package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.5-flash"

// GeminiGenerator generates narratives with the Gemini API.
type GeminiGenerator struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGeminiGenerator builds a generator for model. An empty baseURL uses the
// public Gemini API endpoint.
func NewGeminiGenerator(apiKey, baseURL, model string, timeout time.Duration) *GeminiGenerator {
	if model == "" {
		model = geminiDefaultModel
	}
	return &GeminiGenerator{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate runs a single-turn GenerateContent call and returns its text.
func (s *GeminiGenerator) Generate(ctx context.Context, renderedPrompt string) (string, error) {
	cfg := &genai.ClientConfig{
		APIKey:     s.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: s.httpClient,
	}
	if s.baseURL != "" {
		cfg.HTTPOptions.BaseURL = s.baseURL
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", storyerr.New(storyerr.KindUpstreamGeneration, "generate", fmt.Errorf("failed to create genai client: %w", err))
	}

	log.Debug().
		Str("model", s.model).
		Int("prompt_length", len(renderedPrompt)).
		Msg("Requesting Gemini story generation")

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(renderedPrompt), nil)
	if err != nil {
		return "", storyerr.New(storyerr.KindUpstreamGeneration, "generate", fmt.Errorf("gemini request failed: %w", err))
	}

	text := resp.Text()
	if text == "" {
		return "", storyerr.Newf(storyerr.KindUpstreamGeneration, "generate", "no text in gemini response")
	}

	return text, nil
}

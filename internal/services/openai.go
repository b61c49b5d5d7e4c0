package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const openAIDefaultModel = openai.GPT4oMini

// OpenAIGenerator generates narratives through an OpenAI-compatible chat
// completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates a generator. baseURL may point at any
// OpenAI-compatible gateway; empty uses api.openai.com.
func NewOpenAIGenerator(apiKey, baseURL, model string, timeout time.Duration) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	if model == "" {
		model = openAIDefaultModel
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Generate sends the rendered prompt as a single user message.
func (s *OpenAIGenerator) Generate(ctx context.Context, renderedPrompt string) (string, error) {
	log.Debug().
		Str("model", s.model).
		Int("prompt_length", len(renderedPrompt)).
		Msg("Requesting OpenAI story generation")

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: renderedPrompt,
			},
		},
	})
	if err != nil {
		return "", storyerr.New(storyerr.KindUpstreamGeneration, "generate", fmt.Errorf("openai request failed: %w", err))
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", storyerr.Newf(storyerr.KindUpstreamGeneration, "generate", "no content in openai response")
	}

	return resp.Choices[0].Message.Content, nil
}

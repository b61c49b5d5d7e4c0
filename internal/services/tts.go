package services

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Synthesizer: text-to-speech over the self-hosted TTS server
// One server exposes two engines on different paths; the request body is the
// same for both.
// ---------------------------------------------------------------------------

// Engine selects the synthesis endpoint variant.
type Engine string

const (
	EngineOpenTTS Engine = "opentts" // default, POST /api/tts
	EngineKokoro  Engine = "kokoro"  // POST /api/kokoro
)

// Path returns the endpoint path for e. Unrecognised engines use the default
// endpoint rather than being rejected.
func (e Engine) Path() string {
	if e == EngineKokoro {
		return "/api/kokoro"
	}
	return "/api/tts"
}

// Synthesizer converts narrative text to audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string, engine Engine) ([]byte, error)
}

// SpeechService is the HTTP client for the TTS server.
type SpeechService struct {
	baseURL string
	client  *http.Client
}

// Ensure SpeechService implements Synthesizer at compile time.
var _ Synthesizer = (*SpeechService)(nil)

// NewSpeechService creates a synthesis client for the server at baseURL.
func NewSpeechService(baseURL string, timeout time.Duration) *SpeechService {
	return &SpeechService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type speechRequest struct {
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}

// Synthesize posts the text with the language as speaker and returns the
// response body as audio.
func (s *SpeechService) Synthesize(ctx context.Context, text, language string, engine Engine) ([]byte, error) {
	url := s.baseURL + engine.Path()

	log.Info().
		Str("engine", string(engine)).
		Str("endpoint", url).
		Str("speaker", language).
		Int("text_length", len(text)).
		Msg("Synthesizing speech")

	status, body, err := postJSON(ctx, s.client, url, speechRequest{Text: text, Speaker: language})
	if err != nil {
		return nil, storyerr.New(storyerr.KindUpstreamSynthesis, "synthesize", err)
	}
	if status < 200 || status > 299 {
		return nil, storyerr.Newf(storyerr.KindUpstreamSynthesis, "synthesize",
			"tts returned status %d: %s", status, truncate(string(body), 200))
	}

	log.Info().Int("bytes", len(body)).Msg("Speech synthesized")
	return body, nil
}

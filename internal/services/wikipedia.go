package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
)

// Wikimedia asks API clients to identify themselves.
const userAgent = "storyforge/1.0 (+https://github.com/bobarin/storyforge)"

// ---------------------------------------------------------------------------
// Wikipedia REST summary
// GET /api/rest_v1/page/summary/{title} -> {"extract": "..."}
// ---------------------------------------------------------------------------

// WikipediaService fetches page summary extracts.
type WikipediaService struct {
	baseURL string
	client  *http.Client
}

func NewWikipediaService(baseURL string, timeout time.Duration) *WikipediaService {
	return &WikipediaService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name identifies the source in logs.
func (s *WikipediaService) Name() string { return "wikipedia" }

// FetchExtract returns the summary extract for title, or "" when the page has none.
func (s *WikipediaService) FetchExtract(ctx context.Context, title string) (string, error) {
	endpoint := s.baseURL + "/api/rest_v1/page/summary/" + url.PathEscape(title)

	body, err := getJSON(ctx, s.client, endpoint)
	if err != nil {
		return "", storyerr.New(storyerr.KindUpstreamFetch, "fetch wikipedia extract", err)
	}

	var summary struct {
		Extract string `json:"extract"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return "", storyerr.New(storyerr.KindUpstreamFetch, "fetch wikipedia extract",
			fmt.Errorf("failed to parse summary: %w", err))
	}

	log.Debug().Str("title", title).Int("extract_length", len(summary.Extract)).Msg("Fetched Wikipedia extract")
	return summary.Extract, nil
}

// getJSON performs a GET and returns the body of a 2xx response.
func getJSON(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, truncate(string(body), 200))
	}

	return body, nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Wikivoyage MediaWiki action API
// GET /w/api.php?action=query&prop=extracts&exintro&explaintext&titles=...
// -> {"query": {"pages": {"<id>": {"extract": "..."}}}}
// ---------------------------------------------------------------------------

// WikivoyageService fetches introductory plain-text extracts.
type WikivoyageService struct {
	baseURL string
	client  *http.Client
}

func NewWikivoyageService(baseURL string, timeout time.Duration) *WikivoyageService {
	return &WikivoyageService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name identifies the source in logs.
func (s *WikivoyageService) Name() string { return "wikivoyage" }

type wikivoyageResponse struct {
	Query struct {
		Pages map[string]struct {
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// FetchExtract returns the intro extract for title, or "" when no page has one.
// With several pages the one with the lowest page id wins.
func (s *WikivoyageService) FetchExtract(ctx context.Context, title string) (string, error) {
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("prop", "extracts")
	params.Set("exintro", "1")
	params.Set("explaintext", "1")
	params.Set("redirects", "1")
	params.Set("titles", title)

	body, err := getJSON(ctx, s.client, s.baseURL+"/w/api.php?"+params.Encode())
	if err != nil {
		return "", storyerr.New(storyerr.KindUpstreamFetch, "fetch wikivoyage extract", err)
	}

	var parsed wikivoyageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", storyerr.New(storyerr.KindUpstreamFetch, "fetch wikivoyage extract",
			fmt.Errorf("failed to parse query response: %w", err))
	}

	ids := make([]string, 0, len(parsed.Query.Pages))
	for id := range parsed.Query.Pages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessPageID(ids[i], ids[j]) })

	for _, id := range ids {
		if extract := parsed.Query.Pages[id].Extract; extract != "" {
			log.Debug().Str("title", title).Str("page_id", id).Int("extract_length", len(extract)).Msg("Fetched Wikivoyage extract")
			return extract, nil
		}
	}

	return "", nil
}

func lessPageID(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

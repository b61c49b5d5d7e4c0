package enrich

import (
	"context"
	"strings"

	"github.com/bobarin/storyforge/internal/storyerr"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ExtractSource returns a short plain-text extract about a title.
type ExtractSource interface {
	Name() string
	FetchExtract(ctx context.Context, title string) (string, error)
}

// Enricher appends reference extracts about a place to a prompt.
type Enricher struct {
	sources []ExtractSource
}

// New creates an Enricher. Extracts are joined in the order the sources are given.
func New(sources ...ExtractSource) *Enricher {
	return &Enricher{sources: sources}
}

// Enrich returns prompt unchanged when location is blank. Otherwise every source is
// queried concurrently and the non-empty extracts are appended, separated by a blank line.
// A failure from any source aborts the whole enrichment.
func (e *Enricher) Enrich(ctx context.Context, prompt, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" || len(e.sources) == 0 {
		return prompt, nil
	}

	extracts := make([]string, len(e.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range e.sources {
		g.Go(func() error {
			extract, err := src.FetchExtract(gctx, location)
			if err != nil {
				log.Warn().Err(err).Str("source", src.Name()).Str("location", location).Msg("Reference fetch failed")
				return err
			}
			extracts[i] = extract
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if storyerr.KindOf(err) == storyerr.KindUpstreamFetch {
			return "", err
		}
		return "", storyerr.New(storyerr.KindUpstreamFetch, "enrich", err)
	}

	parts := []string{prompt}
	for _, extract := range extracts {
		if extract != "" {
			parts = append(parts, extract)
		}
	}

	log.Debug().Str("location", location).Int("extracts", len(parts)-1).Msg("Prompt enriched")
	return strings.Join(parts, "\n\n"), nil
}

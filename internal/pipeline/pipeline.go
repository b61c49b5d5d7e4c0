// Package pipeline sequences one story run: enrich, render, generate,
// persist the narrative, synthesize, persist the audio.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/bobarin/storyforge/internal/metrics"
	"github.com/bobarin/storyforge/internal/models"
	"github.com/bobarin/storyforge/internal/services"
	"github.com/bobarin/storyforge/internal/slug"
	"github.com/rs/zerolog/log"
)

// Enricher adds reference material about a location to a prompt.
type Enricher interface {
	Enrich(ctx context.Context, prompt, location string) (string, error)
}

// Renderer turns the request fields into the text sent to the generator.
type Renderer interface {
	Render(prompt, language, style string) (string, error)
}

// ArtifactStore persists run outputs.
type ArtifactStore interface {
	Prepare(slug string) (models.OutputBundle, error)
	WriteNarrative(bundle models.OutputBundle, narrative string) error
	WriteAudio(bundle models.OutputBundle, audio []byte) error
}

// Deps are the collaborators of a Pipeline. Enricher may be nil, in which case
// location hints are ignored.
//
// Engine selection: EngineOverride when set, else the request engine, else
// DefaultEngine.
type Deps struct {
	Enricher       Enricher
	Renderer       Renderer
	Generator      services.Generator
	Synthesizer    services.Synthesizer
	Store          ArtifactStore
	DefaultEngine  services.Engine
	EngineOverride services.Engine
}

type Pipeline struct {
	deps Deps
}

// New validates deps and returns a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Renderer == nil:
		return nil, errors.New("pipeline: renderer is required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	}
	if deps.DefaultEngine == "" {
		deps.DefaultEngine = services.EngineOpenTTS
	}
	return &Pipeline{deps: deps}, nil
}

// RunStory executes every stage in order and stops at the first failure.
// A narrative already written is left on disk when a later stage fails.
func (p *Pipeline) RunStory(ctx context.Context, req models.StoryRequest) (*models.StoryResult, error) {
	start := time.Now()
	result, err := p.run(ctx, req)
	if err != nil {
		metrics.PipelineRuns.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("prompt", req.Prompt).Dur("elapsed", time.Since(start)).Msg("Story run failed")
		return nil, err
	}

	metrics.PipelineRuns.WithLabelValues("succeeded").Inc()
	log.Info().
		Str("slug", result.Slug).
		Str("narrative_path", result.Bundle.NarrativePath).
		Str("audio_path", result.Bundle.AudioPath).
		Dur("elapsed", time.Since(start)).
		Msg("Story run completed")
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req models.StoryRequest) (*models.StoryResult, error) {
	engine := p.deps.EngineOverride
	if engine == "" {
		engine = services.Engine(req.Engine)
	}
	if engine == "" {
		engine = p.deps.DefaultEngine
	}

	// Stage 1: optional enrichment
	prompt := req.Prompt
	if p.deps.Enricher != nil {
		stageStart := time.Now()
		enriched, err := p.deps.Enricher.Enrich(ctx, req.Prompt, req.Location)
		metrics.ObserveStage("enrich", stageStart)
		if err != nil {
			return nil, err
		}
		prompt = enriched
	}

	// Stage 2: render
	stageStart := time.Now()
	rendered, err := p.deps.Renderer.Render(prompt, req.Language, req.Style)
	metrics.ObserveStage("render", stageStart)
	if err != nil {
		return nil, err
	}

	// Stage 3: generate
	log.Info().Str("language", req.Language).Str("style", req.Style).Msg("Generating narrative")
	stageStart = time.Now()
	narrative, err := p.deps.Generator.Generate(ctx, rendered)
	metrics.ObserveStage("generate", stageStart)
	if err != nil {
		return nil, err
	}

	// Stage 4: persist narrative under the slug of the original prompt
	storySlug := slug.Slugify(req.Prompt)
	stageStart = time.Now()
	bundle, err := p.deps.Store.Prepare(storySlug)
	if err == nil {
		err = p.deps.Store.WriteNarrative(bundle, narrative)
	}
	metrics.ObserveStage("persist_narrative", stageStart)
	if err != nil {
		return nil, err
	}

	// Stage 5: synthesize
	log.Info().Str("slug", storySlug).Str("engine", string(engine)).Msg("Synthesizing audio")
	stageStart = time.Now()
	audio, err := p.deps.Synthesizer.Synthesize(ctx, narrative, req.Language, engine)
	metrics.ObserveStage("synthesize", stageStart)
	if err != nil {
		return nil, err
	}

	// Stage 6: persist audio
	stageStart = time.Now()
	err = p.deps.Store.WriteAudio(bundle, audio)
	metrics.ObserveStage("persist_audio", stageStart)
	if err != nil {
		return nil, err
	}

	return &models.StoryResult{
		Slug:      storySlug,
		Bundle:    bundle,
		Narrative: narrative,
		Audio:     audio,
	}, nil
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bobarin/storyforge/internal/api"
	"github.com/bobarin/storyforge/internal/auth"
	"github.com/bobarin/storyforge/internal/config"
	"github.com/bobarin/storyforge/internal/db"
	"github.com/bobarin/storyforge/internal/enrich"
	"github.com/bobarin/storyforge/internal/pipeline"
	"github.com/bobarin/storyforge/internal/prompt"
	"github.com/bobarin/storyforge/internal/queue"
	"github.com/bobarin/storyforge/internal/services"
	"github.com/bobarin/storyforge/internal/storage"
	"github.com/bobarin/storyforge/internal/worker"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const workerDrainTimeout = 15 * time.Minute

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Msg("Starting storyforge API...")

	// Prompt template problems are startup failures
	renderer, err := prompt.Load(cfg.PromptTemplatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load prompt template")
	}

	store, err := storage.New(cfg.OutputBaseDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize artifact store")
	}
	log.Info().Str("base_dir", store.BaseDir()).Msg("Initialized artifact store")

	generator := newGenerator(cfg)
	pipe, err := pipeline.New(pipeline.Deps{
		Enricher: enrich.New(
			services.NewWikipediaService(cfg.WikipediaURL, cfg.RequestTimeout),
			services.NewWikivoyageService(cfg.WikivoyageURL, cfg.RequestTimeout),
		),
		Renderer:       renderer,
		Generator:      generator,
		Synthesizer:    services.NewSpeechService(cfg.TTSBaseURL, cfg.RequestTimeout),
		Store:          store,
		DefaultEngine:  services.Engine(cfg.TTSEngine),
		EngineOverride: engineOverride(cfg),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	sessions := auth.NewSessionStore(cfg.APIUsername, cfg.APIPassword, auth.WithTTL(cfg.SessionTTL))
	if !cfg.AuthEnabled() {
		log.Warn().Msg("API_USERNAME/API_PASSWORD not set; every login will be rejected")
	}

	deps := api.Deps{
		Runner:     pipe,
		Sessions:   sessions,
		Narratives: store,
	}

	// Run history (optional)
	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		if err := database.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}
		deps.Runs = database
		deps.Database = database
		log.Info().Msg("Run history enabled")
	}

	// Async jobs (optional)
	var q *queue.Queue
	if cfg.RedisURL != "" {
		q, err = queue.New(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to queue")
		}
		defer q.Close()
		deps.Jobs = q
		log.Info().Msg("Connected to Redis queue")
	}

	router := api.NewRouter(api.NewHandler(deps), api.RouterConfig{
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start worker if enabled and there is a queue to read
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	if cfg.WorkerEnabled && q != nil {
		log.Info().Int("concurrency", cfg.MaxConcurrentJobs).Msg("Worker enabled, starting background processing...")

		var recorder worker.RunRecorder
		if database != nil {
			recorder = database
		}
		w := worker.New(q, pipe, recorder)

		go func() {
			defer close(workerDone)
			w.Start(workerCtx, cfg.MaxConcurrentJobs)
		}()
	} else {
		close(workerDone)
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.APIPort).Msg("API server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop dequeuing; jobs already picked up run to completion before the
	// queue and database close.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(workerDrainTimeout):
		log.Warn().Dur("timeout", workerDrainTimeout).Msg("Worker did not stop in time")
	}

	log.Info().Msg("Server exited")
}

// engineOverride returns the engine every run must use when TTS_ENGINE is set
// explicitly, or "" to let each request choose.
func engineOverride(cfg *config.Config) services.Engine {
	if !cfg.TTSEngineFixed {
		return ""
	}
	return services.Engine(cfg.TTSEngine)
}

// newGenerator picks the text generation backend for cfg.LLMProvider.
func newGenerator(cfg *config.Config) services.Generator {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		log.Info().Str("model", cfg.LLMModel).Msg("Generation provider: OpenAI")
		return services.NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.LLMModel, cfg.RequestTimeout)
	case config.ProviderGemini:
		log.Info().Str("model", cfg.LLMModel).Msg("Generation provider: Gemini")
		return services.NewGeminiGenerator(cfg.GeminiKey, cfg.GeminiBaseURL, cfg.LLMModel, cfg.RequestTimeout)
	default:
		log.Info().Str("url", cfg.LLMBaseURL).Msg("Generation provider: HTTP")
		return services.NewHTTPGenerator(cfg.LLMBaseURL, cfg.RequestTimeout)
	}
}

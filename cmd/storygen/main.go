// Command storygen runs one story generation from the command line and
// prints where the narrative and audio were saved.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bobarin/storyforge/internal/enrich"
	"github.com/bobarin/storyforge/internal/models"
	"github.com/bobarin/storyforge/internal/pipeline"
	"github.com/bobarin/storyforge/internal/prompt"
	"github.com/bobarin/storyforge/internal/services"
	"github.com/bobarin/storyforge/internal/storage"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	prompt    string
	language  string
	style     string
	location  string
	llmURL    string
	ttsURL    string
	engine    string
	outputDir string
	template  string
	timeout   time.Duration
	verbose   bool
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	_ = godotenv.Load()

	opts := &options{}
	fs := flag.NewFlagSet("storygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: storygen [flags] <prompt> <language> <style>")
		fs.PrintDefaults()
	}

	fs.StringVar(&opts.location, "location", "", "Place to look up on Wikipedia and Wikivoyage")
	fs.StringVar(&opts.llmURL, "llm-url", envOr("LLM_SERVER_URL", "http://localhost:8080"), "Text generation server base URL")
	fs.StringVar(&opts.ttsURL, "tts-url", envOr("TTS_SERVER_URL", "http://localhost:5500"), "Speech synthesis server base URL")
	fs.StringVar(&opts.engine, "tts-engine", envOr("TTS_ENGINE", string(services.EngineOpenTTS)), "Speech engine: opentts or kokoro")
	fs.StringVar(&opts.outputDir, "output-dir", envOr("OUTPUT_BASE_DIR", ""), "Directory that receives outputs/<slug>/ (default: working directory)")
	fs.StringVar(&opts.template, "template", envOr("PROMPT_TEMPLATE_PATH", ""), "Prompt template file (default: built-in)")
	fs.DurationVar(&opts.timeout, "timeout", 120*time.Second, "Timeout for each remote call")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline progress")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() != 3 {
		fs.Usage()
		return nil, fmt.Errorf("expected 3 positional arguments, got %d", fs.NArg())
	}
	opts.prompt, opts.language, opts.style = fs.Arg(0), fs.Arg(1), fs.Arg(2)

	// Only the flag is checked; an unknown TTS_ENGINE routes to the default endpoint.
	if fs.Changed("tts-engine") {
		switch services.Engine(opts.engine) {
		case services.EngineOpenTTS, services.EngineKokoro:
		default:
			return nil, fmt.Errorf("invalid --tts-engine %q (choose from opentts, kokoro)", opts.engine)
		}
	}

	if opts.timeout <= 0 {
		return nil, errors.New("--timeout must be positive")
	}

	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "storygen: %v\n", err)
		return exitUsage
	}

	level := zerolog.WarnLevel
	if opts.verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()

	result, err := generate(ctx, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	fmt.Fprintf(stdout, "Markdown saved to %s\n", result.Bundle.NarrativePath)
	fmt.Fprintf(stdout, "Audio saved to %s\n", result.Bundle.AudioPath)
	return exitOK
}

func generate(ctx context.Context, opts *options) (*models.StoryResult, error) {
	renderer, err := prompt.Load(opts.template)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(opts.outputDir)
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Enricher: enrich.New(
			services.NewWikipediaService(envOr("WIKIPEDIA_URL", "https://en.wikipedia.org"), opts.timeout),
			services.NewWikivoyageService(envOr("WIKIVOYAGE_URL", "https://en.wikivoyage.org"), opts.timeout),
		),
		Renderer:      renderer,
		Generator:     services.NewHTTPGenerator(opts.llmURL, opts.timeout),
		Synthesizer:   services.NewSpeechService(opts.ttsURL, opts.timeout),
		Store:         store,
		DefaultEngine: services.Engine(opts.engine),
	})
	if err != nil {
		return nil, err
	}

	return pipe.RunStory(ctx, models.StoryRequest{
		Prompt:   opts.prompt,
		Language: opts.language,
		Style:    opts.style,
		Location: opts.location,
	})
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

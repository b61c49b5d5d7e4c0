package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LLM providers
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	// Server
	APIPort            string
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	LogLevel           string

	// Session gate for the network entry point
	APIUsername string
	APIPassword string
	SessionTTL  time.Duration

	// Generation backend
	LLMProvider   string // "http" (default), "openai" or "gemini"
	LLMBaseURL    string
	LLMModel      string // openai/gemini only
	OpenAIKey     string
	OpenAIBaseURL string // OpenAI-compatible endpoint; empty = api.openai.com
	GeminiKey     string
	GeminiBaseURL string // empty = generativelanguage.googleapis.com

	// Synthesis backend
	TTSBaseURL     string
	TTSEngine      string // "opentts" or "kokoro"
	TTSEngineFixed bool   // TTS_ENGINE was set explicitly; it wins over per-request engines

	// Reference data
	WikipediaURL  string
	WikivoyageURL string

	// Pipeline
	OutputBaseDir      string
	PromptTemplatePath string // empty = built-in template
	RequestTimeout     time.Duration

	// Async runs (both optional)
	DatabaseURL       string
	RedisURL          string
	WorkerEnabled     bool
	MaxConcurrentJobs int
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	cfg := &Config{
		APIPort:            getEnv("API_PORT", "8080"),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		APIUsername:        getEnv("API_USERNAME", ""),
		APIPassword:        getEnv("API_PASSWORD", ""),
		SessionTTL:         getEnvDuration("SESSION_TTL", 5*time.Minute),
		LLMProvider:        getEnv("LLM_PROVIDER", ProviderHTTP),
		LLMBaseURL:         getEnv("LLM_SERVER_URL", "http://localhost:8080"),
		LLMModel:           getEnv("LLM_MODEL", ""),
		OpenAIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
		GeminiKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", ""),
		TTSBaseURL:         getEnv("TTS_SERVER_URL", "http://localhost:5500"),
		TTSEngine:          getEnv("TTS_ENGINE", "opentts"),
		TTSEngineFixed:     os.Getenv("TTS_ENGINE") != "",
		WikipediaURL:       getEnv("WIKIPEDIA_URL", "https://en.wikipedia.org"),
		WikivoyageURL:      getEnv("WIKIVOYAGE_URL", "https://en.wikivoyage.org"),
		OutputBaseDir:      getEnv("OUTPUT_BASE_DIR", cwd),
		PromptTemplatePath: getEnv("PROMPT_TEMPLATE_PATH", ""),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 120*time.Second),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		MaxConcurrentJobs:  getEnvInt("MAX_CONCURRENT_JOBS", 2),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks provider selection and numeric limits.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderHTTP:
		if c.LLMBaseURL == "" {
			return fmt.Errorf("LLM_SERVER_URL is required for the http provider")
		}
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q (allowed: http, openai, gemini)", c.LLMProvider)
	}

	if c.TTSBaseURL == "" {
		return fmt.Errorf("TTS_SERVER_URL is required")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if c.MaxConcurrentJobs < 1 {
		c.MaxConcurrentJobs = 1
	}

	return nil
}

// AuthEnabled reports whether login credentials are configured.
func (c *Config) AuthEnabled() bool {
	return c.APIUsername != "" && c.APIPassword != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

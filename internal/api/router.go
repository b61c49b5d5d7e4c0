package api

import (
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds settings for the API router.
type RouterConfig struct {
	// CorsAllowedOrigins is a comma-separated list of allowed origins.
	// If empty, defaults to "*" (development mode).
	CorsAllowedOrigins string
}

func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (applied to all routes including /health)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CorsAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TokenHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/login", h.Login)

	// Session-protected routes
	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(h.sessions))

		r.Post("/story", h.CreateStory)
		r.Get("/stories/{slug}", h.GetStoryPreview)

		// Async jobs need Redis; job lookups need the run history.
		if h.jobs != nil {
			r.Post("/story/jobs", h.CreateStoryJob)
		}
		if h.runs != nil {
			r.Get("/story/jobs", h.ListStoryJobs)
			r.Get("/story/jobs/{id}", h.GetStoryJob)
		}
	})

	return r
}

// allowedOrigins restricts origins when configured, otherwise allows all.
func allowedOrigins(csv string) []string {
	origins := []string{"*"}
	if csv == "" {
		return origins
	}
	trimmed := make([]string, 0)
	for _, o := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(o); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	if len(trimmed) > 0 {
		origins = trimmed
	}
	return origins
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouteConfig struct {
	CORSOrigins    []string
	RateLimitRPM   int
	AdminToken     string
	MetricsHandler http.Handler
	RequestTimeout time.Duration
}

func (h *Handler) Routes(m *Middleware, cfg RouteConfig) *chi.Mux {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(m.CORS(cfg.CORSOrigins))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		// Live updates hold the connection open, so they skip the timeout
		r.Get("/ws", h.HandleWebSocket)
		r.Get("/stream", h.HandleSSE)

		r.Group(func(r chi.Router) {
			r.Use(m.Timeout(cfg.RequestTimeout))
			r.Use(m.RateLimit(cfg.RateLimitRPM))

			r.Get("/state", h.GetState)
			r.Get("/health", h.GetHealth)
			r.Get("/positions/{id}", h.GetPosition)
			r.Get("/events", h.ListEvents)

			r.Post("/oracle", h.SubmitOracleReport)
			r.Post("/jsonrpc", h.HandleJSONRPC)

			if h.authority != nil && cfg.AdminToken != "" {
				r.Route("/admin", func(r chi.Router) {
					r.Use(m.AdminAuth(cfg.AdminToken))
					r.Post("/params", h.SetParam)
					r.Post("/halt", h.SetHalted)
					r.Post("/venues", h.IssueVenue)
				})
			}
		})
	})

	return r
}

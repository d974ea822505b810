package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterConfig struct {
	CORSOrigins    []string
	RateLimitRPM   int
	RequestTimeout time.Duration
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	// Events, when set, serves /v1/ws and /v1/stream.
	Events EventStream
}

// EventStream serves long-lived event subscriptions. *ws.Hub implements it.
type EventStream interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	HandleSSE(w http.ResponseWriter, r *http.Request)
}

func (h *Handler) Routes(m *Middleware, cfg RouterConfig) *chi.Mux {
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
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// v1 API routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(m.RateLimit(cfg.RateLimitRPM))

		// Streams are not bounded by the request timeout
		if cfg.Events != nil {
			r.Get("/ws", cfg.Events.HandleWebSocket)
			r.Get("/stream", cfg.Events.HandleSSE)
		}

		r.Group(func(r chi.Router) {
			r.Use(m.Timeout(cfg.RequestTimeout))

			r.Get("/signer", h.GetSigner)

			r.Route("/assets", func(r chi.Router) {
				r.Post("/", h.IssueAsset)
				r.Get("/", h.ListAssets)
				r.Route("/{address}", func(r chi.Router) {
					r.Get("/", h.GetAsset)
					r.Post("/resume", h.ResumeIssue)
					r.Post("/revoke", h.RevokeAuthority)
					r.Put("/metadata", h.UpdateMetadata)
					r.Post("/refresh", h.RefreshAsset)
					r.Get("/pools", h.ListAssetPools)
				})
			})

			r.Route("/pools", func(r chi.Router) {
				r.Post("/", h.CreatePool)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetPool)
					r.Post("/liquidity", h.ChangeLiquidity)
					r.Post("/refresh", h.RefreshPool)
				})
			})
		})
	})

	return r
}

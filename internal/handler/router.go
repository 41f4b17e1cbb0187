package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/locrit/platform/internal/middleware"
	"github.com/locrit/platform/internal/service"
	"github.com/locrit/platform/pkg/logger"
)

// RouterConfig wires services into the HTTP API.
type RouterConfig struct {
	Store         Pinger
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Scheduled     *service.ScheduledService
	Logger        *logger.Logger

	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the chi router serving the API.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger

	healthHandler := NewHealthHandler(cfg.Store, log)
	conversationHandler := NewConversationHandler(cfg.Conversations, log)
	messageHandler := NewMessageHandler(cfg.Messages, log)
	scheduledHandler := NewScheduledHandler(cfg.Scheduled, log)
	streamHandler := NewStreamHandler(cfg.Scheduled, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/locrits", func(r chi.Router) {
			r.Get("/", messageHandler.Locrits)
			r.Get("/{id}/messages", messageHandler.LocritMessages)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/active", conversationHandler.Active)
			r.Get("/{id}", conversationHandler.Get)
			r.Get("/{id}/messages", messageHandler.ConversationMessages)
		})

		r.Route("/scheduled", func(r chi.Router) {
			r.Post("/", scheduledHandler.Start)
			r.Get("/", scheduledHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", scheduledHandler.Get)
				r.Post("/pause", scheduledHandler.Pause)
				r.Post("/resume", scheduledHandler.Resume)
				r.Post("/end", scheduledHandler.End)
				r.Get("/stream", streamHandler.Stream)
			})
		})
	})

	return r
}

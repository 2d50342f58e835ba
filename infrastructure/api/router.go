package api

import (
	"context"
	"live-queue/auth"
	"live-queue/contract"
	"live-queue/domain"
	"live-queue/domain/event"
	"live-queue/observability"
	"live-queue/services"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StatsProvider interface {
	Stats() domain.Stats
}

type ProcessSampler interface {
	Sample() (observability.ProcessStats, error)
}

// DomainEventPublisher is the collaborator contract exposed to the mutation layer.
type DomainEventPublisher interface {
	PublishDomainEvent(ctx context.Context, t event.Type, payload any, actor string) error
}

type Dependencies struct {
	Log            *slog.Logger
	Auth           services.IAuthService
	Verifier       contract.Verifier
	Notifications  DomainEventPublisher
	Stats          StatsProvider
	Process        ProcessSampler
	Gatherer       prometheus.Gatherer
	Realtime       http.Handler
	AllowedOrigins []string
}

// NewRouter wires every HTTP route. The same verifier guards the REST routes
// and the realtime handshake so a token resolves to the same user everywhere.
func NewRouter(deps Dependencies) chi.Router {
	h := &handlers{
		log:           deps.Log,
		auth:          deps.Auth,
		notifications: deps.Notifications,
		stats:         deps.Stats,
		process:       deps.Process,
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		withLogger(deps.Log),
		withCORS(deps.AllowedOrigins),
		middleware.Recoverer,
	)

	router.Get("/health", h.health)
	router.Get("/stats", h.getStats)
	router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	router.Handle("/ws", deps.Realtime)

	router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(deps.Log, deps.Verifier))
			r.Get("/auth/me", h.me)
			r.Post("/events", h.publishEvent)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "route not found"})
	})
	return router
}

func withCORS(origins []string) func(next http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	})
}

func withLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copperline-io/opswatch/internal/api/auth"
	"github.com/copperline-io/opswatch/internal/api/middleware"
	"github.com/copperline-io/opswatch/internal/ws"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	jwtService := auth.NewJWTService(s.config.JWTSecret, s.config.AccessTokenTTL)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))

	// API v1 routes (protected)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.JWTAuth(jwtService, s.logger))

		// Metric ingest from agents
		r.Post("/metrics", s.handleIngestMetrics)

		// Alert rule registry
		r.Route("/alert-rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Put("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)
			})
		})

		// Notification channels
		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Post("/{id}/test", s.handleTestChannel)
		})

		// Script executions
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", s.handleListExecutions)
			r.Post("/", s.handleSubmitExecutions)
			r.Get("/queue", s.handleQueueStatus)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetExecution)
				r.Delete("/", s.handleCancelExecution)
				r.Post("/retry", s.handleRetryExecution)
			})
		})

		// Realtime hub stats
		r.Get("/realtime/stats", s.handleRealtimeStats)
	})

	// Websocket endpoint. Auth happens here rather than in middleware so the
	// identity can be handed to the hub.
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		token := middleware.TokenFromRequest(r)
		if token == "" {
			JSONError(w, &Error{Code: ErrCodeUnauthorized, Message: "missing token", Status: http.StatusUnauthorized})
			return
		}
		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			JSONError(w, &Error{Code: ErrCodeUnauthorized, Message: "invalid or expired token", Status: http.StatusUnauthorized})
			return
		}
		s.hub.ServeWS(w, r, ws.Identity{
			UserID:         claims.UserID,
			OrganizationID: claims.OrganizationID,
		})
	})

	// Health check and Prometheus metrics (public)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		OK(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

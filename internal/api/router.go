package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/feeder-core/internal/auth"
	"github.com/nerrad567/feeder-core/internal/engine"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}

		// WebSocket authenticates with a ticket, not a bearer header.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				r.Use(requirePermission(auth.PermDeviceRead))
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/commands", s.handleIssueCommand)
					r.Put("/schedule/{index}", s.handleScheduleEdit)
				})
			})

			r.Post("/raw", s.handlePublishRaw)

			r.With(requirePermission(auth.PermConnectionManage)).Get("/connection", s.handleConnection)

			if s.audit != nil {
				r.With(requirePermission(auth.PermAuditRead)).Get("/audit", s.handleListAudit)
			}
		})
	})

	return r
}

// handleHealth reports liveness of the server and its dependencies. It
// answers 503 when a dependency check fails; a broker outage only marks the
// response degraded because the engine recovers on its own.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.engine.State()
	status := "ok"
	if state != engine.StateConnected {
		status = "degraded"
	}

	checks := make(map[string]string, len(s.checks))
	code := http.StatusOK
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"connection": state,
		"devices":    s.engine.Stats(),
		"checks":     checks,
	})
}

// handleConnection reports the bus connection state and intake drops.
func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"state":      s.engine.State(),
		"dropped":    s.engine.Dropped(),
		"ws_clients": s.hub.ClientCount(),
		"ws_dropped": s.hub.Dropped(),
	})
}

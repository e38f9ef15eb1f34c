package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iconidentify/streamfetch/internal/api/handler"
	mw "github.com/iconidentify/streamfetch/internal/api/middleware"
)

// requestTimeout bounds ordinary requests. Event streams are exempt.
const requestTimeout = 5 * time.Minute

// NewRouter creates the HTTP router with all routes configured. An empty
// apiKey disables authentication, which is only sensible on loopback.
func NewRouter(
	downloadHandler *handler.DownloadHandler,
	authHandler *handler.AuthHandler,
	eventHandler *handler.EventHandler,
	healthHandler *handler.HealthHandler,
	apiKey string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(logger))
	r.Use(mw.Recovery(logger))
	r.Use(mw.CORS)

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		if apiKey != "" {
			r.Use(mw.APIKeyAuth(apiKey))
		}

		// Long-lived event streams
		r.Get("/events/stream", eventHandler.Stream)
		r.Get("/events/ws", eventHandler.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/stats", healthHandler.Stats)

			// Submissions
			r.Post("/downloads", downloadHandler.Submit)

			// Jobs
			r.Get("/jobs", downloadHandler.ListJobs)
			r.Post("/jobs/cancel-all", downloadHandler.CancelAll)
			r.Get("/jobs/{jobID}", downloadHandler.GetJob)
			r.Post("/jobs/{jobID}/cancel", downloadHandler.CancelJob)
			r.Post("/jobs/{jobID}/retry", downloadHandler.RetryJob)
			r.Get("/jobs/{jobID}/progress", downloadHandler.JobProgress)

			// Metadata and completed downloads
			r.Get("/formats", downloadHandler.Formats)
			r.Get("/history", downloadHandler.History)

			// Playlist groups
			r.Get("/groups", downloadHandler.ListGroups)
			r.Get("/groups/{groupID}", downloadHandler.GetGroup)
			r.Post("/groups/{groupID}/cancel", downloadHandler.CancelGroup)

			// Session
			r.Get("/auth", authHandler.Status)
			r.Post("/auth/cookies", authHandler.ImportCookies)
			r.Post("/auth/login", authHandler.BeginLogin)
			r.Post("/auth/login/cancel", authHandler.CancelLogin)
			r.Post("/auth/validate", authHandler.Validate)
			r.Post("/auth/logout", authHandler.Logout)

			// Recorded events
			r.Get("/events/recent", eventHandler.Recent)
			r.Get("/events/history", eventHandler.History)
		})
	})

	return r
}

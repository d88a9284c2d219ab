package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pgstrict/pgstrict/telemetry"
)

// RegisterRoutes registers all admin API routes using chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(chiAuthMiddleware)

	// Enforcement settings
	r.Get("/config", handlers.handleConfigReport)
	r.Put("/config/{setting}", handlers.handleConfigWrite)

	// Ad-hoc inspection
	r.Post("/check", handlers.handleCheck)
	r.Post("/validate/{operation}", handlers.handleValidate)

	// Observability
	r.Get("/violations", handlers.handleViolations)
	r.Get("/stats", handlers.handleStats)

	// Mount chi router under /admin
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	// Liveness stays reachable without the shared secret
	mux.HandleFunc("/healthz", handlers.handleHealthz)

	if metricsHandler := telemetry.GetMetricsHandler(); metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
		log.Info().Msg("Metrics endpoint enabled at /metrics")
	}

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}

// chiAuthMiddleware adapts AuthMiddleware for chi
func chiAuthMiddleware(next http.Handler) http.Handler {
	return AuthMiddleware(next)
}

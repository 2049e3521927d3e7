package routes

import (
	"net/http"
	"time"

	"github.com/codeforge-dev/codeforge/app"
	"github.com/codeforge-dev/codeforge/handlers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the diagnostics routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Local tooling (editor plugins, dashboards) reads these endpoints.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	diag := handlers.NewDiagHandler(deps.Router, deps.History, deps.Logger)

	r.Get("/healthz", diag.HandleHealth)
	r.Get("/metrics", diag.HandleMetrics)
	r.Get("/history", diag.HandleHistory)

	return r
}

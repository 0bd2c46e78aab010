package routes

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/http/handlers"
	"github.com/classtable/timetable-api/internal/service"
)

// New builds the full router: global middleware, the documented huma API,
// the hidden probe API, and the raw multipart upload route.
func New(cfg *config.Config, db *sql.DB, services *service.Services, logger *slog.Logger) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Uploads are the largest legal request; everything else is small JSON.
	router.Use(middleware.RequestSize(cfg.Pipeline.MaxUploadBytes + 1024*1024))

	router.Use(httprate.LimitByIP(100, time.Minute))
	router.Use(middleware.Throttle(100))

	api := humachi.New(router, NewHumaConfig(cfg.BaseURL))
	hiddenAPI := humachi.New(router, newHiddenConfig())

	Register(api, hiddenAPI, db, services)

	uploadHandler := handlers.NewUploadHandler(services.Submission, cfg.BaseURL, cfg.Pipeline.MaxUploadBytes, logger)
	router.Post("/api/v2/timetable/upload", uploadHandler.Upload)

	return router
}

// Register wires the JSON endpoints onto the huma APIs. Split out from
// New so tests can register against a bare router.
func Register(api, hiddenAPI huma.API, db *sql.DB, services *service.Services) {
	huma.Get(api, "/api/v1/health", handlers.HealthCheck)

	// Kubernetes probes, hidden from the docs.
	huma.Get(hiddenAPI, "/healthz", handlers.Livez)
	huma.Get(hiddenAPI, "/readyz", handlers.NewReadyzHandler(db).Readyz)

	jobHandler := handlers.NewJobHandler(services.Job, services.Webhook, services.Storage)
	huma.Get(api, "/api/v2/timetable/jobs", jobHandler.ListJobs)
	huma.Get(api, "/api/v2/timetable/jobs/{jobId}", jobHandler.GetJob)
	huma.Delete(api, "/api/v2/timetable/jobs/{jobId}", jobHandler.CancelJob)
	huma.Post(api, "/api/v2/timetable/jobs/{jobId}/webhook", jobHandler.RegisterWebhook)
	huma.Get(api, "/api/v2/timetable/jobs/{jobId}/fullcalendar", jobHandler.GetFullCalendar)
	huma.Get(api, "/api/v2/timetable/jobs/{jobId}/result-url", jobHandler.GetResultURL)
}

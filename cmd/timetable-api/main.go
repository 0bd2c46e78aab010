// Package main is the entry point for the timetable-api server: the HTTP
// surface, the queue-draining worker pool, and the cleanup scheduler all
// run in this one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/database"
	"github.com/classtable/timetable-api/internal/docai"
	"github.com/classtable/timetable-api/internal/extractor"
	"github.com/classtable/timetable-api/internal/http/routes"
	"github.com/classtable/timetable-api/internal/logging"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/preprocessor"
	"github.com/classtable/timetable-api/internal/queue"
	"github.com/classtable/timetable-api/internal/repository"
	"github.com/classtable/timetable-api/internal/service"
	"github.com/classtable/timetable-api/internal/version"
	"github.com/classtable/timetable-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting timetable-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)

	// Jobs left processing by a previous run heal on their own: the queue
	// message reappears once its visibility timeout lapses. Log them so a
	// crashy deploy is visible.
	staleBefore := time.Now().Add(-cfg.Pipeline.VisibilityTimeout)
	if processing, err := repos.Jobs.List(context.Background(), models.JobStatusProcessing, 100, 0); err != nil {
		logger.Warn("failed to check for stale jobs", "error", err)
	} else {
		stale := 0
		for _, job := range processing {
			if job.StartedAt != nil && job.StartedAt.Before(staleBefore) {
				stale++
			}
		}
		if stale > 0 {
			logger.Info("found stale processing jobs from a previous run", "count", stale)
		}
	}

	q := queue.NewSQLiteQueue(db, cfg.Pipeline.VisibilityTimeout, cfg.Pipeline.LongPollWait,
		queue.WithLogger(logger))

	services, err := service.NewServices(cfg, repos, q, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Extraction backends. Each is optional; the orchestrator routes to
	// whatever is configured and the worker fails jobs cleanly when
	// nothing is.
	docaiClient := docai.NewClient(cfg.DocAIServiceURL, cfg.DocAITimeout, logger)
	pre := preprocessor.New(docaiClient, logger)

	var structured, vision, hybrid extractor.Extractor
	if cfg.Pipeline.StructuredEnabled && cfg.DocAIEnabled() {
		structured = extractor.NewStructured(docaiClient, logger)
	}
	if cfg.VisionEnabled() {
		visionBackend := extractor.NewVision(cfg.AnthropicAPIKey, cfg.VisionModel, cfg.Pipeline.BackendTimeout, logger)
		vision = visionBackend
		if cfg.Pipeline.HybridEnabled && structured != nil {
			hybrid = extractor.NewHybrid(structured, visionBackend, logger)
		}
	}
	logger.Info("extraction backends configured",
		"structured", structured != nil,
		"vision", vision != nil,
		"hybrid", hybrid != nil,
	)

	orch := extractor.NewOrchestrator(structured, vision, hybrid, cfg.Pipeline, logger)

	jobWorker := worker.New(q, repos, services.Storage, pre, orch, services.Webhook,
		worker.Config{Concurrency: cfg.Pipeline.WorkerConcurrency}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	jobWorker.Start(ctx)

	// Pick up webhooks stranded by a previous run: jobs that completed
	// but whose notification never landed before the process went down.
	go func() {
		if n, err := services.Webhook.RedeliverPending(ctx); err != nil {
			logger.Warn("webhook redelivery sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("resumed pending webhook deliveries", "count", n)
		}
	}()

	if cfg.CleanupEnabled {
		go services.Cleanup.RunScheduledCleanup(ctx, cfg.CleanupMaxAge, cfg.CleanupInterval)
		logger.Info("cleanup scheduler started",
			"max_age", cfg.CleanupMaxAge.String(),
			"interval", cfg.CleanupInterval.String(),
		)
	}

	router := routes.New(cfg, db, services, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown: stop accepting, stop polling, let in-flight jobs
	// finish inside the grace period. Anything unfinished reappears on the
	// queue after its visibility timeout.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		<-sigChan

		logger.Info("shutting down server")

		// Stop the worker first
		cancel()
		jobWorker.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownGracePeriod)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

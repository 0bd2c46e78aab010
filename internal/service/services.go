package service

import (
	"fmt"
	"log/slog"

	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/queue"
	"github.com/classtable/timetable-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Submission *SubmissionService
	Job        *JobService
	Webhook    *WebhookService
	Storage    *StorageService
	Cleanup    *CleanupService
}

// NewServices creates all service instances.
func NewServices(cfg *config.Config, repos *repository.Repositories, q queue.Queue, logger *slog.Logger) (*Services, error) {
	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	webhookSvc := NewWebhookService(repos.Webhooks, logger)
	submissionSvc := NewSubmissionService(repos.Jobs, q, storageSvc, webhookSvc, cfg.Pipeline, logger)
	jobSvc := NewJobService(repos, logger)
	dlq, _ := q.(DLQPurger)
	cleanupSvc := NewCleanupService(repos.Jobs, storageSvc, dlq, logger)

	return &Services{
		Submission: submissionSvc,
		Job:        jobSvc,
		Webhook:    webhookSvc,
		Storage:    storageSvc,
		Cleanup:    cleanupSvc,
	}, nil
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/classtable/timetable-api/internal/repository"
)

// DLQPurger deletes aged dead-letter messages.
type DLQPurger interface {
	PurgeDLQ(ctx context.Context, before time.Time) (int, error)
}

// CleanupService removes terminal jobs and their stored artifacts after a
// retention period.
type CleanupService struct {
	jobs       repository.JobRepository
	storageSvc *StorageService
	dlq        DLQPurger
	logger     *slog.Logger
}

// NewCleanupService creates a new cleanup service. dlq may be nil when no
// dead-letter purging is wanted.
func NewCleanupService(jobs repository.JobRepository, storageSvc *StorageService, dlq DLQPurger, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		jobs:       jobs,
		storageSvc: storageSvc,
		dlq:        dlq,
		logger:     logger.With("component", "cleanup"),
	}
}

// CleanupResult contains the results of a cleanup operation.
type CleanupResult struct {
	JobsDeleted    int
	ResultsDeleted int
	UploadsDeleted int
	DLQPurged      int
	Errors         []error
}

// CleanupOldJobs removes terminal jobs older than maxAge along with their
// result and upload blobs. Timetable, retry-log, and webhook rows go with
// the job via foreign keys.
func (s *CleanupService) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (*CleanupResult, error) {
	result := &CleanupResult{}
	cutoff := time.Now().Add(-maxAge)

	s.logger.Info("starting job cleanup",
		"max_age", maxAge.String(),
		"cutoff", cutoff.Format(time.RFC3339),
	)

	deletedJobIDs, err := s.jobs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to delete old jobs", "error", err)
		result.Errors = append(result.Errors, err)
	} else {
		result.JobsDeleted = len(deletedJobIDs)
	}

	if s.storageSvc != nil && s.storageSvc.IsEnabled() {
		count, err := s.storageSvc.DeleteOldResults(ctx, maxAge)
		if err != nil {
			s.logger.Error("failed to delete old result objects", "error", err)
			result.Errors = append(result.Errors, err)
		} else {
			result.ResultsDeleted = count
		}

		uploads, err := s.storageSvc.DeleteOldUploads(ctx, maxAge)
		if err != nil {
			s.logger.Error("failed to delete old upload objects", "error", err)
			result.Errors = append(result.Errors, err)
		} else {
			result.UploadsDeleted = uploads
		}
	}

	if s.dlq != nil {
		purged, err := s.dlq.PurgeDLQ(ctx, cutoff)
		if err != nil {
			s.logger.Error("failed to purge dead-letter queue", "error", err)
			result.Errors = append(result.Errors, err)
		} else {
			result.DLQPurged = purged
		}
	}

	s.logger.Info("cleanup completed",
		"jobs_deleted", result.JobsDeleted,
		"results_deleted", result.ResultsDeleted,
		"uploads_deleted", result.UploadsDeleted,
		"dlq_purged", result.DLQPurged,
		"errors", len(result.Errors),
	)
	return result, nil
}

// RunScheduledCleanup runs cleanup immediately and then at the given
// interval until the context is cancelled.
func (s *CleanupService) RunScheduledCleanup(ctx context.Context, maxAge, interval time.Duration) {
	s.logger.Info("starting scheduled cleanup",
		"max_age", maxAge.String(),
		"interval", interval.String(),
	)

	if _, err := s.CleanupOldJobs(ctx, maxAge); err != nil {
		s.logger.Error("initial cleanup failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled cleanup stopped")
			return
		case <-ticker.C:
			if _, err := s.CleanupOldJobs(ctx, maxAge); err != nil {
				s.logger.Error("scheduled cleanup failed", "error", err)
			}
		}
	}
}

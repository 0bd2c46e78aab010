// Package repository defines repository interfaces for data access.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/classtable/timetable-api/internal/models"
)

// JobRepository defines methods for job data access.
//
// Status changes go through the conditional Mark* methods, which only
// fire when the row is in the expected prior state. That keeps duplicate
// queue deliveries and concurrent cancellation from clobbering terminal
// states.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error)
	List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.Job, error)

	// MarkProcessing transitions pending -> processing. Returns false if
	// the job was not pending (already claimed, cancelled, or terminal).
	MarkProcessing(ctx context.Context, id string) (bool, error)

	// MarkCompleted transitions processing -> completed and records the
	// result links. Returns false if the job was not processing.
	MarkCompleted(ctx context.Context, id string, method models.ProcessingMethod, complexity models.ComplexityLevel, timetableID, resultBlobKey string) (bool, error)

	// MarkFailed transitions processing -> failed with an error message
	// and counts the terminal attempt in retry_count. Returns false if
	// the job was not processing.
	MarkFailed(ctx context.Context, id, errorMessage string) (bool, error)

	// MarkFailedFromPending transitions pending -> failed. Used when the
	// enqueue after job creation fails, so the job never reaches a worker.
	MarkFailedFromPending(ctx context.Context, id, errorMessage string) (bool, error)

	// MarkCancelled transitions pending -> cancelled. Returns false if
	// the job had already left pending.
	MarkCancelled(ctx context.Context, id string) (bool, error)

	// RequeueForRetry transitions processing -> pending and bumps
	// retry_count so the next delivery is attempt N+1.
	RequeueForRetry(ctx context.Context, id string) (bool, error)

	// DeleteOlderThan deletes terminal jobs older than the given time and
	// returns the deleted job IDs so callers can purge associated blobs.
	DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error)

	CountByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// TimetableRepository defines methods for extracted-timetable data access.
type TimetableRepository interface {
	// Create persists a timetable with its time blocks and recurring
	// blocks in one transaction.
	Create(ctx context.Context, tt *models.ExtractedTimetable) error
	GetByID(ctx context.Context, id string) (*models.ExtractedTimetable, error)
	GetByJobID(ctx context.Context, jobID string) (*models.ExtractedTimetable, error)
}

// RetryLogRepository defines methods for retry log data access.
type RetryLogRepository interface {
	Create(ctx context.Context, log *models.RetryLog) error
	GetByJobID(ctx context.Context, jobID string) ([]*models.RetryLog, error)
}

// WebhookRepository defines methods for webhook data access.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	GetByJobID(ctx context.Context, jobID string) (*models.Webhook, error)
	// RecordAttempt persists the outcome of one delivery attempt.
	RecordAttempt(ctx context.Context, id string, delivered bool, errorMessage string) error
	// ListUndelivered returns undelivered webhooks with attempts left
	// whose job has completed, oldest first.
	ListUndelivered(ctx context.Context, limit int) ([]*models.Webhook, error)
}

// Repositories holds all repository implementations.
type Repositories struct {
	Jobs       JobRepository
	Timetables TimetableRepository
	RetryLogs  RetryLogRepository
	Webhooks   WebhookRepository
}

// NewRepositories creates all SQLite repositories.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Jobs:       NewSQLiteJobRepository(db),
		Timetables: NewSQLiteTimetableRepository(db),
		RetryLogs:  NewSQLiteRetryLogRepository(db),
		Webhooks:   NewSQLiteWebhookRepository(db),
	}
}

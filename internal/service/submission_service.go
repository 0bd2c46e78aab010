package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/preprocessor"
	"github.com/classtable/timetable-api/internal/queue"
	"github.com/classtable/timetable-api/internal/repository"
)

// ClientError is a submission rejection the caller can fix: wrong file
// type, oversize upload, missing fields. Handlers map it to a 4xx.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return e.Message
}

// IsClientError reports whether err is a caller-fixable rejection.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// SubmitInput is one upload to turn into a job.
type SubmitInput struct {
	FileName    string
	MimeType    string
	Content     []byte
	TeacherName string
	ClassName   string
	UserID      string
	WebhookURL  string
}

// SubmitResult is what the upload endpoint echoes back.
type SubmitResult struct {
	Job               *models.Job
	WebhookRegistered bool
}

// BlobWriter is the slice of the storage layer the submission path uses.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// SubmissionService validates uploads and turns them into queued jobs.
// The accept path is: validate, store the artifact, create the Job row,
// register the webhook if one was requested, then enqueue. The webhook
// row must exist before the message does, or a worker that finishes
// quickly fires delivery before there is anything to deliver to. An
// enqueue failure marks the job failed immediately so no job is left
// dangling in pending with no message behind it.
type SubmissionService struct {
	jobs       repository.JobRepository
	queue      queue.Queue
	storage    BlobWriter
	webhookSvc *WebhookService
	maxBytes   int64
	maxRetries int
	logger     *slog.Logger
}

// NewSubmissionService creates a new submission service.
func NewSubmissionService(
	jobs repository.JobRepository,
	q queue.Queue,
	storage BlobWriter,
	webhookSvc *WebhookService,
	cfg config.PipelineConfig,
	logger *slog.Logger,
) *SubmissionService {
	return &SubmissionService{
		jobs:       jobs,
		queue:      q,
		storage:    storage,
		webhookSvc: webhookSvc,
		maxBytes:   cfg.MaxUploadBytes,
		maxRetries: cfg.MaxRetries,
		logger:     logger.With("component", "submission"),
	}
}

// Submit validates and accepts one upload, returning the pending job.
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	jobID := ulid.Make().String()
	fileKey := UploadKey(in.UserID, in.FileName, now)

	if err := s.storage.Put(ctx, fileKey, in.Content, in.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	job := &models.Job{
		ID:               jobID,
		Status:           models.JobStatusPending,
		FileKey:          fileKey,
		MimeType:         in.MimeType,
		OriginalFileName: in.FileName,
		FileSize:         int64(len(in.Content)),
		UserID:           in.UserID,
		TeacherName:      in.TeacherName,
		ClassName:        in.ClassName,
		MaxRetries:       s.maxRetries,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	result := &SubmitResult{Job: job}
	if in.WebhookURL != "" {
		if _, err := s.webhookSvc.Register(ctx, jobID, in.WebhookURL); err != nil {
			// A bad webhook URL should not void the submission.
			s.logger.Warn("webhook registration failed", "job_id", jobID, "error", err)
		} else {
			result.WebhookRegistered = true
		}
	}

	if err := s.queue.Send(ctx, queue.JobMessage{
		JobID:            jobID,
		FileKey:          fileKey,
		OriginalFileName: in.FileName,
		MimeType:         in.MimeType,
		TeacherName:      in.TeacherName,
		ClassName:        in.ClassName,
		UserID:           in.UserID,
	}); err != nil {
		// The job exists but no worker will ever see it. Fail it now
		// rather than leave it pending forever.
		msg := fmt.Sprintf("enqueue_error: %v", err)
		if _, ferr := s.jobs.MarkFailedFromPending(ctx, jobID, msg); ferr != nil {
			s.logger.Error("failed to fail unenqueued job", "job_id", jobID, "error", ferr)
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("job submitted",
		"job_id", jobID,
		"file_name", in.FileName,
		"mime_type", in.MimeType,
		"size_bytes", len(in.Content),
	)
	return result, nil
}

func (s *SubmissionService) validate(in SubmitInput) error {
	if in.FileName == "" {
		return &ClientError{Message: "file name is required"}
	}
	if len(in.Content) == 0 {
		return &ClientError{Message: "uploaded file is empty"}
	}
	if int64(len(in.Content)) > s.maxBytes {
		return &ClientError{Message: fmt.Sprintf("file exceeds maximum size of %d bytes", s.maxBytes)}
	}
	if !preprocessor.IsSupported(in.MimeType) {
		return &ClientError{Message: fmt.Sprintf("unsupported file type %q", in.MimeType)}
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/repository"
	"github.com/classtable/timetable-api/internal/timetable"
)

// ErrJobNotFound is returned for lookups of unknown job IDs.
var ErrJobNotFound = fmt.Errorf("job not found")

// JobService exposes job lifecycle reads and the few mutations the API
// surface allows (cancellation).
type JobService struct {
	jobs       repository.JobRepository
	timetables repository.TimetableRepository
	retryLogs  repository.RetryLogRepository
	logger     *slog.Logger
}

// NewJobService creates a new job service.
func NewJobService(repos *repository.Repositories, logger *slog.Logger) *JobService {
	return &JobService{
		jobs:       repos.Jobs,
		timetables: repos.Timetables,
		retryLogs:  repos.RetryLogs,
		logger:     logger.With("component", "jobs"),
	}
}

// JobDetail is a job plus its result and retry history, assembled for
// the status endpoint.
type JobDetail struct {
	Job       *models.Job
	Result    *models.ExtractedTimetable
	RetryLogs []*models.RetryLog
}

// Get returns a job with its result (when completed) and retry history.
func (s *JobService) Get(ctx context.Context, jobID string) (*JobDetail, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	detail := &JobDetail{Job: job}

	if job.Status == models.JobStatusCompleted {
		tt, err := s.timetables.GetByJobID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		detail.Result = tt
	}

	logs, err := s.retryLogs.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	detail.RetryLogs = logs

	return detail, nil
}

// List returns jobs newest first. An empty userID lists across users; an
// empty status lists all statuses.
func (s *JobService) List(ctx context.Context, userID string, status models.JobStatus, limit, offset int) ([]*models.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if userID != "" {
		return s.jobs.GetByUserID(ctx, userID, limit, offset)
	}
	return s.jobs.List(ctx, status, limit, offset)
}

// Cancel cancels a pending job. The queue message stays where it is; a
// worker receiving it later finds the cancelled status and drops it.
func (s *JobService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}

	ok, err := s.jobs.MarkCancelled(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok {
		return &ClientError{Message: fmt.Sprintf("job is %s; only pending jobs can be cancelled", job.Status)}
	}

	s.logger.Info("job cancelled", "job_id", jobID)
	return nil
}

// FullCalendar returns the calendar projection of a completed job's
// result.
func (s *JobService) FullCalendar(ctx context.Context, jobID string) (*timetable.Calendar, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status != models.JobStatusCompleted {
		return nil, &ClientError{Message: fmt.Sprintf("job is %s; calendar projection requires a completed job", job.Status)}
	}

	tt, err := s.timetables.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if tt == nil {
		return nil, fmt.Errorf("completed job %s has no stored timetable", jobID)
	}

	return timetable.ToFullCalendar(tt), nil
}

// CountByStatus reports queue pressure for the readiness endpoint.
func (s *JobService) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	return s.jobs.CountByStatus(ctx, status)
}

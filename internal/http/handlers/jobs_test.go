package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/database/migrations"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/repository"
	"github.com/classtable/timetable-api/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type jobFixture struct {
	repos   *repository.Repositories
	handler *JobHandler
}

func setupJobHandler(t *testing.T) *jobFixture {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := discardLogger()
	repos := repository.NewRepositories(db)

	// No bucket configured: storage stays disabled for handler tests.
	storageSvc, err := service.NewStorageService(&config.Config{}, logger)
	if err != nil {
		t.Fatalf("failed to create storage service: %v", err)
	}

	return &jobFixture{
		repos: repos,
		handler: NewJobHandler(
			service.NewJobService(repos, logger),
			service.NewWebhookService(repos.Webhooks, logger),
			storageSvc,
		),
	}
}

func (f *jobFixture) seedJob(t *testing.T, id string, status models.JobStatus) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:               id,
		Status:           status,
		FileKey:          "uploads/anonymous/123-timetable.png",
		MimeType:         "image/png",
		OriginalFileName: "timetable.png",
		FileSize:         2048,
		MaxRetries:       3,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := f.repos.Jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

func (f *jobFixture) seedResult(t *testing.T, jobID string) {
	t.Helper()
	tt := &models.ExtractedTimetable{
		ID:          "tt-" + jobID,
		JobID:       jobID,
		TeacherName: "Ms Appleby",
		Blocks: []models.TimeBlock{
			{Day: models.Monday, StartTime: 540, EndTime: 600, EventName: "Maths", Confidence: 0.9},
		},
		RecurringBlocks: []models.RecurringBlock{
			{StartTime: 750, EndTime: 795, EventName: "Lunch", AppliesDaily: true},
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := f.repos.Timetables.Create(context.Background(), tt); err != nil {
		t.Fatalf("failed to seed timetable: %v", err)
	}
}

func wantStatusError(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a status %d error, got nil", status)
	}
	var se huma.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected a status error, got %T: %v", err, err)
	}
	if se.GetStatus() != status {
		t.Fatalf("status = %d, want %d (%v)", se.GetStatus(), status, err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := setupJobHandler(t)

	_, err := f.handler.GetJob(context.Background(), &GetJobInput{JobID: "missing"})
	wantStatusError(t, err, 404)
}

func TestGetJobCompletedIncludesResult(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusCompleted)
	f.seedResult(t, "job-1")

	output, err := f.handler.GetJob(context.Background(), &GetJobInput{JobID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := output.Body.Data
	if !output.Body.Success {
		t.Error("expected success envelope")
	}
	if data.Status != "completed" {
		t.Errorf("Status = %q, want completed", data.Status)
	}
	if data.Result == nil {
		t.Fatal("expected result for completed job")
	}
	if len(data.Result.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(data.Result.Blocks))
	}
	block := data.Result.Blocks[0]
	if block.Day != "Monday" || block.StartTime != "09:00" || block.EndTime != "10:00" {
		t.Errorf("block = %+v, want Monday 09:00-10:00", block)
	}
	if len(data.Result.RecurringBlocks) != 1 || data.Result.RecurringBlocks[0].StartTime != "12:30" {
		t.Errorf("recurring blocks = %+v, want one at 12:30", data.Result.RecurringBlocks)
	}
}

func TestGetJobFailedIncludesRetryLog(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusFailed)
	if err := f.repos.RetryLogs.Create(context.Background(), &models.RetryLog{
		ID:           "retry-1",
		JobID:        "job-1",
		AttemptNum:   1,
		ErrorType:    "vision_backend_error",
		ErrorMessage: "model timed out",
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("failed to seed retry log: %v", err)
	}

	output, err := f.handler.GetJob(context.Background(), &GetJobInput{JobID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Data.Result != nil {
		t.Error("failed job should carry no result")
	}
	if len(output.Body.Data.RetryLog) != 1 {
		t.Fatalf("got %d retry log entries, want 1", len(output.Body.Data.RetryLog))
	}
	if output.Body.Data.RetryLog[0].ErrorType != "vision_backend_error" {
		t.Errorf("ErrorType = %q", output.Body.Data.RetryLog[0].ErrorType)
	}
}

func TestListJobsPagination(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusPending)
	f.seedJob(t, "job-2", models.JobStatusPending)
	f.seedJob(t, "job-3", models.JobStatusCompleted)

	output, err := f.handler.ListJobs(context.Background(), &ListJobsInput{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Body.Data.Jobs) != 2 {
		t.Errorf("got %d jobs, want 2", len(output.Body.Data.Jobs))
	}
	if output.Body.Data.Pagination.Count != 2 || output.Body.Data.Pagination.Limit != 2 {
		t.Errorf("pagination = %+v", output.Body.Data.Pagination)
	}

	output, err = f.handler.ListJobs(context.Background(), &ListJobsInput{Limit: 10, Status: "completed"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(output.Body.Data.Jobs) != 1 || output.Body.Data.Jobs[0].JobID != "job-3" {
		t.Errorf("status filter returned %+v", output.Body.Data.Jobs)
	}
}

func TestCancelJob(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusPending)

	output, err := f.handler.CancelJob(context.Background(), &CancelJobInput{JobID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Data.Status != "cancelled" {
		t.Errorf("Status = %q, want cancelled", output.Body.Data.Status)
	}

	job, err := f.repos.Jobs.GetByID(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != models.JobStatusCancelled {
		t.Errorf("stored status = %q, want cancelled", job.Status)
	}

	// A second cancel finds the job already out of pending.
	_, err = f.handler.CancelJob(context.Background(), &CancelJobInput{JobID: "job-1"})
	wantStatusError(t, err, 409)
}

func TestCancelJobNotFound(t *testing.T) {
	f := setupJobHandler(t)

	_, err := f.handler.CancelJob(context.Background(), &CancelJobInput{JobID: "missing"})
	wantStatusError(t, err, 404)
}

func TestRegisterWebhook(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusPending)

	input := &RegisterWebhookInput{JobID: "job-1"}
	input.Body.URL = "https://example.com/hooks/done"

	output, err := f.handler.RegisterWebhook(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Data.WebhookID == "" {
		t.Error("expected a webhook ID")
	}
	if output.Body.Data.JobID != "job-1" || output.Body.Data.MaxAttempts == 0 {
		t.Errorf("webhook data = %+v", output.Body.Data)
	}

	// A job carries at most one webhook.
	_, err = f.handler.RegisterWebhook(context.Background(), input)
	wantStatusError(t, err, 400)
}

func TestRegisterWebhookTerminalJob(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusCompleted)

	input := &RegisterWebhookInput{JobID: "job-1"}
	input.Body.URL = "https://example.com/hooks/done"

	_, err := f.handler.RegisterWebhook(context.Background(), input)
	wantStatusError(t, err, 409)
}

func TestRegisterWebhookInvalidURL(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusPending)

	input := &RegisterWebhookInput{JobID: "job-1"}
	input.Body.URL = "not-a-url"

	_, err := f.handler.RegisterWebhook(context.Background(), input)
	wantStatusError(t, err, 400)
}

func TestGetFullCalendarRequiresCompletion(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusProcessing)

	_, err := f.handler.GetFullCalendar(context.Background(), &FullCalendarInput{JobID: "job-1"})
	wantStatusError(t, err, 409)
}

func TestGetFullCalendarCompleted(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusCompleted)
	f.seedResult(t, "job-1")

	output, err := f.handler.GetFullCalendar(context.Background(), &FullCalendarInput{JobID: "job-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cal := output.Body.Data
	if cal == nil {
		t.Fatal("expected a calendar")
	}
	// One scheduled block plus the daily lunch fixture.
	if len(cal.Events) != 2 {
		t.Errorf("got %d events, want 2", len(cal.Events))
	}
	if cal.Metadata.JobID != "job-1" {
		t.Errorf("metadata job = %q, want job-1", cal.Metadata.JobID)
	}
}

func TestGetResultURLStorageDisabled(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusCompleted)

	_, err := f.handler.GetResultURL(context.Background(), &ResultURLInput{JobID: "job-1"})
	wantStatusError(t, err, 503)
}

func TestGetResultURLRequiresCompletion(t *testing.T) {
	f := setupJobHandler(t)
	f.seedJob(t, "job-1", models.JobStatusPending)

	_, err := f.handler.GetResultURL(context.Background(), &ResultURLInput{JobID: "job-1"})
	wantStatusError(t, err, 409)
}

package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/service"
	"github.com/classtable/timetable-api/internal/timetable"
)

const resultURLExpiry = 15 * time.Minute

// JobHandler handles job status, listing, cancellation, and result
// projection endpoints.
type JobHandler struct {
	jobSvc     *service.JobService
	webhookSvc *service.WebhookService
	storageSvc *service.StorageService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(jobSvc *service.JobService, webhookSvc *service.WebhookService, storageSvc *service.StorageService) *JobHandler {
	return &JobHandler{
		jobSvc:     jobSvc,
		webhookSvc: webhookSvc,
		storageSvc: storageSvc,
	}
}

// JobData represents a job in API responses.
type JobData struct {
	JobID            string         `json:"jobId" example:"01HXYZ123ABC456DEF789" doc:"Unique job identifier (ULID)"`
	Status           string         `json:"status" example:"completed" doc:"Job status: pending, processing, completed, failed, cancelled"`
	FileName         string         `json:"fileName" example:"timetable.png" doc:"Original name of the uploaded file"`
	MimeType         string         `json:"mimeType" example:"image/png"`
	FileSize         int64          `json:"fileSize" example:"482133" doc:"Upload size in bytes"`
	TeacherName      string         `json:"teacherName,omitempty"`
	ClassName        string         `json:"className,omitempty"`
	ProcessingMethod string         `json:"processingMethod,omitempty" example:"structured" doc:"Extraction path that produced the result (set on success)"`
	Complexity       string         `json:"complexity,omitempty" example:"simple" doc:"Classified artifact complexity (set on success)"`
	ErrorMessage     string         `json:"errorMessage,omitempty" doc:"Terminal error (set on failure)"`
	RetryCount       int            `json:"retryCount"`
	MaxRetries       int            `json:"maxRetries"`
	CreatedAt        string         `json:"createdAt"`
	StartedAt        string         `json:"startedAt,omitempty"`
	CompletedAt      string         `json:"completedAt,omitempty"`
	Result           *TimetableData `json:"result,omitempty" doc:"Extraction result (completed jobs only)"`
	RetryLog         []RetryAttempt `json:"retryLog,omitempty" doc:"Failed attempts, oldest first"`
}

// TimetableData is the extraction result as presented over the API:
// times as HH:MM strings, days as full English names.
type TimetableData struct {
	TeacherName     string          `json:"teacherName,omitempty"`
	ClassName       string          `json:"className,omitempty"`
	Term            string          `json:"term,omitempty"`
	Week            string          `json:"week,omitempty"`
	Blocks          []BlockData     `json:"blocks"`
	RecurringBlocks []RecurringData `json:"recurringBlocks,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// BlockData is one scheduled event.
type BlockData struct {
	Day        string  `json:"day" example:"Monday"`
	StartTime  string  `json:"startTime" example:"09:00"`
	EndTime    string  `json:"endTime" example:"10:00"`
	EventName  string  `json:"eventName" example:"Maths"`
	Notes      string  `json:"notes,omitempty"`
	Color      string  `json:"color,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	IsFixed    bool    `json:"isFixed"`
}

// RecurringData is a fixture repeating across the week.
type RecurringData struct {
	StartTime    string `json:"startTime" example:"12:30"`
	EndTime      string `json:"endTime" example:"13:15"`
	EventName    string `json:"eventName" example:"Lunch"`
	AppliesDaily bool   `json:"appliesDaily"`
	Notes        string `json:"notes,omitempty"`
}

// RetryAttempt is one failed processing attempt.
type RetryAttempt struct {
	AttemptNum   int    `json:"attemptNum"`
	ErrorType    string `json:"errorType" example:"vision_backend_error"`
	ErrorMessage string `json:"errorMessage"`
	CreatedAt    string `json:"createdAt"`
}

// GetJobInput represents a job status request.
type GetJobInput struct {
	JobID string `path:"jobId" doc:"Job identifier returned by the upload endpoint"`
}

// JobEnvelope wraps a single job response.
type JobEnvelope struct {
	Success bool    `json:"success"`
	Data    JobData `json:"data"`
}

// GetJobOutput represents a job status response.
type GetJobOutput struct {
	Body JobEnvelope
}

// GetJob handles GET /api/v2/timetable/jobs/{jobId}.
func (h *JobHandler) GetJob(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	detail, err := h.jobSvc.Get(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("failed to load job: " + err.Error())
	}

	data := toJobData(detail.Job)
	if detail.Result != nil {
		data.Result = toTimetableData(detail.Result)
	}
	for _, log := range detail.RetryLogs {
		data.RetryLog = append(data.RetryLog, RetryAttempt{
			AttemptNum:   log.AttemptNum,
			ErrorType:    log.ErrorType,
			ErrorMessage: log.ErrorMessage,
			CreatedAt:    log.CreatedAt.Format(time.RFC3339),
		})
	}

	return &GetJobOutput{Body: JobEnvelope{Success: true, Data: data}}, nil
}

// ListJobsInput represents a job listing request.
type ListJobsInput struct {
	Limit  int    `query:"limit" default:"20" maximum:"100" doc:"Number of jobs to return"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
	Status string `query:"status" doc:"Filter by job status: pending, processing, completed, failed, cancelled"`
	UserID string `query:"userId" doc:"Filter by submitter identity"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count" doc:"Number of jobs in this page"`
}

// ListJobsData is the listing payload.
type ListJobsData struct {
	Jobs       []JobData  `json:"jobs"`
	Pagination Pagination `json:"pagination"`
}

// ListJobsEnvelope wraps a listing response.
type ListJobsEnvelope struct {
	Success bool         `json:"success"`
	Data    ListJobsData `json:"data"`
}

// ListJobsOutput represents a job listing response.
type ListJobsOutput struct {
	Body ListJobsEnvelope
}

// ListJobs handles GET /api/v2/timetable/jobs.
func (h *JobHandler) ListJobs(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.jobSvc.List(ctx, input.UserID, models.JobStatus(input.Status), input.Limit, input.Offset)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs: " + err.Error())
	}

	data := ListJobsData{
		Jobs: make([]JobData, 0, len(jobs)),
		Pagination: Pagination{
			Limit:  input.Limit,
			Offset: input.Offset,
			Count:  len(jobs),
		},
	}
	for _, job := range jobs {
		data.Jobs = append(data.Jobs, toJobData(job))
	}

	return &ListJobsOutput{Body: ListJobsEnvelope{Success: true, Data: data}}, nil
}

// CancelJobInput represents a cancellation request.
type CancelJobInput struct {
	JobID string `path:"jobId"`
}

// CancelJobData is the cancellation payload.
type CancelJobData struct {
	JobID  string `json:"jobId"`
	Status string `json:"status" example:"cancelled"`
}

// CancelJobEnvelope wraps a cancellation response.
type CancelJobEnvelope struct {
	Success bool          `json:"success"`
	Data    CancelJobData `json:"data"`
}

// CancelJobOutput represents a cancellation response.
type CancelJobOutput struct {
	Body CancelJobEnvelope
}

// CancelJob handles DELETE /api/v2/timetable/jobs/{jobId}. Only pending
// jobs can be cancelled; anything further along returns 409.
func (h *JobHandler) CancelJob(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	err := h.jobSvc.Cancel(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		if service.IsClientError(err) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to cancel job: " + err.Error())
	}

	return &CancelJobOutput{Body: CancelJobEnvelope{
		Success: true,
		Data: CancelJobData{
			JobID:  input.JobID,
			Status: string(models.JobStatusCancelled),
		},
	}}, nil
}

// RegisterWebhookInput represents a webhook registration request.
type RegisterWebhookInput struct {
	JobID string `path:"jobId"`
	Body  struct {
		URL string `json:"url" format:"uri" example:"https://my-app.com/hooks/timetable" doc:"URL to receive a POST when the job completes"`
	}
}

// WebhookData is the webhook registration payload.
type WebhookData struct {
	WebhookID   string `json:"webhookId"`
	JobID       string `json:"jobId"`
	URL         string `json:"url"`
	MaxAttempts int    `json:"maxAttempts"`
	CreatedAt   string `json:"createdAt"`
}

// WebhookEnvelope wraps a webhook registration response.
type WebhookEnvelope struct {
	Success bool        `json:"success"`
	Data    WebhookData `json:"data"`
}

// RegisterWebhookOutput represents a webhook registration response.
type RegisterWebhookOutput struct {
	Body WebhookEnvelope
}

// RegisterWebhook handles POST /api/v2/timetable/jobs/{jobId}/webhook.
func (h *JobHandler) RegisterWebhook(ctx context.Context, input *RegisterWebhookInput) (*RegisterWebhookOutput, error) {
	detail, err := h.jobSvc.Get(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("failed to load job: " + err.Error())
	}
	if detail.Job.Status.IsTerminal() {
		return nil, huma.Error409Conflict("job is " + string(detail.Job.Status) + "; webhooks can only be attached before completion")
	}

	webhook, err := h.webhookSvc.Register(ctx, input.JobID, input.Body.URL)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	return &RegisterWebhookOutput{Body: WebhookEnvelope{
		Success: true,
		Data: WebhookData{
			WebhookID:   webhook.ID,
			JobID:       webhook.JobID,
			URL:         webhook.URL,
			MaxAttempts: webhook.MaxAttempts,
			CreatedAt:   webhook.CreatedAt.Format(time.RFC3339),
		},
	}}, nil
}

// FullCalendarInput represents a calendar projection request.
type FullCalendarInput struct {
	JobID string `path:"jobId"`
}

// FullCalendarEnvelope wraps a calendar projection response.
type FullCalendarEnvelope struct {
	Success bool                `json:"success"`
	Data    *timetable.Calendar `json:"data"`
}

// FullCalendarOutput represents a calendar projection response.
type FullCalendarOutput struct {
	Body FullCalendarEnvelope
}

// GetFullCalendar handles GET /api/v2/timetable/jobs/{jobId}/fullcalendar.
func (h *JobHandler) GetFullCalendar(ctx context.Context, input *FullCalendarInput) (*FullCalendarOutput, error) {
	calendar, err := h.jobSvc.FullCalendar(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		if service.IsClientError(err) {
			return nil, huma.Error409Conflict(err.Error())
		}
		return nil, huma.Error500InternalServerError("failed to build calendar: " + err.Error())
	}

	return &FullCalendarOutput{Body: FullCalendarEnvelope{Success: true, Data: calendar}}, nil
}

// ResultURLInput represents a result download URL request.
type ResultURLInput struct {
	JobID string `path:"jobId"`
}

// ResultURLData is the presigned download payload.
type ResultURLData struct {
	URL       string `json:"url" doc:"Presigned URL for the raw extraction result JSON"`
	ExpiresAt string `json:"expiresAt"`
}

// ResultURLEnvelope wraps a result download URL response.
type ResultURLEnvelope struct {
	Success bool          `json:"success"`
	Data    ResultURLData `json:"data"`
}

// ResultURLOutput represents a result download URL response.
type ResultURLOutput struct {
	Body ResultURLEnvelope
}

// GetResultURL handles GET /api/v2/timetable/jobs/{jobId}/result-url.
func (h *JobHandler) GetResultURL(ctx context.Context, input *ResultURLInput) (*ResultURLOutput, error) {
	detail, err := h.jobSvc.Get(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("failed to load job: " + err.Error())
	}
	if detail.Job.Status != models.JobStatusCompleted {
		return nil, huma.Error409Conflict("job is " + string(detail.Job.Status) + "; results exist only for completed jobs")
	}
	if !h.storageSvc.IsEnabled() {
		return nil, huma.Error503ServiceUnavailable("result downloads require object storage")
	}

	url, err := h.storageSvc.ResultDownloadURL(ctx, input.JobID, resultURLExpiry)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to generate download URL: " + err.Error())
	}

	return &ResultURLOutput{Body: ResultURLEnvelope{
		Success: true,
		Data: ResultURLData{
			URL:       url,
			ExpiresAt: time.Now().UTC().Add(resultURLExpiry).Format(time.RFC3339),
		},
	}}, nil
}

func toJobData(job *models.Job) JobData {
	data := JobData{
		JobID:            job.ID,
		Status:           string(job.Status),
		FileName:         job.OriginalFileName,
		MimeType:         job.MimeType,
		FileSize:         job.FileSize,
		TeacherName:      job.TeacherName,
		ClassName:        job.ClassName,
		ProcessingMethod: string(job.ProcessingMethod),
		Complexity:       string(job.Complexity),
		ErrorMessage:     job.ErrorMessage,
		RetryCount:       job.RetryCount,
		MaxRetries:       job.MaxRetries,
		CreatedAt:        job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		data.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		data.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return data
}

func toTimetableData(tt *models.ExtractedTimetable) *TimetableData {
	data := &TimetableData{
		TeacherName: tt.TeacherName,
		ClassName:   tt.ClassName,
		Term:        tt.Term,
		Week:        tt.Week,
		Blocks:      make([]BlockData, 0, len(tt.Blocks)),
		Warnings:    tt.Warnings,
	}
	for _, b := range tt.Blocks {
		data.Blocks = append(data.Blocks, BlockData{
			Day:        string(b.Day),
			StartTime:  models.MinutesToClock(b.StartTime),
			EndTime:    models.MinutesToClock(b.EndTime),
			EventName:  b.EventName,
			Notes:      b.Notes,
			Color:      b.Color,
			Confidence: b.Confidence,
			IsFixed:    b.IsFixed,
		})
	}
	for _, r := range tt.RecurringBlocks {
		data.RecurringBlocks = append(data.RecurringBlocks, RecurringData{
			StartTime:    models.MinutesToClock(r.StartTime),
			EndTime:      models.MinutesToClock(r.EndTime),
			EventName:    r.EventName,
			AppliesDaily: r.AppliesDaily,
			Notes:        r.Notes,
		})
	}
	return data
}

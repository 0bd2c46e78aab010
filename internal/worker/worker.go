// Package worker drains the job queue and drives artifacts through the
// extraction pipeline.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/classtable/timetable-api/internal/extractor"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/pipeline"
	"github.com/classtable/timetable-api/internal/preprocessor"
	"github.com/classtable/timetable-api/internal/queue"
	"github.com/classtable/timetable-api/internal/repository"
)

// BlobStore is the slice of the storage service the worker needs.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	StoreResult(ctx context.Context, jobID string, tt *models.ExtractedTimetable) (string, error)
}

// Preprocessor normalizes raw upload bytes into an artifact.
type Preprocessor interface {
	Preprocess(ctx context.Context, content []byte, name, mimeType string) (*preprocessor.Artifact, error)
}

// Orchestrator runs the extraction pipeline on one artifact.
type Orchestrator interface {
	Run(ctx context.Context, artifact *preprocessor.Artifact, hint extractor.Hint) (*extractor.Result, error)
}

// Notifier delivers completion webhooks.
type Notifier interface {
	DeliverForJob(ctx context.Context, jobID string)
}

// Worker runs N concurrent queue drainers. Workers share no mutable
// in-process state; the queue's visibility timeout and the job store's
// conditional updates are the only coordination.
type Worker struct {
	queue        queue.Queue
	jobs         repository.JobRepository
	timetables   repository.TimetableRepository
	retryLogs    repository.RetryLogRepository
	blobs        BlobStore
	preprocessor Preprocessor
	orchestrator Orchestrator
	notifier     Notifier
	concurrency  int
	stop         chan struct{}
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	Concurrency int
}

// New creates a new worker pool.
func New(
	q queue.Queue,
	repos *repository.Repositories,
	blobs BlobStore,
	pre Preprocessor,
	orch Orchestrator,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:        q,
		jobs:         repos.Jobs,
		timetables:   repos.Timetables,
		retryLogs:    repos.RetryLogs,
		blobs:        blobs,
		preprocessor: pre,
		orchestrator: orch,
		notifier:     notifier,
		concurrency:  cfg.Concurrency,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
	}
}

// Start begins draining the queue.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency)
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.runDrainer(ctx, i)
	}
}

// Stop stops polling and waits for in-flight jobs to finish. Messages
// received but not completed reappear after their visibility timeout.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) runDrainer(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := w.queue.Receive(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("receive failed", "worker_id", workerID, "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		w.processMessage(ctx, workerID, msgs[0])
	}
}

func (w *Worker) processMessage(ctx context.Context, workerID int, msg queue.Message) {
	jobID := msg.Body.JobID
	logger := w.logger.With("worker_id", workerID, "job_id", jobID, "delivery", msg.ReceiveCount)

	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		logger.Error("job lookup failed", "error", err)
		return
	}
	if job == nil {
		// The job row is gone (cleanup raced the queue); nothing to do.
		logger.Warn("message references unknown job, deleting")
		w.deleteMessage(ctx, msg.ID, logger)
		return
	}

	switch job.Status {
	case models.JobStatusCancelled:
		logger.Info("job cancelled before processing, dropping message")
		w.deleteMessage(ctx, msg.ID, logger)
		return
	case models.JobStatusCompleted, models.JobStatusFailed:
		// Duplicate delivery after the work was already recorded.
		logger.Info("job already terminal, dropping duplicate delivery", "status", job.Status)
		w.deleteMessage(ctx, msg.ID, logger)
		return
	}

	claimed, err := w.jobs.MarkProcessing(ctx, jobID)
	if err != nil {
		logger.Error("failed to claim job", "error", err)
		return
	}
	if !claimed {
		// Another delivery is mid-flight. Leave the message; it stays
		// invisible for its timeout and the completion CAS settles the race.
		logger.Info("job not pending, skipping delivery")
		return
	}

	logger.Info("processing job", "file", msg.Body.OriginalFileName, "mime_type", msg.Body.MimeType)

	result, err := w.runPipeline(ctx, msg.Body)
	if err != nil {
		w.handleFailure(ctx, job, msg, err, logger)
		return
	}
	w.handleSuccess(ctx, job, msg, result, logger)
}

func (w *Worker) runPipeline(ctx context.Context, body queue.JobMessage) (*extractor.Result, error) {
	content, err := w.blobs.Get(ctx, body.FileKey)
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindBlob, err)
	}

	artifact, err := w.preprocessor.Preprocess(ctx, content, body.OriginalFileName, body.MimeType)
	if err != nil {
		return nil, err
	}

	return w.orchestrator.Run(ctx, artifact, extractor.Hint{
		TeacherName: body.TeacherName,
		ClassName:   body.ClassName,
	})
}

func (w *Worker) handleSuccess(ctx context.Context, job *models.Job, msg queue.Message, result *extractor.Result, logger *slog.Logger) {
	tt := result.Data
	tt.ID = ulid.Make().String()
	tt.JobID = job.ID
	tt.CreatedAt = time.Now().UTC()

	resultKey, err := w.blobs.StoreResult(ctx, job.ID, tt)
	if err != nil {
		w.handleFailure(ctx, job, msg, pipeline.Wrap(pipeline.KindBlob, err), logger)
		return
	}

	if err := w.timetables.Create(ctx, tt); err != nil {
		w.handleFailure(ctx, job, msg, pipeline.Wrap(pipeline.KindStore, err), logger)
		return
	}

	completed, err := w.jobs.MarkCompleted(ctx, job.ID, result.Method, result.Complexity, tt.ID, resultKey)
	if err != nil {
		w.handleFailure(ctx, job, msg, pipeline.Wrap(pipeline.KindStore, err), logger)
		return
	}
	if !completed {
		// A concurrent delivery won the completion race; its result
		// stands and this one's message just goes away.
		logger.Info("job completed by another delivery, dropping")
		w.deleteMessage(ctx, msg.ID, logger)
		return
	}

	w.deleteMessage(ctx, msg.ID, logger)

	if w.notifier != nil {
		go w.notifier.DeliverForJob(context.WithoutCancel(ctx), job.ID)
	}

	logger.Info("job completed",
		"method", result.Method,
		"complexity", result.Complexity,
		"block_count", len(tt.Blocks),
		"duration_ms", result.Elapsed.Milliseconds(),
	)
}

// handleFailure runs the retry protocol: log the attempt, then either
// requeue (leaving the message to reappear after its visibility timeout)
// or fail terminally and dead-letter the message.
func (w *Worker) handleFailure(ctx context.Context, job *models.Job, msg queue.Message, jobErr error, logger *slog.Logger) {
	kind := pipeline.KindOf(jobErr)
	attemptNum := job.RetryCount + 1

	if err := w.retryLogs.Create(ctx, &models.RetryLog{
		ID:           ulid.Make().String(),
		JobID:        job.ID,
		AttemptNum:   attemptNum,
		ErrorType:    string(kind),
		ErrorMessage: jobErr.Error(),
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		logger.Error("failed to record retry log", "error", err)
	}

	if attemptNum < job.MaxRetries {
		if _, err := w.jobs.RequeueForRetry(ctx, job.ID); err != nil {
			logger.Error("failed to requeue job", "error", err)
		}
		// The message is deliberately not deleted; it reappears after the
		// visibility timeout for the next attempt.
		logger.Warn("job attempt failed, will retry",
			"attempt", attemptNum,
			"max_retries", job.MaxRetries,
			"error_type", kind,
			"error", jobErr,
		)
		return
	}

	if _, err := w.jobs.MarkFailed(ctx, job.ID, jobErr.Error()); err != nil {
		logger.Error("failed to mark job failed", "error", err)
	}
	if err := w.queue.SendDLQ(ctx, msg.ID, string(kind), jobErr.Error()); err != nil {
		logger.Error("failed to dead-letter message", "error", err)
	}

	logger.Error("job failed permanently",
		"attempts", attemptNum,
		"error_type", kind,
		"error", jobErr,
	)
}

func (w *Worker) deleteMessage(ctx context.Context, id string, logger *slog.Logger) {
	if err := w.queue.Delete(ctx, id); err != nil {
		logger.Error("failed to delete message", "message_id", id, "error", err)
	}
}

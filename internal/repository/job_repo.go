package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/classtable/timetable-api/internal/models"
)

const jobColumns = `id, user_id, status, file_key, mime_type, original_file_name, file_size,
	teacher_name, class_name, retry_count, max_retries, processing_method, complexity,
	error_message, timetable_id, result_blob_key, started_at, completed_at, created_at, updated_at`

// SQLiteJobRepository implements JobRepository for SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, user_id, status, file_key, mime_type, original_file_name, file_size,
			teacher_name, class_name, retry_count, max_retries, processing_method, complexity,
			error_message, timetable_id, result_blob_key, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		job.FileKey,
		job.MimeType,
		job.OriginalFileName,
		job.FileSize,
		nullString(job.TeacherName),
		nullString(job.ClassName),
		job.RetryCount,
		job.MaxRetries,
		nullString(string(job.ProcessingMethod)),
		nullString(string(job.Complexity)),
		nullString(job.ErrorMessage),
		nullString(job.TimetableID),
		nullString(job.ResultBlobKey),
		nullTime(job.StartedAt),
		nullTime(job.CompletedAt),
		job.CreatedAt.Format(time.RFC3339),
		job.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteJobRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// List returns jobs newest first, optionally filtered by status. Pass an
// empty status to list all jobs.
func (r *SQLiteJobRepository) List(ctx context.Context, status models.JobStatus, limit, offset int) ([]*models.Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`
		rows, err = r.db.QueryContext(ctx, query, limit, offset)
	} else {
		query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		rows, err = r.db.QueryContext(ctx, query, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *SQLiteJobRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusProcessing, now, now, id, models.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job processing: %w", err)
	}
	return affectedOne(result)
}

func (r *SQLiteJobRepository) MarkCompleted(ctx context.Context, id string, method models.ProcessingMethod, complexity models.ComplexityLevel, timetableID, resultBlobKey string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, processing_method = ?, complexity = ?, timetable_id = ?,
			result_blob_key = ?, error_message = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		models.JobStatusCompleted, method, complexity, nullString(timetableID),
		nullString(resultBlobKey), now, now, id, models.JobStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job completed: %w", err)
	}
	return affectedOne(result)
}

// MarkFailed also counts the terminal attempt, so a failed job's
// retry_count reflects every attempt made.
func (r *SQLiteJobRepository) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, retry_count = retry_count + 1, error_message = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusFailed, errorMessage, now, now, id, models.JobStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	return affectedOne(result)
}

func (r *SQLiteJobRepository) MarkFailedFromPending(ctx context.Context, id, errorMessage string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusFailed, errorMessage, now, now, id, models.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	return affectedOne(result)
}

func (r *SQLiteJobRepository) MarkCancelled(ctx context.Context, id string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusCancelled, now, now, id, models.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job cancelled: %w", err)
	}
	return affectedOne(result)
}

func (r *SQLiteJobRepository) RequeueForRetry(ctx context.Context, id string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, retry_count = retry_count + 1, started_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
		models.JobStatusPending, now, id, models.JobStatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	return affectedOne(result)
}

// DeleteOlderThan deletes terminal jobs older than the specified time and
// returns the deleted job IDs.
func (r *SQLiteJobRepository) DeleteOlderThan(ctx context.Context, before time.Time) ([]string, error) {
	cutoff := before.Format(time.RFC3339)
	query := `SELECT id FROM jobs WHERE created_at < ? AND status IN ('completed', 'failed', 'cancelled')`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query old jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job ids: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	deleteQuery := `DELETE FROM jobs WHERE created_at < ? AND status IN ('completed', 'failed', 'cancelled')`
	if _, err := r.db.ExecContext(ctx, deleteQuery, cutoff); err != nil {
		return nil, fmt.Errorf("failed to delete old jobs: %w", err)
	}

	return ids, nil
}

func (r *SQLiteJobRepository) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row *sql.Row) (*models.Job, error) {
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func scanJobRow(row rowScanner) (*models.Job, error) {
	var job models.Job
	var createdAt, updatedAt string
	var teacherName, className, processingMethod, complexity sql.NullString
	var errorMessage, timetableID, resultBlobKey sql.NullString
	var startedAt, completedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.UserID, &job.Status, &job.FileKey, &job.MimeType,
		&job.OriginalFileName, &job.FileSize,
		&teacherName, &className, &job.RetryCount, &job.MaxRetries,
		&processingMethod, &complexity,
		&errorMessage, &timetableID, &resultBlobKey,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.TeacherName = teacherName.String
	job.ClassName = className.String
	job.ProcessingMethod = models.ProcessingMethod(processingMethod.String)
	job.Complexity = models.ComplexityLevel(complexity.String)
	job.ErrorMessage = errorMessage.String
	job.TimetableID = timetableID.String
	job.ResultBlobKey = resultBlobKey.String
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		job.CompletedAt = &t
	}

	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func affectedOne(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

// Helper functions
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

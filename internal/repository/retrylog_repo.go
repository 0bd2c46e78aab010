package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/classtable/timetable-api/internal/models"
)

// SQLiteRetryLogRepository implements RetryLogRepository for SQLite.
type SQLiteRetryLogRepository struct {
	db *sql.DB
}

// NewSQLiteRetryLogRepository creates a new SQLite retry log repository.
func NewSQLiteRetryLogRepository(db *sql.DB) *SQLiteRetryLogRepository {
	return &SQLiteRetryLogRepository{db: db}
}

func (r *SQLiteRetryLogRepository) Create(ctx context.Context, log *models.RetryLog) error {
	query := `
		INSERT INTO retry_logs (id, job_id, attempt_num, error_type, error_message, error_stack, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		log.ID, log.JobID, log.AttemptNum, log.ErrorType,
		nullString(log.ErrorMessage), nullString(log.ErrorStack),
		log.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create retry log: %w", err)
	}
	return nil
}

func (r *SQLiteRetryLogRepository) GetByJobID(ctx context.Context, jobID string) ([]*models.RetryLog, error) {
	query := `
		SELECT id, job_id, attempt_num, error_type, error_message, error_stack, created_at
		FROM retry_logs WHERE job_id = ? ORDER BY attempt_num ASC
	`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.RetryLog
	for rows.Next() {
		var log models.RetryLog
		var errorMessage, errorStack sql.NullString
		var createdAt string
		if err := rows.Scan(&log.ID, &log.JobID, &log.AttemptNum, &log.ErrorType, &errorMessage, &errorStack, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan retry log: %w", err)
		}
		log.ErrorMessage = errorMessage.String
		log.ErrorStack = errorStack.String
		log.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

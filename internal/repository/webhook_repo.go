package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/classtable/timetable-api/internal/models"
)

// SQLiteWebhookRepository implements WebhookRepository for SQLite.
type SQLiteWebhookRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookRepository creates a new SQLite webhook repository.
func NewSQLiteWebhookRepository(db *sql.DB) *SQLiteWebhookRepository {
	return &SQLiteWebhookRepository{db: db}
}

func (r *SQLiteWebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	query := `
		INSERT INTO webhooks (id, job_id, url, attempts, max_attempts, delivered,
			last_attempt_at, delivered_at, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	delivered := 0
	if webhook.Delivered {
		delivered = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		webhook.ID, webhook.JobID, webhook.URL,
		webhook.Attempts, webhook.MaxAttempts, delivered,
		nullTime(webhook.LastAttemptAt), nullTime(webhook.DeliveredAt),
		nullString(webhook.ErrorMessage),
		webhook.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookRepository) GetByJobID(ctx context.Context, jobID string) (*models.Webhook, error) {
	query := `
		SELECT id, job_id, url, attempts, max_attempts, delivered,
			last_attempt_at, delivered_at, error_message, created_at
		FROM webhooks WHERE job_id = ? ORDER BY created_at DESC LIMIT 1
	`
	var wh models.Webhook
	var delivered int
	var lastAttemptAt, deliveredAt, errorMessage sql.NullString
	var createdAt string

	err := r.db.QueryRowContext(ctx, query, jobID).Scan(
		&wh.ID, &wh.JobID, &wh.URL, &wh.Attempts, &wh.MaxAttempts, &delivered,
		&lastAttemptAt, &deliveredAt, &errorMessage, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}

	wh.Delivered = delivered == 1
	wh.ErrorMessage = errorMessage.String
	wh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastAttemptAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastAttemptAt.String)
		wh.LastAttemptAt = &t
	}
	if deliveredAt.Valid {
		t, _ := time.Parse(time.RFC3339, deliveredAt.String)
		wh.DeliveredAt = &t
	}
	return &wh, nil
}

// ListUndelivered returns undelivered webhooks with attempts remaining
// whose job has completed, oldest first. Delivery normally runs
// in-process right after completion; this feeds the sweep that picks up
// webhooks stranded by a restart.
func (r *SQLiteWebhookRepository) ListUndelivered(ctx context.Context, limit int) ([]*models.Webhook, error) {
	query := `
		SELECT w.id, w.job_id, w.url, w.attempts, w.max_attempts, w.delivered,
			w.last_attempt_at, w.delivered_at, w.error_message, w.created_at
		FROM webhooks w
		JOIN jobs j ON j.id = w.job_id
		WHERE w.delivered = 0 AND w.attempts < w.max_attempts AND j.status = ?
		ORDER BY w.created_at
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, string(models.JobStatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undelivered webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		var wh models.Webhook
		var delivered int
		var lastAttemptAt, deliveredAt, errorMessage sql.NullString
		var createdAt string

		if err := rows.Scan(
			&wh.ID, &wh.JobID, &wh.URL, &wh.Attempts, &wh.MaxAttempts, &delivered,
			&lastAttemptAt, &deliveredAt, &errorMessage, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		wh.Delivered = delivered == 1
		wh.ErrorMessage = errorMessage.String
		wh.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastAttemptAt.Valid {
			t, _ := time.Parse(time.RFC3339, lastAttemptAt.String)
			wh.LastAttemptAt = &t
		}
		webhooks = append(webhooks, &wh)
	}
	return webhooks, rows.Err()
}

// RecordAttempt bumps the attempt counter and stores the outcome of one
// delivery try.
func (r *SQLiteWebhookRepository) RecordAttempt(ctx context.Context, id string, delivered bool, errorMessage string) error {
	now := time.Now().Format(time.RFC3339)
	var err error
	if delivered {
		_, err = r.db.ExecContext(ctx,
			`UPDATE webhooks SET attempts = attempts + 1, delivered = 1, delivered_at = ?, last_attempt_at = ?, error_message = NULL WHERE id = ?`,
			now, now, id,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE webhooks SET attempts = attempts + 1, last_attempt_at = ?, error_message = ? WHERE id = ?`,
			now, nullString(errorMessage), id,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to record webhook attempt: %w", err)
	}
	return nil
}

// Package queue provides an at-least-once work queue backed by SQLite.
//
// Messages become invisible for a visibility timeout once received; a
// receiver that crashes without deleting its message simply lets the
// message reappear for another receiver. Consumers must therefore be
// idempotent. Messages that exhaust their retries are moved to a
// dead-letter table for inspection.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// JobMessage is the payload carried on the queue: the job descriptor a
// worker needs to fetch and process the artifact without extra lookups.
type JobMessage struct {
	JobID            string `json:"jobId"`
	FileKey          string `json:"fileUrl"`
	OriginalFileName string `json:"originalFileName"`
	MimeType         string `json:"mimeType"`
	TeacherName      string `json:"teacherName,omitempty"`
	ClassName        string `json:"className,omitempty"`
	UserID           string `json:"userId,omitempty"`
}

// Message is a received queue message. ReceiveCount counts this delivery,
// so the first delivery has ReceiveCount == 1.
type Message struct {
	ID           string
	Body         JobMessage
	ReceiveCount int
}

// Queue is the worker-facing queue contract.
type Queue interface {
	// Send enqueues a message, immediately visible.
	Send(ctx context.Context, body JobMessage) error
	// Receive returns up to max messages, making each invisible for the
	// visibility timeout. Blocks up to the long-poll wait when the queue
	// is empty; returns an empty slice on timeout.
	Receive(ctx context.Context, max int) ([]Message, error)
	// Delete removes a message for good. Call only after the work is
	// fully recorded.
	Delete(ctx context.Context, id string) error
	// ExtendVisibility pushes the message's reappearance further out, for
	// handlers that legitimately run long.
	ExtendVisibility(ctx context.Context, id string, d time.Duration) error
	// SendDLQ moves a message to the dead-letter table and removes it
	// from the live queue.
	SendDLQ(ctx context.Context, id, errorType, errorMessage string) error
	// Depth returns the number of live messages, visible or not.
	Depth(ctx context.Context) (int, error)
}

// SQLiteQueue implements Queue on the queue_messages / queue_dlq tables.
type SQLiteQueue struct {
	db                *sql.DB
	visibilityTimeout time.Duration
	longPollWait      time.Duration
	pollInterval      time.Duration
	logger            *slog.Logger
}

// Option configures a SQLiteQueue.
type Option func(*SQLiteQueue)

// WithPollInterval sets how often Receive re-checks an empty queue while
// long-polling. Mainly for tests.
func WithPollInterval(d time.Duration) Option {
	return func(q *SQLiteQueue) { q.pollInterval = d }
}

// WithLogger sets the queue's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *SQLiteQueue) { q.logger = logger }
}

// NewSQLiteQueue creates a queue over an already-migrated database.
func NewSQLiteQueue(db *sql.DB, visibilityTimeout, longPollWait time.Duration, opts ...Option) *SQLiteQueue {
	q := &SQLiteQueue{
		db:                db,
		visibilityTimeout: visibilityTimeout,
		longPollWait:      longPollWait,
		pollInterval:      250 * time.Millisecond,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *SQLiteQueue) Send(ctx context.Context, body JobMessage) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_messages (id, body, receive_count, visible_at, enqueued_at) VALUES (?, ?, 0, ?, ?)`,
		ulid.Make().String(), string(payload), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	deadline := time.Now().Add(q.longPollWait)
	for {
		msgs, err := q.receiveOnce(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// receiveOnce atomically claims up to max visible messages. Claiming one
// message at a time with UPDATE ... RETURNING keeps the claim atomic
// under concurrent receivers.
func (q *SQLiteQueue) receiveOnce(ctx context.Context, max int) ([]Message, error) {
	var out []Message
	for len(out) < max {
		now := time.Now().UTC()
		visibleAgain := now.Add(q.visibilityTimeout).Format(time.RFC3339Nano)

		row := q.db.QueryRowContext(ctx, `
			UPDATE queue_messages
			SET receive_count = receive_count + 1, visible_at = ?
			WHERE id = (
				SELECT id FROM queue_messages
				WHERE visible_at <= ?
				ORDER BY enqueued_at ASC
				LIMIT 1
			)
			RETURNING id, body, receive_count`,
			visibleAgain, now.Format(time.RFC3339Nano),
		)

		var (
			id           string
			body         string
			receiveCount int
		)
		err := row.Scan(&id, &body, &receiveCount)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to receive message: %w", err)
		}

		var jm JobMessage
		if err := json.Unmarshal([]byte(body), &jm); err != nil {
			// A malformed body can never be processed; drop it instead of
			// letting it reappear forever.
			q.logger.Error("dropping malformed queue message", "message_id", id, "error", err)
			if _, derr := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, id); derr != nil {
				return nil, fmt.Errorf("failed to drop malformed message %s: %w", id, derr)
			}
			continue
		}
		out = append(out, Message{ID: id, Body: jm, ReceiveCount: receiveCount})
	}
	return out, nil
}

func (q *SQLiteQueue) Delete(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) ExtendVisibility(ctx context.Context, id string, d time.Duration) error {
	visibleAgain := time.Now().UTC().Add(d).Format(time.RFC3339Nano)
	_, err := q.db.ExecContext(ctx, `UPDATE queue_messages SET visible_at = ? WHERE id = ?`, visibleAgain, id)
	if err != nil {
		return fmt.Errorf("failed to extend visibility: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) SendDLQ(ctx context.Context, id, errorType, errorMessage string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO queue_dlq (id, body, receive_count, error_kind, error_message, dead_lettered_at)
		SELECT id, body, receive_count, ?, ?, ? FROM queue_messages WHERE id = ?`,
		errorType, errorMessage, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Already deleted or dead-lettered by another receiver.
		return tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove dead-lettered message: %w", err)
	}
	return tx.Commit()
}

func (q *SQLiteQueue) Depth(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// PurgeDLQ deletes dead-lettered messages older than the given time and
// returns how many were removed. Run from the cleanup scheduler; the DLQ
// is for inspection, not forever.
func (q *SQLiteQueue) PurgeDLQ(ctx context.Context, before time.Time) (int, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM queue_dlq WHERE dead_lettered_at < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead-letter queue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged messages: %w", err)
	}
	return int(n), nil
}

// DLQDepth returns the number of dead-lettered messages.
func (q *SQLiteQueue) DLQDepth(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead-lettered messages: %w", err)
	}
	return count, nil
}

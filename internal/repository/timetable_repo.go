package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/classtable/timetable-api/internal/models"
)

// SQLiteTimetableRepository implements TimetableRepository for SQLite.
type SQLiteTimetableRepository struct {
	db *sql.DB
}

// NewSQLiteTimetableRepository creates a new SQLite timetable repository.
func NewSQLiteTimetableRepository(db *sql.DB) *SQLiteTimetableRepository {
	return &SQLiteTimetableRepository{db: db}
}

// Create persists the timetable and all its blocks in one transaction so a
// partially written result can never be read back.
func (r *SQLiteTimetableRepository) Create(ctx context.Context, tt *models.ExtractedTimetable) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var warningsJSON sql.NullString
	if len(tt.Warnings) > 0 {
		b, _ := json.Marshal(tt.Warnings)
		warningsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO timetables (id, job_id, teacher_name, class_name, term, week, warnings_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tt.ID, tt.JobID,
		nullString(tt.TeacherName), nullString(tt.ClassName),
		nullString(tt.Term), nullString(tt.Week),
		warningsJSON,
		tt.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create timetable: %w", err)
	}

	for i, b := range tt.Blocks {
		isFixed := 0
		if b.IsFixed {
			isFixed = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO time_blocks (id, timetable_id, position, day, start_minutes, end_minutes,
				event_name, notes, color, confidence, is_fixed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ulid.Make().String(), tt.ID, i, b.Day, b.StartTime, b.EndTime,
			b.EventName, nullString(b.Notes), nullString(b.Color), b.Confidence, isFixed,
		)
		if err != nil {
			return fmt.Errorf("failed to create time block: %w", err)
		}
	}

	for i, rb := range tt.RecurringBlocks {
		appliesDaily := 0
		if rb.AppliesDaily {
			appliesDaily = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recurring_blocks (id, timetable_id, position, start_minutes, end_minutes,
				event_name, applies_daily, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ulid.Make().String(), tt.ID, i, rb.StartTime, rb.EndTime,
			rb.EventName, appliesDaily, nullString(rb.Notes),
		)
		if err != nil {
			return fmt.Errorf("failed to create recurring block: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteTimetableRepository) GetByID(ctx context.Context, id string) (*models.ExtractedTimetable, error) {
	return r.get(ctx, `SELECT id, job_id, teacher_name, class_name, term, week, warnings_json, created_at FROM timetables WHERE id = ?`, id)
}

func (r *SQLiteTimetableRepository) GetByJobID(ctx context.Context, jobID string) (*models.ExtractedTimetable, error) {
	return r.get(ctx, `SELECT id, job_id, teacher_name, class_name, term, week, warnings_json, created_at FROM timetables WHERE job_id = ?`, jobID)
}

func (r *SQLiteTimetableRepository) get(ctx context.Context, query, arg string) (*models.ExtractedTimetable, error) {
	var tt models.ExtractedTimetable
	var teacherName, className, term, week, warningsJSON sql.NullString
	var createdAt string

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&tt.ID, &tt.JobID, &teacherName, &className, &term, &week, &warningsJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan timetable: %w", err)
	}

	tt.TeacherName = teacherName.String
	tt.ClassName = className.String
	tt.Term = term.String
	tt.Week = week.String
	if warningsJSON.Valid {
		json.Unmarshal([]byte(warningsJSON.String), &tt.Warnings)
	}
	tt.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if tt.Blocks, err = r.loadBlocks(ctx, tt.ID); err != nil {
		return nil, err
	}
	if tt.RecurringBlocks, err = r.loadRecurringBlocks(ctx, tt.ID); err != nil {
		return nil, err
	}

	return &tt, nil
}

func (r *SQLiteTimetableRepository) loadBlocks(ctx context.Context, timetableID string) ([]models.TimeBlock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, start_minutes, end_minutes, event_name, notes, color, confidence, is_fixed
		FROM time_blocks WHERE timetable_id = ? ORDER BY position ASC`, timetableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query time blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.TimeBlock
	for rows.Next() {
		var b models.TimeBlock
		var notes, color sql.NullString
		var isFixed int
		if err := rows.Scan(&b.Day, &b.StartTime, &b.EndTime, &b.EventName, &notes, &color, &b.Confidence, &isFixed); err != nil {
			return nil, fmt.Errorf("failed to scan time block: %w", err)
		}
		b.Notes = notes.String
		b.Color = color.String
		b.IsFixed = isFixed == 1
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (r *SQLiteTimetableRepository) loadRecurringBlocks(ctx context.Context, timetableID string) ([]models.RecurringBlock, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT start_minutes, end_minutes, event_name, applies_daily, notes
		FROM recurring_blocks WHERE timetable_id = ? ORDER BY position ASC`, timetableID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recurring blocks: %w", err)
	}
	defer rows.Close()

	var blocks []models.RecurringBlock
	for rows.Next() {
		var b models.RecurringBlock
		var appliesDaily int
		var notes sql.NullString
		if err := rows.Scan(&b.StartTime, &b.EndTime, &b.EventName, &appliesDaily, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan recurring block: %w", err)
		}
		b.AppliesDaily = appliesDaily == 1
		b.Notes = notes.String
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// Package models defines the domain models for the timetable extraction
// pipeline: jobs, extracted timetables, retry logs, and webhooks.
package models

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
//
// Legal transitions: pending -> processing -> {completed, failed} and
// pending -> cancelled. Everything else is rejected by the repository's
// conditional updates.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ProcessingMethod identifies which extraction path produced a result.
type ProcessingMethod string

const (
	MethodStructured          ProcessingMethod = "structured"
	MethodVision              ProcessingMethod = "vision"
	MethodHybrid              ProcessingMethod = "hybrid"
	MethodVisionErrorFallback ProcessingMethod = "vision_error_fallback"
)

// ComplexityLevel classifies how hard an artifact is to extract from.
type ComplexityLevel string

const (
	ComplexitySimple  ComplexityLevel = "simple"
	ComplexityMedium  ComplexityLevel = "medium"
	ComplexityComplex ComplexityLevel = "complex"
)

// Job represents a single timetable extraction job.
type Job struct {
	ID     string    `json:"id"`
	Status JobStatus `json:"status"`

	// Origin of the uploaded artifact.
	FileKey          string `json:"file_key"` // blob store key of the uploaded artifact
	MimeType         string `json:"mime_type"`
	OriginalFileName string `json:"original_file_name"`
	FileSize         int64  `json:"file_size"`
	UserID           string `json:"user_id,omitempty"` // optional submitter identity

	// Optional caller-provided metadata, echoed into the result.
	TeacherName string `json:"teacher_name,omitempty"`
	ClassName   string `json:"class_name,omitempty"`

	// Execution record.
	RetryCount       int              `json:"retry_count"`
	MaxRetries       int              `json:"max_retries"`
	ProcessingMethod ProcessingMethod `json:"processing_method,omitempty"` // set on success
	Complexity       ComplexityLevel  `json:"complexity,omitempty"`        // set on success
	ErrorMessage     string           `json:"error_message,omitempty"`     // set on failure

	// Result links, set atomically with the completed transition.
	TimetableID   string `json:"timetable_id,omitempty"`
	ResultBlobKey string `json:"result_blob_key,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Weekday is a school-week day name, Monday through Friday.
type Weekday string

const (
	Monday    Weekday = "Monday"
	Tuesday   Weekday = "Tuesday"
	Wednesday Weekday = "Wednesday"
	Thursday  Weekday = "Thursday"
	Friday    Weekday = "Friday"
)

// SchoolWeek lists the weekdays in order.
var SchoolWeek = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday}

// ValidWeekday reports whether d is one of Monday..Friday.
func ValidWeekday(d Weekday) bool {
	for _, w := range SchoolWeek {
		if d == w {
			return true
		}
	}
	return false
}

// TimeBlock is a scheduled event on one specific weekday. Start and end
// are minutes from midnight in [0, 1440) with Start < End.
type TimeBlock struct {
	Day        Weekday `json:"day"`
	StartTime  int     `json:"start_time"`
	EndTime    int     `json:"end_time"`
	EventName  string  `json:"event_name"`
	Notes      string  `json:"notes,omitempty"`
	Color      string  `json:"color,omitempty"`
	Confidence float64 `json:"confidence,omitempty"` // [0,1], 0 means unreported
	IsFixed    bool    `json:"is_fixed"`
}

// RecurringBlock is a fixture that repeats at the same time across the
// week. AppliesDaily true means Monday through Friday; otherwise the
// applicable days are enumerated in Notes.
type RecurringBlock struct {
	StartTime    int    `json:"start_time"`
	EndTime      int    `json:"end_time"`
	EventName    string `json:"event_name"`
	AppliesDaily bool   `json:"applies_daily"`
	Notes        string `json:"notes,omitempty"`
}

// Covers reports whether the half-open minute interval [start, end)
// intersects the recurring block's window.
func (r RecurringBlock) Covers(start, end int) bool {
	return start < r.EndTime && end > r.StartTime
}

// ExtractedTimetable is the structured output of a successful extraction.
type ExtractedTimetable struct {
	ID          string    `json:"id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	TeacherName string    `json:"teacher_name,omitempty"`
	ClassName   string    `json:"class_name,omitempty"`
	Term        string    `json:"term,omitempty"`
	Week        string    `json:"week,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`

	Blocks          []TimeBlock      `json:"blocks"`
	RecurringBlocks []RecurringBlock `json:"recurring_blocks,omitempty"`
	Warnings        []string         `json:"warnings,omitempty"`
}

// BlocksForDay returns the blocks scoped to a single weekday, in input order.
func (t *ExtractedTimetable) BlocksForDay(day Weekday) []TimeBlock {
	var out []TimeBlock
	for _, b := range t.Blocks {
		if b.Day == day {
			out = append(out, b)
		}
	}
	return out
}

// RetryLog records one failed processing attempt for a job. Rows are
// append-only.
type RetryLog struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	AttemptNum   int       `json:"attempt_num"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	ErrorStack   string    `json:"error_stack,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Webhook is a completion-notification subscription for a job.
type Webhook struct {
	ID            string     `json:"id"`
	JobID         string     `json:"job_id"`
	URL           string     `json:"url"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	Delivered     bool       `json:"delivered"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MinutesToClock formats a minute-of-day value as a 24-hour HH:MM string.
func MinutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

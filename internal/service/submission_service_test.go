package service

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/database/migrations"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/queue"
	"github.com/classtable/timetable-api/internal/repository"
)

// Validation runs before any dependency is touched, so rejection cases
// need no storage, store, or queue behind the service.
func newValidationOnlySubmission() *SubmissionService {
	return NewSubmissionService(nil, nil, nil, nil, config.PipelineConfig{
		MaxUploadBytes: 1024,
		MaxRetries:     3,
	}, discardLogger())
}

func TestSubmitRejectsInvalidUploads(t *testing.T) {
	svc := newValidationOnlySubmission()

	tests := []struct {
		name    string
		in      SubmitInput
		wantMsg string
	}{
		{
			name:    "missing file name",
			in:      SubmitInput{MimeType: "image/png", Content: []byte("x")},
			wantMsg: "file name is required",
		},
		{
			name:    "empty content",
			in:      SubmitInput{FileName: "t.png", MimeType: "image/png"},
			wantMsg: "empty",
		},
		{
			name:    "oversize content",
			in:      SubmitInput{FileName: "t.png", MimeType: "image/png", Content: bytes.Repeat([]byte("a"), 2048)},
			wantMsg: "maximum size",
		},
		{
			name:    "unsupported type",
			in:      SubmitInput{FileName: "t.zip", MimeType: "application/zip", Content: []byte("PK")},
			wantMsg: "unsupported file type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tt.in)
			if err == nil {
				t.Fatal("Submit() succeeded, want rejection")
			}
			if !IsClientError(err) {
				t.Fatalf("Submit() error = %v, want a client error", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

// memoryBlobStore accepts every put without touching real storage.
type memoryBlobStore struct {
	keys []string
}

func (m *memoryBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.keys = append(m.keys, key)
	return nil
}

// captureQueue runs a callback on Send; the rest of the queue contract
// is inert.
type captureQueue struct {
	onSend func(queue.JobMessage) error
}

func (q *captureQueue) Send(ctx context.Context, body queue.JobMessage) error {
	return q.onSend(body)
}

func (q *captureQueue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	return nil, nil
}

func (q *captureQueue) Delete(ctx context.Context, id string) error { return nil }

func (q *captureQueue) ExtendVisibility(ctx context.Context, id string, d time.Duration) error {
	return nil
}

func (q *captureQueue) SendDLQ(ctx context.Context, id, errorType, errorMessage string) error {
	return nil
}

func (q *captureQueue) Depth(ctx context.Context) (int, error) { return 0, nil }

func newSubmissionFixture(t *testing.T, q queue.Queue) (*SubmissionService, *repository.Repositories) {
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

	repos := repository.NewRepositories(db)
	webhookSvc := NewWebhookService(repos.Webhooks, discardLogger())
	svc := NewSubmissionService(repos.Jobs, q, &memoryBlobStore{}, webhookSvc, config.PipelineConfig{
		MaxUploadBytes: 1024,
		MaxRetries:     3,
	}, discardLogger())
	return svc, repos
}

// A worker can claim the message the moment Send returns, so the webhook
// row has to be committed before the message exists.
func TestSubmitRegistersWebhookBeforeEnqueue(t *testing.T) {
	var webhookAtSend *models.Webhook
	var repos *repository.Repositories
	q := &captureQueue{onSend: func(msg queue.JobMessage) error {
		wh, err := repos.Webhooks.GetByJobID(context.Background(), msg.JobID)
		if err != nil {
			t.Fatalf("GetByJobID() at enqueue time error = %v", err)
		}
		webhookAtSend = wh
		return nil
	}}
	svc, r := newSubmissionFixture(t, q)
	repos = r

	result, err := svc.Submit(context.Background(), SubmitInput{
		FileName:   "timetable.png",
		MimeType:   "image/png",
		Content:    []byte("png-bytes"),
		WebhookURL: "https://example.com/hook",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !result.WebhookRegistered {
		t.Error("WebhookRegistered = false, want true")
	}
	if webhookAtSend == nil {
		t.Fatal("webhook row did not exist when the message was enqueued")
	}
	if webhookAtSend.URL != "https://example.com/hook" {
		t.Errorf("webhook URL at enqueue time = %q", webhookAtSend.URL)
	}
}

func TestSubmitToleratesBadWebhookURL(t *testing.T) {
	sent := false
	q := &captureQueue{onSend: func(queue.JobMessage) error {
		sent = true
		return nil
	}}
	svc, repos := newSubmissionFixture(t, q)

	result, err := svc.Submit(context.Background(), SubmitInput{
		FileName:   "timetable.png",
		MimeType:   "image/png",
		Content:    []byte("png-bytes"),
		WebhookURL: "ftp://example.com/hook",
	})
	if err != nil {
		t.Fatalf("Submit() error = %v, want accepted despite bad webhook URL", err)
	}
	if result.WebhookRegistered {
		t.Error("WebhookRegistered = true, want false")
	}
	if !sent {
		t.Error("job was never enqueued")
	}

	job, err := repos.Jobs.GetByID(context.Background(), result.Job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if job == nil || job.Status != models.JobStatusPending {
		t.Errorf("job = %+v, want pending", job)
	}
}

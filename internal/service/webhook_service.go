package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/repository"
)

const (
	defaultWebhookMaxAttempts = 3
	// redeliverBatchSize caps how many stranded webhooks one sweep
	// picks up.
	redeliverBatchSize = 100
)

// WebhookService registers completion webhooks and delivers them once a
// job completes. Delivery is at-least-once; subscribers deduplicate on
// jobId.
type WebhookService struct {
	webhooks repository.WebhookRepository
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookService creates a new webhook service.
func NewWebhookService(webhooks repository.WebhookRepository, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		webhooks: webhooks,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "webhook"),
	}
}

// Register attaches a completion webhook to a job. A job carries at most
// one webhook; registering again replaces nothing and returns an error.
func (s *WebhookService) Register(ctx context.Context, jobID, targetURL string) (*models.Webhook, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL %q", targetURL)
	}

	existing, err := s.webhooks.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("job %s already has a webhook", jobID)
	}

	webhook := &models.Webhook{
		ID:          ulid.Make().String(),
		JobID:       jobID,
		URL:         targetURL,
		MaxAttempts: defaultWebhookMaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.webhooks.Create(ctx, webhook); err != nil {
		return nil, err
	}

	s.logger.Info("webhook registered", "job_id", jobID, "webhook_id", webhook.ID)
	return webhook, nil
}

// completionPayload is the body POSTed to the subscriber.
type completionPayload struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// DeliverForJob delivers the completion notification for a job, if one is
// registered. Attempts continue until a 2xx lands or max attempts are
// exhausted; every attempt's outcome is recorded.
func (s *WebhookService) DeliverForJob(ctx context.Context, jobID string) {
	webhook, err := s.webhooks.GetByJobID(ctx, jobID)
	if err != nil {
		s.logger.Error("webhook lookup failed", "job_id", jobID, "error", err)
		return
	}
	if webhook == nil || webhook.Delivered {
		return
	}

	payload, err := json.Marshal(completionPayload{
		JobID:     jobID,
		Status:    string(models.JobStatusCompleted),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Error("webhook payload marshal failed", "job_id", jobID, "error", err)
		return
	}

	for attempt := webhook.Attempts; attempt < webhook.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt*attempt) * time.Second):
			}
		}

		deliverErr := s.post(ctx, webhook.URL, payload)
		if deliverErr == nil {
			if err := s.webhooks.RecordAttempt(ctx, webhook.ID, true, ""); err != nil {
				s.logger.Error("failed to record webhook delivery", "webhook_id", webhook.ID, "error", err)
			}
			s.logger.Info("webhook delivered", "job_id", jobID, "url", webhook.URL, "attempt", attempt+1)
			return
		}

		if err := s.webhooks.RecordAttempt(ctx, webhook.ID, false, deliverErr.Error()); err != nil {
			s.logger.Error("failed to record webhook attempt", "webhook_id", webhook.ID, "error", err)
		}
		s.logger.Warn("webhook delivery failed",
			"job_id", jobID,
			"url", webhook.URL,
			"attempt", attempt+1,
			"error", deliverErr,
		)
	}

	s.logger.Error("webhook delivery exhausted", "job_id", jobID, "url", webhook.URL)
}

// RedeliverPending retries delivery for webhooks whose job completed but
// whose notification never landed, typically because the process went
// down mid-delivery. DeliverForJob runs its attempts in-process only, so
// without this sweep a restart strands those webhooks with attempts to
// spare. Returns the number of webhooks retried.
func (s *WebhookService) RedeliverPending(ctx context.Context) (int, error) {
	pending, err := s.webhooks.ListUndelivered(ctx, redeliverBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list undelivered webhooks: %w", err)
	}
	for _, webhook := range pending {
		s.DeliverForJob(ctx, webhook.JobID)
	}
	return len(pending), nil
}

func (s *WebhookService) post(ctx context.Context, targetURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Timetable-Webhook/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &WebhookError{StatusCode: resp.StatusCode}
	}
	return nil
}

// WebhookError represents a non-2xx webhook delivery response.
type WebhookError struct {
	StatusCode int
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook delivery failed with status %d", e.StatusCode)
}

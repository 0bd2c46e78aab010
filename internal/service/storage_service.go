// Package service contains the business logic layer.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/models"
)

// StorageService handles object storage operations (Tigris/S3-compatible).
// Uploaded artifacts live under uploads/, extraction results under results/.
type StorageService struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured")
		return &StorageService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.StorageRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint for S3-compatible storage (Tigris, MinIO, etc.)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
	})

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &StorageService{
		client:  client,
		bucket:  cfg.StorageBucket,
		enabled: true,
		logger:  logger,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// UploadKey builds the blob key for an uploaded artifact:
// uploads/{owner-or-anonymous}/{epochMillis}-{sanitizedName}.
func UploadKey(userID, fileName string, now time.Time) string {
	owner := userID
	if owner == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("uploads/%s/%d-%s", owner, now.UnixMilli(), sanitizeFileName(fileName))
}

// ResultKey builds the blob key for a job's extraction result.
func ResultKey(jobID string) string {
	return fmt.Sprintf("results/%s/extraction-result.json", jobID)
}

// sanitizeFileName strips path components and replaces characters that
// are awkward in object keys.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}

// Put stores a blob under the given key.
func (s *StorageService) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if !s.enabled {
		return fmt.Errorf("storage is not enabled")
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}

	s.logger.Debug("stored object", "key", key, "size_bytes", len(data))
	return nil
}

// Get retrieves a blob by key.
func (s *StorageService) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.enabled {
		return nil, fmt.Errorf("storage is not enabled")
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// Delete removes a blob by key.
func (s *StorageService) Delete(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// StoreResult stores a job's extraction result as JSON and returns the
// result key.
func (s *StorageService) StoreResult(ctx context.Context, jobID string, tt *models.ExtractedTimetable) (string, error) {
	data, err := json.Marshal(tt)
	if err != nil {
		return "", fmt.Errorf("failed to marshal extraction result: %w", err)
	}

	key := ResultKey(jobID)
	if err := s.Put(ctx, key, data, "application/json"); err != nil {
		return "", err
	}

	s.logger.Info("stored extraction result",
		"job_id", jobID,
		"key", key,
		"size_bytes", len(data),
	)
	return key, nil
}

// GetResult retrieves a job's extraction result from storage.
func (s *StorageService) GetResult(ctx context.Context, jobID string) (*models.ExtractedTimetable, error) {
	data, err := s.Get(ctx, ResultKey(jobID))
	if err != nil {
		return nil, err
	}

	var tt models.ExtractedTimetable
	if err := json.Unmarshal(data, &tt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extraction result: %w", err)
	}
	return &tt, nil
}

// ResultDownloadURL returns a presigned URL for downloading a job's
// extraction result directly from storage.
func (s *StorageService) ResultDownloadURL(ctx context.Context, jobID string, expiry time.Duration) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("storage is not enabled")
	}

	presignClient := s3.NewPresignClient(s.client)
	presigned, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ResultKey(jobID)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presigned.URL, nil
}

// DeleteJobArtifacts removes a job's result blob and, if known, its
// uploaded artifact. Used by cleanup after the job rows are gone.
func (s *StorageService) DeleteJobArtifacts(ctx context.Context, jobID, uploadKey string) error {
	if !s.enabled {
		return nil
	}

	if err := s.Delete(ctx, ResultKey(jobID)); err != nil {
		return err
	}
	if uploadKey != "" {
		if err := s.Delete(ctx, uploadKey); err != nil {
			return err
		}
	}
	return nil
}

// DeleteOldResults deletes result objects older than the specified age.
// Returns the number of deleted objects.
func (s *StorageService) DeleteOldResults(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.deleteOldObjects(ctx, "results/", maxAge)
}

// DeleteOldUploads deletes uploaded artifacts older than the specified
// age. Returns the number of deleted objects.
func (s *StorageService) DeleteOldUploads(ctx context.Context, maxAge time.Duration) (int, error) {
	return s.deleteOldObjects(ctx, "uploads/", maxAge)
}

func (s *StorageService) deleteOldObjects(ctx context.Context, prefix string, maxAge time.Duration) (int, error) {
	if !s.enabled {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(s.bucket),
					Key:    obj.Key,
				})
				if err != nil {
					s.logger.Warn("failed to delete old object",
						"key", *obj.Key,
						"error", err,
					)
					continue
				}
				deleted++
			}
		}
	}

	s.logger.Info("storage cleanup completed",
		"prefix", prefix,
		"deleted_count", deleted,
		"max_age", maxAge.String(),
	)
	return deleted, nil
}

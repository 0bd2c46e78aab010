// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// CORS
	CORSOrigins []string

	// Object storage (S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3 for S3-compatible providers
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageBucket    string
	StorageRegion    string

	// Document AI service (OCR + table extraction)
	DocAIServiceURL string
	DocAITimeout    time.Duration

	// Vision backend (Anthropic)
	AnthropicAPIKey string
	VisionModel     string

	// Pipeline feature flags and tunables
	Pipeline PipelineConfig

	// Cleanup
	CleanupEnabled  bool
	CleanupMaxAge   time.Duration // max age of terminal jobs and result blobs
	CleanupInterval time.Duration
}

// PipelineConfig carries the extraction pipeline options. It is assembled
// once at startup; business logic never reads the environment directly.
type PipelineConfig struct {
	StructuredEnabled     bool
	HybridEnabled         bool
	VisionFallbackEnabled bool
	ValidateOutput        bool

	WorkerConcurrency    int
	MaxRetries           int
	VisibilityTimeout    time.Duration
	LongPollWait         time.Duration
	BackendTimeout       time.Duration
	ShutdownGracePeriod  time.Duration
	MaxUploadBytes       int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:timetable.db?_journal=WAL&_timeout=5000"),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),

		DocAIServiceURL: getEnv("DOCAI_SERVICE_URL", ""),
		DocAITimeout:    getEnvDuration("DOCAI_TIMEOUT", 30*time.Second),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		VisionModel:     getEnv("VISION_MODEL", "claude-sonnet-4-20250514"),

		Pipeline: PipelineConfig{
			StructuredEnabled:     getEnvBool("USE_STRUCTURED", true),
			HybridEnabled:         getEnvBool("USE_HYBRID", true),
			VisionFallbackEnabled: getEnvBool("USE_VISION_FALLBACK", true),
			ValidateOutput:        getEnvBool("VALIDATE_OUTPUT", true),
			WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 5),
			MaxRetries:            getEnvInt("MAX_RETRIES", 3),
			VisibilityTimeout:     getEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 300*time.Second),
			LongPollWait:          getEnvDuration("QUEUE_LONG_POLL", 20*time.Second),
			BackendTimeout:        getEnvDuration("BACKEND_TIMEOUT", 60*time.Second),
			ShutdownGracePeriod:   getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute),
			MaxUploadBytes:        getEnvInt64("MAX_UPLOAD_BYTES", 10*1024*1024),
		},

		CleanupEnabled:  getEnvBool("CLEANUP_ENABLED", true),
		CleanupMaxAge:   getEnvDuration("CLEANUP_MAX_AGE", 30*24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),
	}

	// Enable storage if bucket is configured
	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	// The visibility timeout must exceed the long-poll wait or a message
	// could become visible again while its receiver is still polling.
	if c.Pipeline.VisibilityTimeout <= c.Pipeline.LongPollWait {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must exceed QUEUE_LONG_POLL (%s)",
			c.Pipeline.VisibilityTimeout, c.Pipeline.LongPollWait)
	}
	return nil
}

// DocAIEnabled returns true if the document AI service is configured.
func (c *Config) DocAIEnabled() bool {
	return c.DocAIServiceURL != ""
}

// VisionEnabled returns true if the vision backend is configured.
func (c *Config) VisionEnabled() bool {
	return c.AnthropicAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

// Package docai provides an HTTP client for the document AI sidecar that
// handles OCR and table extraction for uploaded timetable artifacts
// (images, PDFs, DOCX).
package docai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// Client is an HTTP client for the document AI service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	enabled    bool
	logger     *slog.Logger
}

// NewClient creates a new document AI client. An empty baseURL disables
// the client; callers should check IsEnabled before routing work to it.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		timeout:    timeout,
		enabled:    baseURL != "",
		logger:     logger.With("component", "docai"),
	}
}

// IsEnabled returns true if the document AI service is configured.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// ExtractResult is the response from document extraction.
type ExtractResult struct {
	// Content is the extracted text content from the document.
	Content string `json:"content"`

	// Tables extracted from the document, row-major.
	Tables []ExtractedTable `json:"tables,omitempty"`

	// Metadata contains document metadata extracted during parsing.
	Metadata *ExtractMetadata `json:"metadata,omitempty"`
}

// ExtractedTable represents a table extracted from a document.
type ExtractedTable struct {
	Page int        `json:"page,omitempty"`
	Data [][]string `json:"data"`
}

// ExtractMetadata contains document metadata.
type ExtractMetadata struct {
	PageCount *int   `json:"page_count,omitempty"`
	Title     string `json:"title,omitempty"`
}

// ExtractOptions contains options for extraction requests.
type ExtractOptions struct {
	// ExtractTables enables table extraction.
	ExtractTables bool
	// OCRLanguage is the language hint for OCR (e.g., "eng").
	OCRLanguage string
	// ForceOCR forces OCR even if a text layer exists.
	ForceOCR bool
}

// Error represents a document AI service error.
type Error struct {
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("docai: %s (status %d)", e.Message, e.StatusCode)
}

// extractConfig is the JSON configuration sent alongside the file.
type extractConfig struct {
	OCR      *ocrConfig `json:"ocr,omitempty"`
	ForceOCR bool       `json:"force_ocr,omitempty"`
	Tables   bool       `json:"extract_tables,omitempty"`
}

type ocrConfig struct {
	Backend  string `json:"backend,omitempty"`
	Language string `json:"language,omitempty"`
}

// Extract extracts text and tables from a document.
func (c *Client) Extract(ctx context.Context, content []byte, filename, mimeType string, opts *ExtractOptions) (*ExtractResult, error) {
	if !c.enabled {
		return nil, &Error{Message: "document AI service is not configured", StatusCode: http.StatusServiceUnavailable}
	}

	start := time.Now()
	c.logger.Debug("extracting document",
		slog.String("filename", filename),
		slog.String("mime_type", mimeType),
		slog.Int("size_bytes", len(content)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write file content: %w", err)
	}

	if opts != nil {
		cfg := extractConfig{ForceOCR: opts.ForceOCR, Tables: opts.ExtractTables}
		if opts.OCRLanguage != "" {
			cfg.OCR = &ocrConfig{Backend: "tesseract", Language: opts.OCRLanguage}
		}
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal extract config: %w", err)
		}
		if err := writer.WriteField("config", string(cfgJSON)); err != nil {
			return nil, fmt.Errorf("write config field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Message:    fmt.Sprintf("extraction timed out for %s", filename),
				StatusCode: http.StatusRequestTimeout,
			}
		}
		return nil, &Error{
			Message:    fmt.Sprintf("service unavailable at %s: %v", c.baseURL, err),
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp.StatusCode, body, filename)
	}

	var result ExtractResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Info("extraction completed",
		slog.String("filename", filename),
		slog.Int("content_length", len(result.Content)),
		slog.Int("table_count", len(result.Tables)),
		slog.Duration("duration", time.Since(start)),
	)

	return &result, nil
}

func (c *Client) handleErrorResponse(statusCode int, body []byte, filename string) *Error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}

	message := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error
		if message == "" {
			message = errResp.Message
		}
		if errResp.Detail != "" {
			message = fmt.Sprintf("%s: %s", message, errResp.Detail)
		}
	} else {
		message = string(body)
	}
	if message == "" {
		message = fmt.Sprintf("extraction failed for %s", filename)
	}

	c.logger.Warn("docai error",
		slog.String("filename", filename),
		slog.Int("status_code", statusCode),
		slog.String("message", message),
	)

	return &Error{Message: message, StatusCode: statusCode}
}

// HealthResponse is the health check response from the service.
type HealthResponse struct {
	Status  string `json:"status"` // "healthy" or "unhealthy"
	Version string `json:"version,omitempty"`
}

// HealthCheck checks the health status of the document AI service.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &HealthResponse{Status: "unhealthy"}, nil
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return &HealthResponse{Status: "unhealthy"}, nil
	}
	return &health, nil
}

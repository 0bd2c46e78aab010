package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/classtable/timetable-api/internal/service"
)

// multipart boundary, part headers, and the optional text fields on top
// of the file payload itself.
const multipartOverheadBytes = 64 * 1024

// UploadHandler accepts multipart timetable uploads. It is a raw chi
// handler rather than a huma operation because huma models JSON bodies,
// not multipart streams.
type UploadHandler struct {
	submission *service.SubmissionService
	baseURL    string
	maxBytes   int64
	logger     *slog.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(submission *service.SubmissionService, baseURL string, maxBytes int64, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		submission: submission,
		baseURL:    baseURL,
		maxBytes:   maxBytes,
		logger:     logger.With("component", "upload"),
	}
}

// uploadData is the 202 Accepted payload.
type uploadData struct {
	JobID             string `json:"jobId"`
	Status            string `json:"status"`
	CreatedAt         string `json:"createdAt"`
	StatusURL         string `json:"statusUrl"`
	WebhookRegistered bool   `json:"webhookRegistered"`
}

// Upload handles POST /api/v2/timetable/upload. Multipart fields: "file"
// (required), "teacherName", "className", "userId", "webhookUrl".
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverheadBytes)

	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds maximum size of %d bytes", h.maxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "request body must be multipart/form-data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, `multipart field "file" is required`)
		return
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read uploaded file")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(content)
	}

	result, err := h.submission.Submit(r.Context(), service.SubmitInput{
		FileName:    header.Filename,
		MimeType:    mimeType,
		Content:     content,
		TeacherName: r.FormValue("teacherName"),
		ClassName:   r.FormValue("className"),
		UserID:      r.FormValue("userId"),
		WebhookURL:  r.FormValue("webhookUrl"),
	})
	if err != nil {
		if service.IsClientError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("upload submission failed", "file_name", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to accept upload")
		return
	}

	job := result.Job
	writeJSON(w, http.StatusAccepted, uploadData{
		JobID:             job.ID,
		Status:            string(job.Status),
		CreatedAt:         job.CreatedAt.Format(time.RFC3339),
		StatusURL:         fmt.Sprintf("%s/api/v2/timetable/jobs/%s", h.baseURL, job.ID),
		WebhookRegistered: result.WebhookRegistered,
	})
}

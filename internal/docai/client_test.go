package docai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestClient_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("path = %s, want /extract", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		cfg := r.FormValue("config")
		if cfg == "" {
			t.Error("missing config field")
		}

		json.NewEncoder(w).Encode(ExtractResult{
			Content: "Monday 09:00-10:00 Maths",
			Tables: []ExtractedTable{
				{Data: [][]string{{"", "Monday"}, {"09:00-10:00", "Maths"}}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	result, err := c.Extract(context.Background(), []byte("fake-png"), "timetable.png", "image/png", &ExtractOptions{
		ExtractTables: true,
		OCRLanguage:   "eng",
	})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Content == "" {
		t.Error("Content is empty")
	}
	if len(result.Tables) != 1 {
		t.Errorf("len(Tables) = %d, want 1", len(result.Tables))
	}
}

func TestClient_Extract_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid file", "detail": "truncated image data"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, testLogger())
	_, err := c.Extract(context.Background(), []byte("x"), "bad.png", "image/png", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if de.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want 422", de.StatusCode)
	}
}

func TestClient_Disabled(t *testing.T) {
	c := NewClient("", time.Second, testLogger())
	if c.IsEnabled() {
		t.Error("IsEnabled() = true with empty base URL")
	}
	if _, err := c.Extract(context.Background(), nil, "f", "image/png", nil); err == nil {
		t.Error("Extract() on disabled client should error")
	}
}

func TestClient_HealthCheck_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second, testLogger())
	health, err := c.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if health.Status != "unhealthy" {
		t.Errorf("Status = %s, want unhealthy", health.Status)
	}
}

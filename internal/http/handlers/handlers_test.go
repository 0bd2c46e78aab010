package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/danielgtaylor/huma/v2"

	"github.com/classtable/timetable-api/internal/version"
)

func TestHealthCheck(t *testing.T) {
	output, err := HealthCheck(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "healthy" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "healthy")
	}
	if output.Body.Version != version.Get().Version {
		t.Errorf("Version = %q, want %q", output.Body.Version, version.Get().Version)
	}
}

func TestLivez(t *testing.T) {
	output, err := Livez(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "ok" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "ok")
	}
}

// mockDBPinger implements DBPinger for testing
type mockDBPinger struct {
	err error
}

func (m *mockDBPinger) Ping() error {
	return m.err
}

func TestReadyzSuccess(t *testing.T) {
	handler := NewReadyzHandler(&mockDBPinger{})

	output, err := handler.Readyz(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "ok" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "ok")
	}
}

func TestReadyzDBError(t *testing.T) {
	handler := NewReadyzHandler(&mockDBPinger{err: errors.New("connection failed")})

	_, err := handler.Readyz(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var se huma.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected a status error, got %T", err)
	}
	if se.GetStatus() != 503 {
		t.Errorf("status = %d, want 503", se.GetStatus())
	}
}

func TestReadyzNilDB(t *testing.T) {
	handler := NewReadyzHandler(nil)

	output, err := handler.Readyz(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Body.Status != "ok" {
		t.Errorf("Status = %q, want %q", output.Body.Status, "ok")
	}
}

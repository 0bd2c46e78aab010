package extractor

import (
	"context"
	"testing"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/pipeline"
	"github.com/classtable/timetable-api/internal/preprocessor"
)

type stubExtractor struct {
	tt    *models.ExtractedTimetable
	err   error
	calls int
}

func (s *stubExtractor) Extract(ctx context.Context, artifact *preprocessor.Artifact, hint Hint) (*models.ExtractedTimetable, error) {
	s.calls++
	return s.tt, s.err
}

type stubValidator struct {
	tt    *models.ExtractedTimetable
	err   error
	draft *models.ExtractedTimetable
}

func (s *stubValidator) Validate(ctx context.Context, artifact *preprocessor.Artifact, draft *models.ExtractedTimetable, hint Hint) (*models.ExtractedTimetable, error) {
	s.draft = draft
	return s.tt, s.err
}

func singleBlockTimetable(name string) *models.ExtractedTimetable {
	return &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		{Day: models.Monday, StartTime: 540, EndTime: 600, EventName: name},
	}}
}

func TestHybridReturnsValidatedResult(t *testing.T) {
	draft := singleBlockTimetable("Maths")
	enhanced := singleBlockTimetable("Mathematics")
	validator := &stubValidator{tt: enhanced}
	h := NewHybrid(&stubExtractor{tt: draft}, validator, discardLogger())

	got, err := h.Extract(context.Background(), &preprocessor.Artifact{Name: "a.png"}, Hint{})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if got != enhanced {
		t.Fatal("expected validated result")
	}
	if validator.draft != draft {
		t.Fatal("validator did not receive the structured draft")
	}
}

func TestHybridKeepsDraftOnValidationFailure(t *testing.T) {
	draft := singleBlockTimetable("Maths")
	validator := &stubValidator{err: pipeline.Errorf(pipeline.KindVisionBackend, "model unavailable")}
	h := NewHybrid(&stubExtractor{tt: draft}, validator, discardLogger())

	got, err := h.Extract(context.Background(), &preprocessor.Artifact{Name: "a.png"}, Hint{})
	if err != nil {
		t.Fatalf("expected degradation, got error %v", err)
	}
	if got != draft {
		t.Fatal("expected the structured draft back")
	}
}

func TestHybridPropagatesStructuredFailure(t *testing.T) {
	structuredErr := pipeline.Errorf(pipeline.KindStructuredBackend, "no tables")
	h := NewHybrid(&stubExtractor{err: structuredErr}, &stubValidator{}, discardLogger())

	_, err := h.Extract(context.Background(), &preprocessor.Artifact{Name: "a.png"}, Hint{})
	if pipeline.KindOf(err) != pipeline.KindStructuredBackend {
		t.Fatalf("expected structured_backend_error, got %v", err)
	}
}

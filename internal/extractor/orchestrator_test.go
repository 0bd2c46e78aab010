package extractor

import (
	"context"
	"testing"

	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/pipeline"
	"github.com/classtable/timetable-api/internal/preprocessor"
)

const typedGridText = `Monday Tuesday Wednesday Thursday Friday
09:00-10:00 Mathematics with Mr. Smith in Room 12
10:00-11:00 English Literature reading session
11:00-12:00 Science practical in the laboratory
13:00-14:00 History of the twentieth century
14:00-15:00 Physical Education on the main field`

const scrawledText = "mOnday tuEsday | maThs 09:0O | engLish l1 brk | sciEnce geOg | hisTory peRiod"

func allEnabled() config.PipelineConfig {
	return config.PipelineConfig{
		StructuredEnabled:     true,
		HybridEnabled:         true,
		VisionFallbackEnabled: true,
		ValidateOutput:        true,
	}
}

func typedArtifact() *preprocessor.Artifact {
	return &preprocessor.Artifact{Name: "grid.png", MimeType: preprocessor.MimePNG, Text: typedGridText}
}

func TestOrchestratorRoutesSimpleToStructured(t *testing.T) {
	structured := &stubExtractor{tt: singleBlockTimetable("Maths")}
	vision := &stubExtractor{tt: singleBlockTimetable("Maths")}
	o := NewOrchestrator(structured, vision, &stubExtractor{}, allEnabled(), discardLogger())

	res, err := o.Run(context.Background(), typedArtifact(), Hint{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Method != models.MethodStructured {
		t.Fatalf("method = %s, want structured", res.Method)
	}
	if res.Complexity != models.ComplexitySimple {
		t.Fatalf("complexity = %s, want simple", res.Complexity)
	}
	if structured.calls != 1 || vision.calls != 0 {
		t.Fatalf("wrong backend invoked: structured=%d vision=%d", structured.calls, vision.calls)
	}
}

func TestOrchestratorRoutesHandwritingToVision(t *testing.T) {
	structured := &stubExtractor{tt: singleBlockTimetable("Maths")}
	vision := &stubExtractor{tt: singleBlockTimetable("Maths")}
	o := NewOrchestrator(structured, vision, &stubExtractor{}, allEnabled(), discardLogger())

	artifact := &preprocessor.Artifact{Name: "scrawl.png", MimeType: preprocessor.MimePNG, Text: scrawledText}
	res, err := o.Run(context.Background(), artifact, Hint{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Method != models.MethodVision {
		t.Fatalf("method = %s, want vision", res.Method)
	}
	if vision.calls != 1 || structured.calls != 0 {
		t.Fatalf("wrong backend invoked: structured=%d vision=%d", structured.calls, vision.calls)
	}
}

func TestOrchestratorStructuredDisabledFallsToVision(t *testing.T) {
	cfg := allEnabled()
	cfg.StructuredEnabled = false
	vision := &stubExtractor{tt: singleBlockTimetable("Maths")}
	o := NewOrchestrator(&stubExtractor{}, vision, &stubExtractor{}, cfg, discardLogger())

	res, err := o.Run(context.Background(), typedArtifact(), Hint{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Method != models.MethodVision || vision.calls != 1 {
		t.Fatalf("expected vision, got %s", res.Method)
	}
}

func TestOrchestratorVisionFallbackOnExtractorError(t *testing.T) {
	structured := &stubExtractor{err: pipeline.Errorf(pipeline.KindStructuredBackend, "no tables")}
	vision := &stubExtractor{tt: singleBlockTimetable("Maths")}
	o := NewOrchestrator(structured, vision, &stubExtractor{}, allEnabled(), discardLogger())

	res, err := o.Run(context.Background(), typedArtifact(), Hint{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Method != models.MethodVisionErrorFallback {
		t.Fatalf("method = %s, want vision_error_fallback", res.Method)
	}
	if res.Complexity != models.ComplexityComplex {
		t.Fatalf("complexity = %s, want complex", res.Complexity)
	}
	found := false
	for _, r := range res.Reasons {
		if r == "primary extraction failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reasons = %v, want primary extraction failed", res.Reasons)
	}
}

func TestOrchestratorFallbackDisabledPropagatesError(t *testing.T) {
	cfg := allEnabled()
	cfg.VisionFallbackEnabled = false
	structured := &stubExtractor{err: pipeline.Errorf(pipeline.KindStructuredBackend, "no tables")}
	vision := &stubExtractor{tt: singleBlockTimetable("Maths")}
	o := NewOrchestrator(structured, vision, &stubExtractor{}, cfg, discardLogger())

	_, err := o.Run(context.Background(), typedArtifact(), Hint{})
	if pipeline.KindOf(err) != pipeline.KindStructuredBackend {
		t.Fatalf("expected structured_backend_error, got %v", err)
	}
	if vision.calls != 0 {
		t.Fatal("vision should not run when fallback is disabled")
	}
}

func TestOrchestratorNoFallbackForVisionErrors(t *testing.T) {
	vision := &stubExtractor{err: pipeline.Errorf(pipeline.KindVisionBackend, "model unavailable")}
	o := NewOrchestrator(&stubExtractor{}, vision, &stubExtractor{}, allEnabled(), discardLogger())

	artifact := &preprocessor.Artifact{Name: "scrawl.png", MimeType: preprocessor.MimePNG, Text: scrawledText}
	_, err := o.Run(context.Background(), artifact, Hint{})
	if pipeline.KindOf(err) != pipeline.KindVisionBackend {
		t.Fatalf("expected vision_backend_error, got %v", err)
	}
	if vision.calls != 1 {
		t.Fatalf("vision called %d times, want 1", vision.calls)
	}
}

func TestOrchestratorValidatesOutput(t *testing.T) {
	// 3-minute gap the validator should close.
	raw := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		{Day: models.Monday, StartTime: 540, EndTime: 570, EventName: "Maths"},
		{Day: models.Monday, StartTime: 573, EndTime: 600, EventName: "English"},
	}}
	structured := &stubExtractor{tt: raw}
	o := NewOrchestrator(structured, &stubExtractor{}, &stubExtractor{}, allEnabled(), discardLogger())

	res, err := o.Run(context.Background(), typedArtifact(), Hint{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.Data.Blocks[0].EndTime != 573 {
		t.Fatalf("validator did not run: %+v", res.Data.Blocks)
	}
	if len(res.Data.Warnings) == 0 {
		t.Fatal("expected validator warnings on the result")
	}
}

func TestOrchestratorNoBackends(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, allEnabled(), discardLogger())
	_, err := o.Run(context.Background(), typedArtifact(), Hint{})
	if pipeline.KindOf(err) != pipeline.KindUnknown {
		t.Fatalf("expected unknown_error, got %v", err)
	}
}

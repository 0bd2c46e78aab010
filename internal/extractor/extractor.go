// Package extractor implements the extraction backends that turn a
// preprocessed artifact into an ExtractedTimetable: a structured backend
// over document tables, a vision backend over a multimodal model, and a
// hybrid composition of the two. The orchestrator routes between them
// based on complexity classification and feature flags.
package extractor

import (
	"context"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/preprocessor"
)

// Hint is caller-provided metadata that overrides model-inferred
// metadata when both are present.
type Hint struct {
	TeacherName string
	ClassName   string
}

// Apply overlays the hint onto an extracted timetable.
func (h Hint) Apply(tt *models.ExtractedTimetable) {
	if h.TeacherName != "" {
		tt.TeacherName = h.TeacherName
	}
	if h.ClassName != "" {
		tt.ClassName = h.ClassName
	}
}

// Extractor is the uniform backend contract.
type Extractor interface {
	Extract(ctx context.Context, artifact *preprocessor.Artifact, hint Hint) (*models.ExtractedTimetable, error)
}

// Validator enhances a draft timetable against the original artifact.
// The vision backend implements this for the hybrid composition.
type Validator interface {
	Validate(ctx context.Context, artifact *preprocessor.Artifact, draft *models.ExtractedTimetable, hint Hint) (*models.ExtractedTimetable, error)
}

package extractor

import (
	"context"
	"log/slog"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/preprocessor"
)

// Hybrid runs the structured backend first and then asks the vision
// backend to validate and enhance the draft against the original
// artifact. A failed validation call degrades to the structured result
// rather than failing the extraction.
type Hybrid struct {
	structured Extractor
	vision     Validator
	logger     *slog.Logger
}

// NewHybrid creates the hybrid composition.
func NewHybrid(structured Extractor, vision Validator, logger *slog.Logger) *Hybrid {
	return &Hybrid{
		structured: structured,
		vision:     vision,
		logger:     logger.With("component", "hybrid_extractor"),
	}
}

func (h *Hybrid) Extract(ctx context.Context, artifact *preprocessor.Artifact, hint Hint) (*models.ExtractedTimetable, error) {
	draft, err := h.structured.Extract(ctx, artifact, hint)
	if err != nil {
		return nil, err
	}

	validated, err := h.vision.Validate(ctx, artifact, draft, hint)
	if err != nil {
		h.logger.Warn("vision validation failed, keeping structured draft",
			slog.String("name", artifact.Name),
			slog.Any("error", err),
		)
		return draft, nil
	}
	return validated, nil
}

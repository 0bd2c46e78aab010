package extractor

import (
	"context"
	"log/slog"
	"time"

	"github.com/classtable/timetable-api/internal/complexity"
	"github.com/classtable/timetable-api/internal/config"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/pipeline"
	"github.com/classtable/timetable-api/internal/preprocessor"
	"github.com/classtable/timetable-api/internal/timetable"
)

// Result is the orchestrator's output: the validated timetable plus the
// routing decisions that produced it.
type Result struct {
	Data       *models.ExtractedTimetable
	Method     models.ProcessingMethod
	Complexity models.ComplexityLevel
	Reasons    []string
	Elapsed    time.Duration
}

// Orchestrator routes one artifact through the right backend. It owns
// only the in-process vision fallback; transport-level retries belong to
// the worker.
type Orchestrator struct {
	structured Extractor
	vision     Extractor
	hybrid     Extractor
	cfg        config.PipelineConfig
	logger     *slog.Logger
}

// NewOrchestrator wires the backends. Any backend may be nil when its
// feature flag is off or its dependency is unconfigured; routing falls
// through to whatever remains.
func NewOrchestrator(structured, vision, hybrid Extractor, cfg config.PipelineConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		structured: structured,
		vision:     vision,
		hybrid:     hybrid,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Run classifies the artifact, extracts with the selected backend, and
// validates the timeline.
func (o *Orchestrator) Run(ctx context.Context, artifact *preprocessor.Artifact, hint Hint) (*Result, error) {
	start := time.Now()

	class := complexity.Classify(artifact)
	method, backend := o.selectBackend(class)
	if backend == nil {
		return nil, pipeline.Errorf(pipeline.KindUnknown, "no extraction backend available")
	}

	o.logger.Info("routing extraction",
		slog.String("name", artifact.Name),
		slog.String("complexity", string(class.Level)),
		slog.Float64("score", class.Score),
		slog.String("method", string(method)),
	)

	level := class.Level
	reasons := class.Reasons

	tt, err := backend.Extract(ctx, artifact, hint)
	if err != nil && o.cfg.VisionFallbackEnabled && o.vision != nil &&
		method != models.MethodVision && pipeline.IsExtractorError(err) {
		o.logger.Warn("primary extraction failed, falling back to vision",
			slog.String("name", artifact.Name),
			slog.String("method", string(method)),
			slog.Any("error", err),
		)
		tt, err = o.vision.Extract(ctx, artifact, hint)
		if err == nil {
			method = models.MethodVisionErrorFallback
			level = models.ComplexityComplex
			reasons = append(reasons, "primary extraction failed")
		}
	}
	if err != nil {
		return nil, err
	}

	if o.cfg.ValidateOutput {
		validated, warnings := timetable.Validate(tt)
		tt = validated
		tt.Warnings = append(tt.Warnings, warnings...)
	}

	return &Result{
		Data:       tt,
		Method:     method,
		Complexity: level,
		Reasons:    reasons,
		Elapsed:    time.Since(start),
	}, nil
}

// selectBackend maps the recommendation onto the enabled backends.
func (o *Orchestrator) selectBackend(class complexity.Classification) (models.ProcessingMethod, Extractor) {
	structuredOK := o.cfg.StructuredEnabled && o.structured != nil
	hybridOK := o.cfg.HybridEnabled && o.hybrid != nil

	switch class.Recommended {
	case models.MethodStructured:
		if structuredOK {
			return models.MethodStructured, o.structured
		}
	case models.MethodHybrid:
		if hybridOK {
			return models.MethodHybrid, o.hybrid
		}
	}
	if o.vision != nil {
		return models.MethodVision, o.vision
	}
	// Vision unavailable: degrade to whatever is left.
	if hybridOK {
		return models.MethodHybrid, o.hybrid
	}
	if structuredOK {
		return models.MethodStructured, o.structured
	}
	return "", nil
}

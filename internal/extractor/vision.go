package extractor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/pipeline"
	"github.com/classtable/timetable-api/internal/preprocessor"
)

const visionMaxTokens = 8192

const extractionSystemPrompt = `You are a timetable extraction engine for school teacher timetables.
You receive an image or PDF of a weekly timetable, possibly with OCR text, and must return exactly one JSON object and nothing else - no prose, no markdown fences.

The JSON object has this shape:
{
  "metadata": {"teacherName": string, "className": string, "term": string, "week": string},
  "blocks": [{"day": "Monday".."Friday", "startTime": "HH:MM", "endTime": "HH:MM", "eventName": string, "notes": string, "confidence": number 0..1}],
  "recurringBlocks": [{"startTime": "HH:MM", "endTime": "HH:MM", "eventName": string, "appliesDaily": boolean, "notes": string}],
  "warnings": [string]
}

Rules:
- Times are 24-hour HH:MM. Every block must have startTime strictly before endTime.
- Day names are full English names, Monday through Friday only.
- Events that repeat at the same time every day (assembly, break, lunch, registration) go in recurringBlocks, not blocks.
- Unknown metadata fields are empty strings. Do not invent teacher or class names.
- Record anything illegible or ambiguous in warnings instead of guessing silently.`

const validationSystemPrompt = `You are a timetable validation engine for school teacher timetables.
You receive a draft timetable extracted from a document plus the original image or PDF. Correct the draft against the original: fix misread times and event names, fill blocks the draft missed, and move daily fixtures (assembly, break, lunch, registration) into recurringBlocks.

Return exactly one JSON object with the same shape as the draft:
{
  "metadata": {"teacherName": string, "className": string, "term": string, "week": string},
  "blocks": [{"day": "Monday".."Friday", "startTime": "HH:MM", "endTime": "HH:MM", "eventName": string, "notes": string, "confidence": number 0..1}],
  "recurringBlocks": [{"startTime": "HH:MM", "endTime": "HH:MM", "eventName": string, "appliesDaily": boolean, "notes": string}],
  "warnings": [string]
}

Keep draft content you cannot verify from the original. Note every correction you make in warnings.`

// Vision extracts timetables with a multimodal model. Temperature is
// pinned to 0 so the same artifact yields the same result.
type Vision struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewVision creates the vision backend.
func NewVision(apiKey, model string, timeout time.Duration, logger *slog.Logger) *Vision {
	return &Vision{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		logger:  logger.With("component", "vision_extractor"),
	}
}

func (v *Vision) Extract(ctx context.Context, artifact *preprocessor.Artifact, hint Hint) (*models.ExtractedTimetable, error) {
	prompt := buildExtractionPrompt(artifact, hint)
	tt, err := v.complete(ctx, extractionSystemPrompt, prompt, artifact)
	if err != nil {
		return nil, err
	}
	hint.Apply(tt)
	return tt, nil
}

// Validate implements the hybrid composition's second stage: the draft
// plus the original artifact go back to the model under the validation
// prompt.
func (v *Vision) Validate(ctx context.Context, artifact *preprocessor.Artifact, draft *models.ExtractedTimetable, hint Hint) (*models.ExtractedTimetable, error) {
	draftJSON, err := json.Marshal(wireFromTimetable(draft))
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindVisionBackend, "marshal draft: %v", err)
	}

	var sb strings.Builder
	sb.WriteString("Draft timetable to validate:\n")
	sb.Write(draftJSON)
	sb.WriteString("\n\n")
	sb.WriteString(buildExtractionPrompt(artifact, hint))

	tt, err := v.complete(ctx, validationSystemPrompt, sb.String(), artifact)
	if err != nil {
		return nil, err
	}
	hint.Apply(tt)
	return tt, nil
}

// complete sends one multimodal request and parses the JSON response.
func (v *Vision) complete(ctx context.Context, system, prompt string, artifact *preprocessor.Artifact) (*models.ExtractedTimetable, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt)}
	if artifact.HasImage() {
		switch artifact.ImageMime {
		case preprocessor.MimePDF:
			blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
				Data: base64.StdEncoding.EncodeToString(artifact.ImageBytes),
			}))
		default:
			blocks = append(blocks, anthropic.NewImageBlockBase64(
				artifact.ImageMime,
				base64.StdEncoding.EncodeToString(artifact.ImageBytes),
			))
		}
	}

	start := time.Now()
	resp, err := v.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(v.model),
		MaxTokens:   visionMaxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	})
	if err != nil {
		return nil, pipeline.Errorf(pipeline.KindVisionBackend, "model call failed: %v", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, pipeline.Errorf(pipeline.KindVisionBackend, "model returned no text content")
	}

	tt, err := parseModelResponse(text.String())
	if err != nil {
		return nil, err
	}

	v.logger.Debug("vision extraction completed",
		slog.String("name", artifact.Name),
		slog.Int("block_count", len(tt.Blocks)),
		slog.Duration("duration", time.Since(start)),
	)
	return tt, nil
}

func buildExtractionPrompt(artifact *preprocessor.Artifact, hint Hint) string {
	var sb strings.Builder
	sb.WriteString("Extract the weekly timetable from the attached document.\n")
	if hint.TeacherName != "" {
		fmt.Fprintf(&sb, "The teacher is %s.\n", hint.TeacherName)
	}
	if hint.ClassName != "" {
		fmt.Fprintf(&sb, "The class is %s.\n", hint.ClassName)
	}
	if strings.TrimSpace(artifact.Text) != "" {
		sb.WriteString("\nOCR text from the document, as additional evidence (it may contain recognition errors):\n")
		sb.WriteString(artifact.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// wireFromTimetable renders a timetable back into the wire schema so it
// can be embedded in a validation prompt.
func wireFromTimetable(tt *models.ExtractedTimetable) wireTimetable {
	var w wireTimetable
	w.Metadata.TeacherName = tt.TeacherName
	w.Metadata.ClassName = tt.ClassName
	w.Metadata.Term = tt.Term
	w.Metadata.Week = tt.Week
	w.Warnings = tt.Warnings
	for _, b := range tt.Blocks {
		w.Blocks = append(w.Blocks, wireBlock{
			Day:        string(b.Day),
			StartTime:  models.MinutesToClock(b.StartTime),
			EndTime:    models.MinutesToClock(b.EndTime),
			EventName:  b.EventName,
			Notes:      b.Notes,
			Color:      b.Color,
			Confidence: b.Confidence,
		})
	}
	for _, rb := range tt.RecurringBlocks {
		daily := rb.AppliesDaily
		w.RecurringBlocks = append(w.RecurringBlocks, wireRecurring{
			StartTime:    models.MinutesToClock(rb.StartTime),
			EndTime:      models.MinutesToClock(rb.EndTime),
			EventName:    rb.EventName,
			AppliesDaily: &daily,
			Notes:        rb.Notes,
		})
	}
	return w
}

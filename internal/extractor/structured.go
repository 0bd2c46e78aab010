package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/classtable/timetable-api/internal/docai"
	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/pipeline"
	"github.com/classtable/timetable-api/internal/preprocessor"
)

// structuredConfidence is assigned to every block parsed from a table
// cell: the table geometry is trustworthy but cell text is still OCR.
const structuredConfidence = 0.85

// timeRangeRe matches "9:00-10:00" and "09:00 – 10:00" style ranges.
var timeRangeRe = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[-–]\s*(\d{1,2}):(\d{2})`)

// Structured extracts a timetable from document tables. Tables come from
// the preprocessing step when available, otherwise from a direct call to
// the document AI service.
type Structured struct {
	docai  *docai.Client
	logger *slog.Logger
}

// NewStructured creates the structured backend.
func NewStructured(docaiClient *docai.Client, logger *slog.Logger) *Structured {
	return &Structured{
		docai:  docaiClient,
		logger: logger.With("component", "structured_extractor"),
	}
}

func (s *Structured) Extract(ctx context.Context, artifact *preprocessor.Artifact, hint Hint) (*models.ExtractedTimetable, error) {
	tables := artifact.Tables
	if len(tables) == 0 {
		fetched, err := s.fetchTables(ctx, artifact)
		if err != nil {
			return nil, err
		}
		tables = fetched
	}
	if len(tables) == 0 {
		return nil, pipeline.Errorf(pipeline.KindStructuredBackend, "no tables detected in %s", artifact.Name)
	}

	tt, err := tableToTimetable(tables[0])
	if err != nil {
		return nil, err
	}
	hint.Apply(tt)

	s.logger.Debug("structured extraction produced blocks",
		slog.String("name", artifact.Name),
		slog.Int("block_count", len(tt.Blocks)),
	)
	return tt, nil
}

func (s *Structured) fetchTables(ctx context.Context, artifact *preprocessor.Artifact) ([][][]string, error) {
	if !s.docai.IsEnabled() {
		return nil, pipeline.Errorf(pipeline.KindStructuredBackend, "document AI service not configured")
	}

	content := artifact.ImageBytes
	mime := artifact.ImageMime
	if len(content) == 0 {
		return nil, pipeline.Errorf(pipeline.KindStructuredBackend, "no bytes available for table extraction")
	}

	result, err := s.docai.Extract(ctx, content, artifact.Name, mime, &docai.ExtractOptions{ExtractTables: true})
	if err != nil {
		return nil, pipeline.Wrap(pipeline.KindStructuredBackend, err)
	}

	var tables [][][]string
	for _, t := range result.Tables {
		tables = append(tables, t.Data)
	}
	return tables, nil
}

// tableToTimetable converts one detected table to a timetable. The day
// header may run along the first row (days as columns) or the first
// column (days as rows); orientation is auto-detected by counting
// recognizable day names in each.
func tableToTimetable(table [][]string) (*models.ExtractedTimetable, error) {
	if len(table) < 2 || len(table[0]) < 2 {
		return nil, pipeline.Errorf(pipeline.KindStructuredBackend, "table too small: %dx%d", len(table), maxRowLen(table))
	}

	if countDays(table[0]) >= countDays(firstColumn(table)) {
		return parseDaysAsColumns(table)
	}
	return parseDaysAsRows(table)
}

// parseDaysAsColumns handles the layout with day names in the header row
// and time ranges in the first column.
func parseDaysAsColumns(table [][]string) (*models.ExtractedTimetable, error) {
	header := table[0]
	tt := &models.ExtractedTimetable{}

	for _, row := range table[1:] {
		if len(row) == 0 {
			continue
		}
		start, end, ok := parseTimeRange(row[0])
		if !ok {
			continue
		}
		for col := 1; col < len(row) && col < len(header); col++ {
			day := normalizeDay(header[col])
			if day == "" {
				continue
			}
			appendCell(tt, day, start, end, row[col])
		}
	}

	if len(tt.Blocks) == 0 {
		return nil, pipeline.Errorf(pipeline.KindStructuredBackend, "table yielded no time blocks")
	}
	return tt, nil
}

// parseDaysAsRows handles the transposed layout with day names down the
// first column and time ranges in the header row.
func parseDaysAsRows(table [][]string) (*models.ExtractedTimetable, error) {
	header := table[0]
	tt := &models.ExtractedTimetable{}

	for _, row := range table[1:] {
		if len(row) == 0 {
			continue
		}
		day := normalizeDay(row[0])
		if day == "" {
			continue
		}
		for col := 1; col < len(row) && col < len(header); col++ {
			start, end, ok := parseTimeRange(header[col])
			if !ok {
				continue
			}
			appendCell(tt, day, start, end, row[col])
		}
	}

	if len(tt.Blocks) == 0 {
		return nil, pipeline.Errorf(pipeline.KindStructuredBackend, "table yielded no time blocks")
	}
	return tt, nil
}

func appendCell(tt *models.ExtractedTimetable, day models.Weekday, start, end int, cell string) {
	name := collapseSpace(cell)
	if name == "" {
		return
	}
	tt.Blocks = append(tt.Blocks, models.TimeBlock{
		Day:        day,
		StartTime:  start,
		EndTime:    end,
		EventName:  name,
		Confidence: structuredConfidence,
	})
}

// parseTimeRange extracts a start/end minute pair from a cell.
func parseTimeRange(cell string) (start, end int, ok bool) {
	m := timeRangeRe.FindStringSubmatch(cell)
	if m == nil {
		return 0, 0, false
	}
	start, err1 := ClockToMinutes(fmt.Sprintf("%s:%s", m[1], m[2]))
	end, err2 := ClockToMinutes(fmt.Sprintf("%s:%s", m[3], m[4]))
	if err1 != nil || err2 != nil || start >= end {
		return 0, 0, false
	}
	return start, end, true
}

func countDays(cells []string) int {
	n := 0
	for _, c := range cells {
		if normalizeDay(c) != "" {
			n++
		}
	}
	return n
}

func firstColumn(table [][]string) []string {
	out := make([]string, 0, len(table))
	for _, row := range table {
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
	return out
}

func maxRowLen(table [][]string) int {
	n := 0
	for _, row := range table {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

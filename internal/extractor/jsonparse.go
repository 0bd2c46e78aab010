package extractor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/classtable/timetable-api/internal/models"
	"github.com/classtable/timetable-api/internal/pipeline"
)

// wireTimetable is the JSON schema the vision backend is prompted to
// return. Times are "HH:MM" strings on the wire and minutes-from-midnight
// in the domain model.
type wireTimetable struct {
	Metadata        wireMetadata    `json:"metadata"`
	Blocks          []wireBlock     `json:"blocks"`
	RecurringBlocks []wireRecurring `json:"recurringBlocks"`
	Warnings        []string        `json:"warnings"`
}

type wireMetadata struct {
	TeacherName string `json:"teacherName"`
	ClassName   string `json:"className"`
	Term        string `json:"term"`
	Week        string `json:"week"`
}

type wireBlock struct {
	Day        string  `json:"day"`
	StartTime  string  `json:"startTime"`
	EndTime    string  `json:"endTime"`
	EventName  string  `json:"eventName"`
	Notes      string  `json:"notes"`
	Color      string  `json:"color"`
	Confidence float64 `json:"confidence"`
}

type wireRecurring struct {
	StartTime    string `json:"startTime"`
	EndTime      string `json:"endTime"`
	EventName    string `json:"eventName"`
	AppliesDaily *bool  `json:"appliesDaily"`
	Notes        string `json:"notes"`
}

// firstBalancedJSON extracts the first balanced {...} region from text,
// skipping braces inside JSON strings. Models wrap their output in prose
// or markdown fences often enough that a bare Unmarshal is not viable.
func firstBalancedJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// parseModelResponse extracts and validates the timetable JSON from a
// model response. Structural mismatches are validation_error failures,
// never partial output.
func parseModelResponse(text string) (*models.ExtractedTimetable, error) {
	raw, ok := firstBalancedJSON(text)
	if !ok {
		return nil, pipeline.Errorf(pipeline.KindValidation, "no JSON object in model response")
	}

	var wire wireTimetable
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, pipeline.Errorf(pipeline.KindValidation, "malformed timetable JSON: %v", err)
	}

	if len(wire.Blocks) == 0 {
		return nil, pipeline.Errorf(pipeline.KindValidation, "timetable JSON has no blocks")
	}

	tt := &models.ExtractedTimetable{
		TeacherName: wire.Metadata.TeacherName,
		ClassName:   wire.Metadata.ClassName,
		Term:        wire.Metadata.Term,
		Week:        wire.Metadata.Week,
		Warnings:    wire.Warnings,
	}

	for i, b := range wire.Blocks {
		day := normalizeDay(b.Day)
		if day == "" {
			return nil, pipeline.Errorf(pipeline.KindValidation, "block %d: unknown day %q", i, b.Day)
		}
		start, err := ClockToMinutes(b.StartTime)
		if err != nil {
			return nil, pipeline.Errorf(pipeline.KindValidation, "block %d: bad startTime %q", i, b.StartTime)
		}
		end, err := ClockToMinutes(b.EndTime)
		if err != nil {
			return nil, pipeline.Errorf(pipeline.KindValidation, "block %d: bad endTime %q", i, b.EndTime)
		}
		if start >= end {
			return nil, pipeline.Errorf(pipeline.KindValidation, "block %d: start %s not before end %s", i, b.StartTime, b.EndTime)
		}
		if b.EventName == "" {
			return nil, pipeline.Errorf(pipeline.KindValidation, "block %d: empty eventName", i)
		}
		tt.Blocks = append(tt.Blocks, models.TimeBlock{
			Day:        day,
			StartTime:  start,
			EndTime:    end,
			EventName:  b.EventName,
			Notes:      b.Notes,
			Color:      b.Color,
			Confidence: b.Confidence,
		})
	}

	for i, rb := range wire.RecurringBlocks {
		start, err := ClockToMinutes(rb.StartTime)
		if err != nil {
			return nil, pipeline.Errorf(pipeline.KindValidation, "recurring block %d: bad startTime %q", i, rb.StartTime)
		}
		end, err := ClockToMinutes(rb.EndTime)
		if err != nil {
			return nil, pipeline.Errorf(pipeline.KindValidation, "recurring block %d: bad endTime %q", i, rb.EndTime)
		}
		if start >= end {
			return nil, pipeline.Errorf(pipeline.KindValidation, "recurring block %d: start not before end", i)
		}
		appliesDaily := true
		if rb.AppliesDaily != nil {
			appliesDaily = *rb.AppliesDaily
		}
		tt.RecurringBlocks = append(tt.RecurringBlocks, models.RecurringBlock{
			StartTime:    start,
			EndTime:      end,
			EventName:    rb.EventName,
			AppliesDaily: appliesDaily,
			Notes:        rb.Notes,
		})
	}

	return tt, nil
}

// ClockToMinutes parses an "HH:MM" or "H:MM" 24-hour string into minutes
// from midnight.
func ClockToMinutes(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return h*60 + m, nil
}

// dayNames maps lowered full names and 3-letter abbreviations to weekdays.
var dayNames = map[string]models.Weekday{
	"monday": models.Monday, "mon": models.Monday,
	"tuesday": models.Tuesday, "tue": models.Tuesday, "tues": models.Tuesday,
	"wednesday": models.Wednesday, "wed": models.Wednesday,
	"thursday": models.Thursday, "thu": models.Thursday, "thur": models.Thursday, "thurs": models.Thursday,
	"friday": models.Friday, "fri": models.Friday,
}

// normalizeDay resolves a day label to a canonical weekday, or "" when
// the label is not a school day.
func normalizeDay(s string) models.Weekday {
	return dayNames[strings.ToLower(strings.TrimSpace(s))]
}

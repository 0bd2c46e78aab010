package timetable

import (
	"reflect"
	"strings"
	"testing"

	"github.com/classtable/timetable-api/internal/models"
)

func block(day models.Weekday, start, end int, name string) models.TimeBlock {
	return models.TimeBlock{Day: day, StartTime: start, EndTime: end, EventName: name}
}

func TestValidateSortsBlocks(t *testing.T) {
	tt := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		block(models.Monday, 600, 660, "English"),
		block(models.Monday, 540, 600, "Maths"),
	}}

	out, warnings := Validate(tt)
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if out.Blocks[0].EventName != "Maths" || out.Blocks[1].EventName != "English" {
		t.Fatalf("blocks not sorted: %+v", out.Blocks)
	}
}

func TestValidateShrinksOverlap(t *testing.T) {
	tt := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		block(models.Monday, 540, 620, "Maths"),
		block(models.Monday, 600, 660, "English"),
	}}

	out, warnings := Validate(tt)
	if out.Blocks[0].EndTime != 600 {
		t.Fatalf("expected Maths truncated to 600, got %d", out.Blocks[0].EndTime)
	}
	if len(warnings) != 1 || !strings.HasPrefix(warnings[0], "overlap") {
		t.Fatalf("expected overlap warning, got %v", warnings)
	}
}

func TestValidateFillsSmallGap(t *testing.T) {
	// Monday 09:00-09:30 Maths, 09:33-10:00 English: 3-minute gap.
	tt := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		block(models.Monday, 540, 570, "Maths"),
		block(models.Monday, 573, 600, "English"),
	}}

	out, warnings := Validate(tt)
	if out.Blocks[0].EndTime != 573 {
		t.Fatalf("expected Maths extended to 573, got %d", out.Blocks[0].EndTime)
	}
	if len(out.Blocks) != 2 {
		t.Fatalf("expected no synthetic block, got %d blocks", len(out.Blocks))
	}
	if !hasWarning(warnings, "small_gap_filled") {
		t.Fatalf("expected small_gap_filled warning, got %v", warnings)
	}
}

func TestValidateInsertsTransition(t *testing.T) {
	// 8-minute gap: synthetic Transition.
	tt := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		block(models.Monday, 540, 570, "Maths"),
		block(models.Monday, 578, 630, "English"),
	}}

	out, warnings := Validate(tt)
	if len(out.Blocks) != 3 {
		t.Fatalf("expected synthetic block, got %+v", out.Blocks)
	}
	synth := out.Blocks[1]
	if synth.EventName != "Transition" {
		t.Fatalf("expected Transition, got %q", synth.EventName)
	}
	if synth.StartTime != 570 || synth.EndTime != 578 {
		t.Fatalf("synthetic block not contiguous: %+v", synth)
	}
	if synth.Notes != "Auto-inserted to fill 8-minute gap" {
		t.Fatalf("unexpected notes %q", synth.Notes)
	}
	if !hasWarning(warnings, "gap_filled") {
		t.Fatalf("expected gap_filled warning, got %v", warnings)
	}
}

func TestValidateInsertsFreePeriod(t *testing.T) {
	// 30-minute gap: synthetic Free Period.
	tt := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		block(models.Tuesday, 540, 600, "Maths"),
		block(models.Tuesday, 630, 690, "English"),
	}}

	out, _ := Validate(tt)
	if len(out.Blocks) != 3 || out.Blocks[1].EventName != "Free Period" {
		t.Fatalf("expected Free Period, got %+v", out.Blocks)
	}
}

func TestValidateLeavesRecurringCoveredGap(t *testing.T) {
	tt := &models.ExtractedTimetable{
		Blocks: []models.TimeBlock{
			block(models.Monday, 540, 600, "Maths"),
			block(models.Monday, 620, 660, "English"),
		},
		RecurringBlocks: []models.RecurringBlock{
			{StartTime: 600, EndTime: 620, EventName: "Break", AppliesDaily: true},
		},
	}

	out, warnings := Validate(tt)
	if len(out.Blocks) != 2 {
		t.Fatalf("expected gap left untouched, got %+v", out.Blocks)
	}
	if out.Blocks[0].EndTime != 600 {
		t.Fatalf("expected Maths end unchanged, got %d", out.Blocks[0].EndTime)
	}
	if !hasWarning(warnings, "gap_covered_by_recurring") {
		t.Fatalf("expected gap_covered_by_recurring warning, got %v", warnings)
	}
}

func TestValidateMissingCoverage(t *testing.T) {
	// Starts late and ends early.
	tt := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		block(models.Friday, 10*60, 11*60, "Maths"),
	}}

	_, warnings := Validate(tt)
	count := 0
	for _, w := range warnings {
		if strings.HasPrefix(w, "missing_coverage") {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 missing_coverage warnings, got %v", warnings)
	}
}

func TestValidateIdempotent(t *testing.T) {
	tt := &models.ExtractedTimetable{
		Blocks: []models.TimeBlock{
			block(models.Monday, 540, 620, "Maths"),
			block(models.Monday, 600, 660, "English"),
			block(models.Monday, 690, 750, "Science"),
			block(models.Tuesday, 540, 570, "Art"),
			block(models.Tuesday, 573, 630, "Music"),
		},
		RecurringBlocks: []models.RecurringBlock{
			{StartTime: 660, EndTime: 690, EventName: "Lunch", AppliesDaily: true},
		},
	}

	once, _ := Validate(tt)
	twice, rewarnings := Validate(once)
	if !reflect.DeepEqual(once.Blocks, twice.Blocks) {
		t.Fatalf("validate not idempotent:\nonce:  %+v\ntwice: %+v", once.Blocks, twice.Blocks)
	}
	for _, w := range rewarnings {
		if !strings.HasPrefix(w, "missing_coverage") && !strings.HasPrefix(w, "gap_covered_by_recurring") {
			t.Fatalf("second pass produced repair warning %q", w)
		}
	}
}

func TestValidateOrderedInvariant(t *testing.T) {
	tt := &models.ExtractedTimetable{Blocks: []models.TimeBlock{
		block(models.Monday, 700, 760, "Science"),
		block(models.Monday, 540, 610, "Maths"),
		block(models.Monday, 600, 660, "English"),
	}}

	out, _ := Validate(tt)
	for _, day := range models.SchoolWeek {
		blocks := out.BlocksForDay(day)
		for i := range blocks {
			if blocks[i].StartTime >= blocks[i].EndTime {
				t.Fatalf("block %d has start >= end: %+v", i, blocks[i])
			}
			if i > 0 && blocks[i-1].EndTime > blocks[i].StartTime {
				t.Fatalf("blocks %d and %d overlap after validation", i-1, i)
			}
		}
	}
}

func TestMergedTimeline(t *testing.T) {
	tt := &models.ExtractedTimetable{
		Blocks: []models.TimeBlock{
			block(models.Monday, 600, 660, "English"),
			block(models.Monday, 540, 600, "Maths"),
			block(models.Tuesday, 540, 600, "Art"),
		},
		RecurringBlocks: []models.RecurringBlock{
			{StartTime: 660, EndTime: 690, EventName: "Lunch", AppliesDaily: true},
			{StartTime: 520, EndTime: 530, EventName: "Choir", Notes: "Wednesdays only"},
		},
	}

	merged := MergedTimeline(tt, models.Monday)
	if len(merged) != 3 {
		t.Fatalf("expected 3 entries, got %+v", merged)
	}
	if merged[0].EventName != "Maths" || merged[2].EventName != "Lunch" {
		t.Fatalf("unexpected order: %+v", merged)
	}
	if !merged[2].IsFixed {
		t.Fatal("recurring entry should be marked fixed")
	}

	// The day-scoped fixture folds into its own day only.
	wednesday := MergedTimeline(tt, models.Wednesday)
	if len(wednesday) != 2 || wednesday[0].EventName != "Choir" {
		t.Fatalf("expected Choir on Wednesday, got %+v", wednesday)
	}
}

func TestValidateGapNotCoveredOnOtherDay(t *testing.T) {
	// The recurring fixture spans the gap but applies on Friday, so the
	// Monday gap still gets a synthetic block.
	tt := &models.ExtractedTimetable{
		Blocks: []models.TimeBlock{
			block(models.Monday, 540, 600, "Maths"),
			block(models.Monday, 620, 660, "English"),
		},
		RecurringBlocks: []models.RecurringBlock{
			{StartTime: 600, EndTime: 620, EventName: "Assembly", Notes: "Friday mornings"},
		},
	}

	out, warnings := Validate(tt)
	if len(out.Blocks) != 3 || out.Blocks[1].EventName != "Free Period" {
		t.Fatalf("expected synthetic block, got %+v", out.Blocks)
	}
	if hasWarning(warnings, "gap_covered_by_recurring") {
		t.Fatalf("gap wrongly treated as covered: %v", warnings)
	}
}

func hasWarning(warnings []string, prefix string) bool {
	for _, w := range warnings {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}

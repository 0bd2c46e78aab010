// Package timetable implements the timeline validator and the read-side
// projections over extracted timetables.
package timetable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/classtable/timetable-api/internal/models"
)

const (
	// Gaps at or under smallGapMinutes are closed by extending the
	// preceding block; larger gaps get a synthetic block.
	smallGapMinutes = 5
	// Synthetic blocks shorter than transitionMinutes are labelled
	// "Transition", longer ones "Free Period".
	transitionMinutes = 10

	// Expected coverage window for a school day, used by the
	// missing-coverage pass.
	expectedDayStart = 9 * 60  // 09:00
	expectedDayEnd   = 15 * 60 // 15:00
)

// Validate normalizes a timetable's per-day timelines: sorts blocks,
// shrinks overlaps, fills gaps, and reports anomalies as warnings. The
// input is not modified. Validation is idempotent: a validated timetable
// passes through unchanged with no new warnings.
func Validate(tt *models.ExtractedTimetable) (*models.ExtractedTimetable, []string) {
	out := *tt
	out.Blocks = nil
	var warnings []string

	for _, day := range models.SchoolWeek {
		blocks := tt.BlocksForDay(day)
		if len(blocks) == 0 {
			continue
		}
		sort.SliceStable(blocks, func(i, j int) bool {
			return blocks[i].StartTime < blocks[j].StartTime
		})

		validated := []models.TimeBlock{blocks[0]}
		for _, cur := range blocks[1:] {
			prev := &validated[len(validated)-1]
			gap := cur.StartTime - prev.EndTime

			switch {
			case gap < 0:
				warnings = append(warnings, fmt.Sprintf(
					"overlap: %s %q and %q overlap, truncated %q to %s",
					day, prev.EventName, cur.EventName, prev.EventName,
					models.MinutesToClock(cur.StartTime)))
				prev.EndTime = cur.StartTime
			case gap > 0 && coveredByRecurring(tt.RecurringBlocks, day, prev.EndTime, cur.StartTime):
				warnings = append(warnings, fmt.Sprintf(
					"gap_covered_by_recurring: %s %s-%s between %q and %q",
					day, models.MinutesToClock(prev.EndTime), models.MinutesToClock(cur.StartTime),
					prev.EventName, cur.EventName))
			case gap > 0 && gap <= smallGapMinutes:
				warnings = append(warnings, fmt.Sprintf(
					"small_gap_filled: %s extended %q to %s (%d-minute gap)",
					day, prev.EventName, models.MinutesToClock(cur.StartTime), gap))
				prev.EndTime = cur.StartTime
			case gap > smallGapMinutes:
				name := "Free Period"
				if gap < transitionMinutes {
					name = "Transition"
				}
				validated = append(validated, models.TimeBlock{
					Day:       day,
					StartTime: prev.EndTime,
					EndTime:   cur.StartTime,
					EventName: name,
					Notes:     fmt.Sprintf("Auto-inserted to fill %d-minute gap", gap),
				})
				warnings = append(warnings, fmt.Sprintf(
					"gap_filled: %s inserted %q %s-%s",
					day, name, models.MinutesToClock(prev.EndTime), models.MinutesToClock(cur.StartTime)))
			}
			validated = append(validated, cur)
		}

		if first := validated[0]; first.StartTime > expectedDayStart {
			warnings = append(warnings, fmt.Sprintf(
				"missing_coverage: %s starts at %s", day, models.MinutesToClock(first.StartTime)))
		}
		if last := validated[len(validated)-1]; last.EndTime < expectedDayEnd {
			warnings = append(warnings, fmt.Sprintf(
				"missing_coverage: %s ends at %s", day, models.MinutesToClock(last.EndTime)))
		}

		out.Blocks = append(out.Blocks, validated...)
	}

	return &out, warnings
}

// coveredByRecurring reports whether a recurring block that applies on
// the given day intersects the half-open interval [start, end).
func coveredByRecurring(recurring []models.RecurringBlock, day models.Weekday, start, end int) bool {
	for _, r := range recurring {
		if recurringAppliesOn(r, day) && r.Covers(start, end) {
			return true
		}
	}
	return false
}

// recurringDays resolves the school days a recurring fixture applies to:
// the whole week when AppliesDaily is set, otherwise the days named in
// its notes. A fixture whose notes name no recognisable day is treated
// as daily so it is surfaced rather than silently dropped.
func recurringDays(r models.RecurringBlock) []models.Weekday {
	if r.AppliesDaily {
		return models.SchoolWeek
	}
	notes := strings.ToLower(r.Notes)
	var days []models.Weekday
	for _, day := range models.SchoolWeek {
		if strings.Contains(notes, strings.ToLower(string(day))) {
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return models.SchoolWeek
	}
	return days
}

// recurringAppliesOn reports whether the fixture applies on one weekday.
func recurringAppliesOn(r models.RecurringBlock, day models.Weekday) bool {
	for _, d := range recurringDays(r) {
		if d == day {
			return true
		}
	}
	return false
}

// MergedTimeline returns one weekday's blocks with the recurring fixtures
// folded in, sorted by start time. The validator keeps the two collections
// separate; this is the read-side merge for callers who want one timeline.
func MergedTimeline(tt *models.ExtractedTimetable, day models.Weekday) []models.TimeBlock {
	merged := tt.BlocksForDay(day)
	for _, r := range tt.RecurringBlocks {
		if !recurringAppliesOn(r, day) {
			continue
		}
		merged = append(merged, models.TimeBlock{
			Day:       day,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
			EventName: r.EventName,
			Notes:     r.Notes,
			IsFixed:   true,
		})
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartTime < merged[j].StartTime
	})
	return merged
}

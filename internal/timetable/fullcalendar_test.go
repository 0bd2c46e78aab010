package timetable

import (
	"testing"

	"github.com/classtable/timetable-api/internal/models"
)

func TestToFullCalendar(t *testing.T) {
	tt := &models.ExtractedTimetable{
		JobID:       "job-1",
		TeacherName: "Ms Smith",
		ClassName:   "4B",
		Blocks: []models.TimeBlock{
			{Day: models.Monday, StartTime: 540, EndTime: 600, EventName: "Maths", Confidence: 0.9},
			{Day: models.Wednesday, StartTime: 780, EndTime: 840, EventName: "PE", Color: "#00ff00"},
		},
		RecurringBlocks: []models.RecurringBlock{
			{StartTime: 720, EndTime: 750, EventName: "Lunch", AppliesDaily: true},
			{StartTime: 500, EndTime: 520, EventName: "Choir", Notes: "Tuesday and Thursday rehearsals"},
		},
	}

	cal := ToFullCalendar(tt)

	if cal.Metadata.JobID != "job-1" || cal.Metadata.TeacherName != "Ms Smith" {
		t.Fatalf("unexpected metadata: %+v", cal.Metadata)
	}
	if cal.Metadata.EventCount != 4 || len(cal.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(cal.Events))
	}

	maths := cal.Events[0]
	if maths.Title != "Maths" || maths.StartTime != "09:00" || maths.EndTime != "10:00" {
		t.Fatalf("unexpected first event: %+v", maths)
	}
	if len(maths.DaysOfWeek) != 1 || maths.DaysOfWeek[0] != 1 {
		t.Fatalf("expected Monday as day 1, got %v", maths.DaysOfWeek)
	}
	if maths.Extended.Day != "Monday" || maths.Extended.Confidence != 0.9 {
		t.Fatalf("unexpected extended props: %+v", maths.Extended)
	}

	pe := cal.Events[1]
	if pe.DaysOfWeek[0] != 3 || pe.Color != "#00ff00" {
		t.Fatalf("unexpected PE event: %+v", pe)
	}

	lunch := cal.Events[2]
	if !lunch.Extended.Recurring {
		t.Fatal("lunch should be marked recurring")
	}
	if len(lunch.DaysOfWeek) != 5 || lunch.DaysOfWeek[0] != 1 || lunch.DaysOfWeek[4] != 5 {
		t.Fatalf("expected Monday-Friday, got %v", lunch.DaysOfWeek)
	}
	if lunch.StartTime != "12:00" || lunch.EndTime != "12:30" {
		t.Fatalf("unexpected lunch times: %+v", lunch)
	}

	choir := cal.Events[3]
	if !choir.Extended.Recurring || choir.Extended.Notes != "Tuesday and Thursday rehearsals" {
		t.Fatalf("unexpected choir extended props: %+v", choir.Extended)
	}
	if len(choir.DaysOfWeek) != 2 || choir.DaysOfWeek[0] != 2 || choir.DaysOfWeek[1] != 4 {
		t.Fatalf("expected Tuesday and Thursday, got %v", choir.DaysOfWeek)
	}
}

// A non-daily fixture whose notes name no recognisable day still shows
// up, on every school day, rather than vanishing from the projection.
func TestToFullCalendarKeepsUnlabelledRecurring(t *testing.T) {
	cal := ToFullCalendar(&models.ExtractedTimetable{
		RecurringBlocks: []models.RecurringBlock{
			{StartTime: 600, EndTime: 620, EventName: "Duty", Notes: "see office roster"},
		},
	})

	if len(cal.Events) != 1 {
		t.Fatalf("expected 1 event, got %+v", cal.Events)
	}
	duty := cal.Events[0]
	if len(duty.DaysOfWeek) != 5 || duty.DaysOfWeek[0] != 1 || duty.DaysOfWeek[4] != 5 {
		t.Fatalf("expected Monday-Friday fallback, got %v", duty.DaysOfWeek)
	}
	if duty.Extended.Notes != "see office roster" {
		t.Fatalf("notes not carried: %+v", duty.Extended)
	}
}

func TestToFullCalendarEmpty(t *testing.T) {
	cal := ToFullCalendar(&models.ExtractedTimetable{})
	if cal.Events == nil {
		t.Fatal("events must be an empty slice, not nil")
	}
	if cal.Metadata.EventCount != 0 {
		t.Fatalf("expected zero events, got %d", cal.Metadata.EventCount)
	}
}

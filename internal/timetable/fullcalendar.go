package timetable

import (
	"github.com/classtable/timetable-api/internal/models"
)

// CalendarEvent is one recurring weekly event in FullCalendar's
// recurring-event shape. Times are 24-hour HH:MM strings and DaysOfWeek
// uses FullCalendar's numbering (0 = Sunday .. 6 = Saturday).
type CalendarEvent struct {
	Title      string        `json:"title"`
	DaysOfWeek []int         `json:"daysOfWeek"`
	StartTime  string        `json:"startTime"`
	EndTime    string        `json:"endTime"`
	Color      string        `json:"color,omitempty"`
	Extended   ExtendedProps `json:"extendedProps"`
}

// ExtendedProps carries the extraction detail FullCalendar itself does
// not render.
type ExtendedProps struct {
	Day        string  `json:"day,omitempty"` // full English day name, empty for daily fixtures
	Notes      string  `json:"notes,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Recurring  bool    `json:"recurring"`
}

// CalendarMetadata describes the timetable the events came from.
type CalendarMetadata struct {
	JobID       string `json:"jobId,omitempty"`
	TeacherName string `json:"teacherName,omitempty"`
	ClassName   string `json:"className,omitempty"`
	Term        string `json:"term,omitempty"`
	Week        string `json:"week,omitempty"`
	EventCount  int    `json:"eventCount"`
}

// Calendar is the response body of the calendar projection endpoint.
type Calendar struct {
	Events   []CalendarEvent  `json:"events"`
	Metadata CalendarMetadata `json:"metadata"`
}

// fullCalendarDay maps school weekdays onto FullCalendar's day numbers.
var fullCalendarDay = map[models.Weekday]int{
	models.Monday:    1,
	models.Tuesday:   2,
	models.Wednesday: 3,
	models.Thursday:  4,
	models.Friday:    5,
}

// ToFullCalendar projects a timetable into FullCalendar recurring events.
// It is a pure transform over the stored result.
func ToFullCalendar(tt *models.ExtractedTimetable) *Calendar {
	cal := &Calendar{
		Events: make([]CalendarEvent, 0, len(tt.Blocks)+len(tt.RecurringBlocks)),
		Metadata: CalendarMetadata{
			JobID:       tt.JobID,
			TeacherName: tt.TeacherName,
			ClassName:   tt.ClassName,
			Term:        tt.Term,
			Week:        tt.Week,
		},
	}

	for _, b := range tt.Blocks {
		cal.Events = append(cal.Events, CalendarEvent{
			Title:      b.EventName,
			DaysOfWeek: []int{fullCalendarDay[b.Day]},
			StartTime:  models.MinutesToClock(b.StartTime),
			EndTime:    models.MinutesToClock(b.EndTime),
			Color:      b.Color,
			Extended: ExtendedProps{
				Day:        string(b.Day),
				Notes:      b.Notes,
				Confidence: b.Confidence,
			},
		})
	}

	for _, r := range tt.RecurringBlocks {
		days := recurringDays(r)
		nums := make([]int, 0, len(days))
		for _, d := range days {
			nums = append(nums, fullCalendarDay[d])
		}
		cal.Events = append(cal.Events, CalendarEvent{
			Title:      r.EventName,
			DaysOfWeek: nums,
			StartTime:  models.MinutesToClock(r.StartTime),
			EndTime:    models.MinutesToClock(r.EndTime),
			Extended: ExtendedProps{
				Notes:     r.Notes,
				Recurring: true,
			},
		})
	}

	cal.Metadata.EventCount = len(cal.Events)
	return cal
}

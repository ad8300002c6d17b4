package report

import (
	"strconv"
	"time"

	"github.com/ykvlv/timekeeper/internal/domain"
)

var (
	timesheetColumns = []Column{
		{Header: "start"},
		{Header: "finish"},
		{Header: "working time"},
	}
	dailyTimesheetColumns = []Column{
		{Header: "start"},
		{Header: "finish"},
		{Header: "break count", Align: AlignRight},
		{Header: "working time"},
	}
)

// RenderTimesheet renders one line per attendance with instants shown in loc.
// Unknown instants and durations of incomplete rows are left empty.
func RenderTimesheet(attendances []domain.Attendance, loc *time.Location) string {
	rows := make([][]string, 0, len(attendances))
	for i := range attendances {
		a := &attendances[i]
		working := ""
		if d, ok := domain.WorkingTime(a); ok {
			working = domain.FormatDuration(d)
		}
		rows = append(rows, []string{
			domain.Display(a.StartedAt, loc),
			domain.Display(a.FinishedAt, loc),
			working,
		})
	}
	return RenderTable(timesheetColumns, rows)
}

// RenderDailyTimesheet renders one line per day with instants shown in loc.
func RenderDailyTimesheet(days []domain.DailyAttendance, loc *time.Location) string {
	rows := make([][]string, 0, len(days))
	for i := range days {
		d := &days[i]
		rows = append(rows, []string{
			domain.Display(&d.StartedAt, loc),
			domain.Display(&d.FinishedAt, loc),
			strconv.Itoa(d.BreakCount),
			domain.FormatDuration(d.WorkingTime()),
		})
	}
	return RenderTable(dailyTimesheetColumns, rows)
}

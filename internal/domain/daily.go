package domain

import (
	"sort"
	"time"
)

// DailyAttendance aggregates one user's complete sessions that started on
// the same UTC calendar date.
type DailyAttendance struct {
	UserID             string
	Date               time.Time // UTC midnight
	StartedAt          time.Time // earliest start
	FinishedAt         time.Time // latest finish
	BreakCount         int       // sessions - 1
	WorkingTimeSeconds int64
	CreatedAt          time.Time
}

// WorkingTime returns the summed session time of the day.
func (d *DailyAttendance) WorkingTime() time.Duration {
	return time.Duration(d.WorkingTimeSeconds) * time.Second
}

type dayKey struct {
	user string
	date time.Time
}

// AggregateDaily groups complete attendances by user and UTC date of
// started_at. Incomplete rows are skipped. The result is ordered newest
// first by StartedAt.
func AggregateDaily(attendances []Attendance) []DailyAttendance {
	groups := make(map[dayKey]*DailyAttendance)
	for i := range attendances {
		a := &attendances[i]
		if !IsComplete(a) {
			continue
		}
		start := a.StartedAt.UTC()
		finish := a.FinishedAt.UTC()
		key := dayKey{user: a.UserID, date: UTCDate(start)}

		d, ok := groups[key]
		if !ok {
			// BreakCount starts at -1 so that a single session yields 0.
			d = &DailyAttendance{
				UserID:     a.UserID,
				Date:       key.date,
				StartedAt:  start,
				FinishedAt: finish,
				BreakCount: -1,
				CreatedAt:  a.CreatedAt.UTC(),
			}
			groups[key] = d
		}
		if start.Before(d.StartedAt) {
			d.StartedAt = start
		}
		if finish.After(d.FinishedAt) {
			d.FinishedAt = finish
		}
		if a.CreatedAt.Before(d.CreatedAt) {
			d.CreatedAt = a.CreatedAt.UTC()
		}
		d.BreakCount++
		d.WorkingTimeSeconds += finish.Unix() - start.Unix()
	}

	res := make([]DailyAttendance, 0, len(groups))
	for _, d := range groups {
		res = append(res, *d)
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].StartedAt.Equal(res[j].StartedAt) {
			return res[i].StartedAt.After(res[j].StartedAt)
		}
		return res[i].UserID < res[j].UserID
	})
	return res
}

// UTCDate truncates t to midnight of its UTC calendar date.
func UTCDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

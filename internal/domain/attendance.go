package domain

import "time"

// Attendance is one work session, or a one-sided fragment of it.
// Instants are UTC; nil means the event was never reported.
type Attendance struct {
	ID         int64
	UserID     string
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// IsComplete reports whether both instants are known.
func IsComplete(a *Attendance) bool {
	return a.StartedAt != nil && a.FinishedAt != nil
}

// WorkingTime returns the session length; ok is false for incomplete rows.
func WorkingTime(a *Attendance) (d time.Duration, ok bool) {
	if !IsComplete(a) {
		return 0, false
	}
	return a.FinishedAt.Sub(*a.StartedAt), true
}

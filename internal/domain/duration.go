package domain

import (
	"fmt"
	"time"
)

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped at 24, so
// 100 hours is "100:00:00". Fractions of a second are truncated.
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

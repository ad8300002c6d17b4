package domain

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// RatioPoint is one day of the working-time ratio series.
type RatioPoint struct {
	Date  time.Time // UTC midnight
	Ratio float64   // NaN when undefined
}

// WorkingTimeRatioSeries divides each day's worked seconds by the sample
// standard deviation of all of the user's daily totals. Dates are UTC and
// ascending. With fewer than two days, or identical totals, the deviation
// is zero or undefined and every ratio is NaN.
func WorkingTimeRatioSeries(days []DailyAttendance) []RatioPoint {
	if len(days) == 0 {
		return nil
	}
	sorted := make([]DailyAttendance, len(days))
	copy(sorted, days)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	values := make([]float64, len(sorted))
	for i, d := range sorted {
		values[i] = float64(d.WorkingTimeSeconds)
	}
	std := SampleStdDev(values)

	res := make([]RatioPoint, len(sorted))
	for i, d := range sorted {
		ratio := math.NaN()
		if !math.IsNaN(std) && std != 0 {
			ratio = values[i] / std
		}
		res[i] = RatioPoint{Date: d.Date, Ratio: ratio}
	}
	return res
}

// SampleStdDev returns the standard deviation with Bessel's correction,
// or NaN for fewer than two values.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return stat.StdDev(values, nil)
}

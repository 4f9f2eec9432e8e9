package aggregate

import "time"

// MonthPeriod returns [first instant of t's UTC month, first instant of the
// next month).
func MonthPeriod(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// DayRange turns an inclusive date range into the half-open instant range
// [startOfDay(from), startOfDay(to)+24h).
func DayRange(from, to time.Time) (time.Time, time.Time) {
	return startOfDay(from), startOfDay(to).AddDate(0, 0, 1)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonthPeriod(t *testing.T) {
	start, end := MonthPeriod(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestMonthPeriodNormalizesToUTC(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	start, _ := MonthPeriod(time.Date(2025, 7, 1, 3, 0, 0, 0, jakarta))
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestDayRangeCoversWholeLastDay(t *testing.T) {
	from, to := DayRange(
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), to)
}

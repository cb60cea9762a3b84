package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateID(t *testing.T) {
	assert.Equal(t, 20240615, DateID(time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, 20240101, DateID(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	// Timezone shifts must not change the calendar date encoding
	assert.Equal(t, 20240616, DateID(time.Date(2024, 6, 15, 23, 0, 0, 0, time.FixedZone("", -2*3600))))
}

func TestBuildDateRow(t *testing.T) {
	row := buildDateRow(time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)) // a Saturday
	assert.Equal(t, 20240615, row.DateID)
	assert.Equal(t, 2024, row.Year)
	assert.Equal(t, 6, row.Month)
	assert.Equal(t, 15, row.Day)
	assert.Equal(t, 2, row.Quarter)
	assert.Equal(t, 6, row.DayOfWeek)
	assert.True(t, row.IsWeekend)

	row = buildDateRow(time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)) // a Tuesday
	assert.Equal(t, 4, row.Quarter)
	assert.False(t, row.IsWeekend)
}

func TestBuildDateDimensionSpansRange(t *testing.T) {
	observed := []time.Time{
		time.Date(2024, 6, 17, 14, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 15, 23, 0, 0, 0, time.UTC),
	}

	rows := buildDateDimension(observed)
	require.Len(t, rows, 3)
	assert.Equal(t, 20240615, rows[0].DateID)
	assert.Equal(t, 20240616, rows[1].DateID)
	assert.Equal(t, 20240617, rows[2].DateID)
}

func TestBuildDateDimensionEmpty(t *testing.T) {
	assert.Empty(t, buildDateDimension(nil))
}

func TestDateFromIDRoundTrip(t *testing.T) {
	d := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, d, dateFromID(DateID(d)))
}

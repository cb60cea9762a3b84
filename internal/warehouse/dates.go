package warehouse

import (
	"time"

	"github.com/forecastlab/pm-warehouse/internal/warehouse/schema"
)

// DateID encodes a calendar date as YYYYMMDD.
func DateID(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// dateOnly truncates a timestamp to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// buildDateRow derives the calendar attributes for one date.
func buildDateRow(t time.Time) schema.DimDate {
	t = dateOnly(t)
	dow := int(t.Weekday())
	return schema.DimDate{
		DateID:    DateID(t),
		Date:      t,
		Year:      t.Year(),
		Month:     int(t.Month()),
		Day:       t.Day(),
		Quarter:   (int(t.Month())-1)/3 + 1,
		DayOfWeek: dow,
		IsWeekend: dow == 0 || dow == 6,
	}
}

// buildDateDimension generates one row per calendar day covering the
// inclusive min..max range of the observed dates. An empty input yields an
// empty dimension.
func buildDateDimension(observed []time.Time) []schema.DimDate {
	if len(observed) == 0 {
		return nil
	}

	min, max := dateOnly(observed[0]), dateOnly(observed[0])
	for _, t := range observed[1:] {
		d := dateOnly(t)
		if d.Before(min) {
			min = d
		}
		if d.After(max) {
			max = d
		}
	}

	var rows []schema.DimDate
	for d := min; !d.After(max); d = d.AddDate(0, 0, 1) {
		rows = append(rows, buildDateRow(d))
	}
	return rows
}

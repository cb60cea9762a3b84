package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastlab/pm-warehouse/internal/domain"
)

func f64ptr(f float64) *float64 { return &f }

func timeptr(t time.Time) *time.Time { return &t }

func TestAssignTagIDsIsDeterministic(t *testing.T) {
	a := AssignTagIDs([]string{"politics", "crypto", "sports"})
	b := AssignTagIDs([]string{"sports", "politics", "crypto"})
	assert.Equal(t, a, b)
	assert.Equal(t, map[string]int{"crypto": 1, "politics": 2, "sports": 3}, a)
}

func TestAssignTagIDsIgnoresDuplicates(t *testing.T) {
	ids := AssignTagIDs([]string{"a", "b", "a"})
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, ids)
}

func TestBuildRowsResolvesTagSurrogates(t *testing.T) {
	ds := &domain.Dataset{
		Events: []domain.Event{
			{ID: "E1", StartDate: time.Now(), Tags: []string{"politics"}},
		},
		Tags: []domain.Tag{{Name: "politics"}, {Name: "crypto"}},
	}

	rows := buildRows(ds)
	require.Len(t, rows.tags, 2)
	require.Len(t, rows.eventTags, 1)

	byName := make(map[string]int)
	for _, tag := range rows.tags {
		byName[tag.TagName] = tag.TagID
	}
	assert.Equal(t, byName["politics"], rows.eventTags[0].TagID)
}

func TestBuildRowsFiltersOrphans(t *testing.T) {
	ds := &domain.Dataset{
		Events: []domain.Event{{ID: "E1", StartDate: time.Now()}},
		Markets: []domain.Market{
			{ID: "M1", EventIDs: []string{"E1", "E404"}},
		},
	}

	rows := buildRows(ds)
	require.Len(t, rows.marketEvents, 1)
	assert.Equal(t, "E1", rows.marketEvents[0].EventID)
}

func TestBuildRowsMetricsFromObservedDatesOnly(t *testing.T) {
	observed := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	ds := &domain.Dataset{
		Events: []domain.Event{{ID: "E1", StartDate: observed}},
		Markets: []domain.Market{
			{ID: "M1", Active: true, Volume: f64ptr(100), Liquidity: f64ptr(50), UpdatedAt: timeptr(observed), EventIDs: []string{"E1"}},
			{ID: "M2", Closed: true, Volume: f64ptr(25), UpdatedAt: timeptr(observed), EventIDs: []string{"E1"}},
			{ID: "M3"}, // no activity date, no metric row
		},
	}

	rows := buildRows(ds)

	require.Len(t, rows.marketMetrics, 2)
	assert.Equal(t, 20240615, rows.marketMetrics[0].DateID)

	require.Len(t, rows.eventMetrics, 1)
	agg := rows.eventMetrics[0]
	assert.Equal(t, "E1", agg.EventID)
	assert.Equal(t, 20240615, agg.DateID)
	assert.Equal(t, 2, agg.TotalMarkets)
	assert.Equal(t, 1, agg.ActiveMarkets)
	assert.Equal(t, 1, agg.ClosedMarkets)
	require.NotNil(t, agg.TotalVolume)
	assert.Equal(t, 125.0, *agg.TotalVolume)
	require.NotNil(t, agg.TotalLiquidity)
	assert.Equal(t, 50.0, *agg.TotalLiquidity)

	// Date dimension covers exactly the observed day
	require.Len(t, rows.dates, 1)
	assert.Equal(t, 20240615, rows.dates[0].DateID)
}

func TestBuildRowsEncodesOutcomes(t *testing.T) {
	ds := &domain.Dataset{
		Markets: []domain.Market{
			{ID: "M1", Outcomes: []string{"YES", "NO"}},
			{ID: "M2"},
		},
	}

	rows := buildRows(ds)
	require.Len(t, rows.markets, 2)
	require.NotNil(t, rows.markets[0].Outcomes)
	assert.JSONEq(t, `["YES","NO"]`, *rows.markets[0].Outcomes)
	assert.Nil(t, rows.markets[1].Outcomes)
}

func TestMarketActivityDateFallsBackToCreatedAt(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := domain.Market{ID: "M1", CreatedAt: timeptr(created)}
	got := marketActivityDate(m)
	require.NotNil(t, got)
	assert.Equal(t, created, *got)

	assert.Nil(t, marketActivityDate(domain.Market{ID: "M2"}))
}

func TestAddNullable(t *testing.T) {
	assert.Nil(t, addNullable(nil, nil))
	got := addNullable(nil, f64ptr(2))
	require.NotNil(t, got)
	assert.Equal(t, 2.0, *got)
	got = addNullable(f64ptr(3), f64ptr(4))
	require.NotNil(t, got)
	assert.Equal(t, 7.0, *got)
}

package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastlab/pm-warehouse/internal/domain"
	"github.com/forecastlab/pm-warehouse/internal/mocks"
)

func reportClock(ctrl *gomock.Controller) *mocks.MockClock {
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)).AnyTimes()
	return clock
}

func sampleDataset() *domain.Dataset {
	return &domain.Dataset{
		Events: []domain.Event{
			{ID: "E1", Active: true, StartDate: time.Now(), Tags: []string{"politics"}},
			{ID: "E2", Closed: true, StartDate: time.Now(), Tags: []string{"politics", "sports"}},
		},
		Markets: []domain.Market{
			{ID: "M1", Active: true, EventIDs: []string{"E1"}},
			{ID: "M2", Active: true, EventIDs: []string{"E1"}},
			{ID: "M3", Closed: true, EventIDs: []string{"E2"}},
		},
		Tags: []domain.Tag{{Name: "politics"}, {Name: "sports"}},
		Counts: map[domain.EntityKind]domain.KindCounts{
			domain.KindEvents:  {Extracted: 3, Clean: 2, Rejected: 1},
			domain.KindMarkets: {Extracted: 4, Clean: 3, DedupDropped: 1},
		},
	}
}

func TestBuildReport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	b := NewBuilder(reportClock(ctrl))
	r := b.Build(sampleDataset(), nil, nil)

	assert.Equal(t, b.RunID(), r.RunID)
	assert.Len(t, r.RunID, 26) // ULID text form

	assert.Equal(t, 2, r.Kinds["events"].Clean)
	assert.Equal(t, 1, r.Kinds["events"].Rejected)
	assert.Equal(t, 1, r.Kinds["markets"].DedupDropped)

	assert.Equal(t, Distribution{Total: 2, Active: 1, Closed: 1, ActivePercent: 50}, r.Events)
	assert.Equal(t, 3, r.Markets.Total)
	assert.InDelta(t, 66.67, r.Markets.ActivePercent, 0.01)
}

func TestBuildReportRelationStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	r := NewBuilder(reportClock(ctrl)).Build(sampleDataset(), nil, nil)

	assert.Equal(t, 2, r.MarketsPerEvent.TotalParents)
	assert.Equal(t, 2, r.MarketsPerEvent.Max)
	assert.InDelta(t, 1.5, r.MarketsPerEvent.Average, 0.001)
	require.NotEmpty(t, r.MarketsPerEvent.Top)
	assert.Equal(t, RelationEntry{ID: "E1", Count: 2}, r.MarketsPerEvent.Top[0])

	assert.Equal(t, 2, r.EventsPerTag.TotalParents)
	assert.Equal(t, RelationEntry{ID: "politics", Count: 2}, r.EventsPerTag.Top[0])
}

func TestBuildReportEmptyDataset(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ds := &domain.Dataset{Counts: map[domain.EntityKind]domain.KindCounts{}}
	r := NewBuilder(reportClock(ctrl)).Build(ds, nil, nil)

	assert.Equal(t, 0, r.Events.Total)
	assert.Equal(t, float64(0), r.Events.ActivePercent)
	assert.Equal(t, 0, r.MarketsPerEvent.TotalParents)
}

func TestWriteReport(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	r := NewBuilder(reportClock(ctrl)).Build(sampleDataset(), nil, nil)

	path := filepath.Join(t.TempDir(), "out", "run_report.json")
	require.NoError(t, r.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.RunID, decoded.RunID)
	assert.Equal(t, r.Kinds, decoded.Kinds)
}

package extract_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forecastlab/pm-warehouse/internal/config"
	"github.com/forecastlab/pm-warehouse/internal/domain"
	"github.com/forecastlab/pm-warehouse/internal/extract"
	"github.com/forecastlab/pm-warehouse/internal/logger"
	"github.com/forecastlab/pm-warehouse/internal/mocks"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func testExtractorConfig(workers, pageSize int) config.ExtractorConfig {
	kc := config.KindConfig{Workers: workers, PageSize: pageSize}
	return config.ExtractorConfig{Events: kc, Markets: kc, Series: kc, Tags: kc}
}

func newTestClock(ctrl *gomock.Controller) *mocks.MockClock {
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Unix(1700000000, 0)).AnyTimes()
	clock.EXPECT().Since(gomock.Any()).Return(time.Second).AnyTimes()
	return clock
}

// fakeListing serves pages out of a fixed record slice the way the real API
// would: full pages until the tail, then a short or empty page.
func fakeListing(kind domain.EntityKind, total int) func(ctx context.Context, k domain.EntityKind, offset, limit int) ([]domain.RawRecord, error) {
	records := make([]domain.RawRecord, total)
	for i := range records {
		records[i] = domain.RawRecord{
			ID:      fmt.Sprintf("%d", i),
			Kind:    kind,
			Payload: []byte(fmt.Sprintf(`{"id":"%d"}`, i)),
		}
	}
	return func(ctx context.Context, k domain.EntityKind, offset, limit int) ([]domain.RawRecord, error) {
		if offset >= total {
			return nil, nil
		}
		end := offset + limit
		if end > total {
			end = total
		}
		return records[offset:end], nil
	}
}

func TestExtractKindPaginatesUntilShortPage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockGammaClient(ctrl)
	store := mocks.NewMockStagingStore(ctrl)

	// 25 records at page size 10: offsets 0, 10, 20 fetched, last page short
	client.EXPECT().
		FetchPage(gomock.Any(), domain.KindEvents, gomock.Any(), 10).
		DoAndReturn(fakeListing(domain.KindEvents, 25)).
		AnyTimes()

	store.EXPECT().
		Replace(gomock.Any(), domain.KindEvents, gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind domain.EntityKind, records []domain.RawRecord) error {
			require.Len(t, records, 25)
			// Page order preserved
			assert.Equal(t, "0", records[0].ID)
			assert.Equal(t, "24", records[24].ID)
			return nil
		})

	e := extract.NewExtractor(client, store, testExtractorConfig(1, 10), config.SourceConfig{}, newTestClock(ctrl))
	res, err := e.ExtractKind(context.Background(), domain.KindEvents)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Records)
	assert.Equal(t, 3, res.Pages)
}

func TestExtractKindConcurrentWorkers(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockGammaClient(ctrl)
	store := mocks.NewMockStagingStore(ctrl)

	client.EXPECT().
		FetchPage(gomock.Any(), domain.KindMarkets, gomock.Any(), 100).
		DoAndReturn(fakeListing(domain.KindMarkets, 1000)).
		AnyTimes()

	var staged []domain.RawRecord
	store.EXPECT().
		Replace(gomock.Any(), domain.KindMarkets, gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind domain.EntityKind, records []domain.RawRecord) error {
			staged = records
			return nil
		})

	e := extract.NewExtractor(client, store, testExtractorConfig(4, 100), config.SourceConfig{}, newTestClock(ctrl))
	res, err := e.ExtractKind(context.Background(), domain.KindMarkets)
	require.NoError(t, err)
	assert.Equal(t, 1000, res.Records)

	// Strided workers must still produce the full listing in page order
	require.Len(t, staged, 1000)
	for i, r := range staged {
		assert.Equal(t, fmt.Sprintf("%d", i), r.ID)
	}
}

func TestExtractKindFailureDoesNotStage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockGammaClient(ctrl)
	store := mocks.NewMockStagingStore(ctrl)

	fetchErr := errors.New("connection reset")
	listing := fakeListing(domain.KindSeries, 50)
	client.EXPECT().
		FetchPage(gomock.Any(), domain.KindSeries, gomock.Any(), 10).
		DoAndReturn(func(ctx context.Context, k domain.EntityKind, offset, limit int) ([]domain.RawRecord, error) {
			if offset == 20 {
				return nil, fetchErr
			}
			return listing(ctx, k, offset, limit)
		}).
		AnyTimes()

	// Replace must never be called on a failed extraction

	e := extract.NewExtractor(client, store, testExtractorConfig(1, 10), config.SourceConfig{}, newTestClock(ctrl))
	_, err := e.ExtractKind(context.Background(), domain.KindSeries)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetchErr)
}

func TestExtractAllIsolatesKindFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	client := mocks.NewMockGammaClient(ctrl)
	store := mocks.NewMockStagingStore(ctrl)

	for _, kind := range domain.AllKinds() {
		if kind == domain.KindTags {
			client.EXPECT().
				FetchPage(gomock.Any(), kind, gomock.Any(), 10).
				Return(nil, errors.New("upstream down")).
				AnyTimes()
			continue
		}
		client.EXPECT().
			FetchPage(gomock.Any(), kind, gomock.Any(), 10).
			DoAndReturn(fakeListing(kind, 15)).
			AnyTimes()
		store.EXPECT().Replace(gomock.Any(), kind, gomock.Any()).Return(nil)
	}

	e := extract.NewExtractor(client, store, testExtractorConfig(1, 10), config.SourceConfig{}, newTestClock(ctrl))
	results, err := e.ExtractAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrExtractionFailed)
	require.Len(t, results, 4)

	byKind := make(map[domain.EntityKind]extract.Result)
	for _, r := range results {
		byKind[r.Kind] = r
	}
	assert.Error(t, byKind[domain.KindTags].Err)
	assert.NoError(t, byKind[domain.KindEvents].Err)
	assert.Equal(t, 15, byKind[domain.KindMarkets].Records)
}

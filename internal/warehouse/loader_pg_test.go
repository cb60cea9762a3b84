package warehouse

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/forecastlab/pm-warehouse/internal/adapter"
	"github.com/forecastlab/pm-warehouse/internal/config"
	"github.com/forecastlab/pm-warehouse/internal/domain"
	"github.com/forecastlab/pm-warehouse/internal/logger"
	"github.com/forecastlab/pm-warehouse/internal/normalize"
	"github.com/forecastlab/pm-warehouse/internal/validate"
)

var (
	testDB      *gorm.DB
	pgContainer *postgres.PostgresContainer
)

// TestMain sets up the test database before running tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	// Initialize logger for tests
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}

	// Check if we should use an external database (for CI or local development)
	dbHost := os.Getenv("TEST_DB_HOST")
	dbPort := os.Getenv("TEST_DB_PORT")
	dbUser := os.Getenv("TEST_DB_USER")
	dbPassword := os.Getenv("TEST_DB_PASSWORD")
	dbName := os.Getenv("TEST_DB_NAME")

	var dsn string
	var err error

	if dbHost != "" {
		if dbPort == "" {
			dbPort = "5432"
		}
		if dbUser == "" {
			dbUser = "postgres"
		}
		if dbPassword == "" {
			dbPassword = "postgres"
		}
		if dbName == "" {
			dbName = "test_db"
		}

		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			dbHost, dbPort, dbUser, dbPassword, dbName)

		fmt.Printf("Using external database: %s:%s/%s\n", dbHost, dbPort, dbName)
	} else {
		pgContainer, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("test_db"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			fmt.Printf("Failed to start PostgreSQL container: %v\n", err)
			os.Exit(1)
		}

		dsn, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			fmt.Printf("Failed to get connection string: %v\n", err)
			terminateContainer(ctx)
			os.Exit(1)
		}

		fmt.Printf("Started PostgreSQL container\n")
	}

	testDB, err = gorm.Open(pgdriver.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		terminateContainer(ctx)
		os.Exit(1)
	}

	code := m.Run()

	terminateContainer(ctx)
	os.Exit(code)
}

func terminateContainer(ctx context.Context) {
	if pgContainer != nil {
		if err := pgContainer.Terminate(ctx); err != nil {
			fmt.Printf("Failed to terminate PostgreSQL container: %v\n", err)
		}
	}
}

func testLoaderConfig() config.LoaderConfig {
	return config.LoaderConfig{
		BatchSize:    500,
		RetryInitial: 10 * time.Millisecond,
		RetryElapsed: time.Second,
	}
}

func loadableDataset() *domain.Dataset {
	observed := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	later := time.Date(2024, 6, 17, 8, 0, 0, 0, time.UTC)
	return &domain.Dataset{
		Events: []domain.Event{
			{ID: "E1", Title: strp("Election"), StartDate: observed, Active: true, Tags: []string{"politics"}},
			{ID: "E2", Title: strp("Finals"), StartDate: later, Tags: []string{"sports"}},
		},
		Markets: []domain.Market{
			{ID: "M1", Question: strp("Who wins?"), Active: true, Outcomes: []string{"YES", "NO"},
				OutcomePrices: []float64{0.4, 0.6}, Volume: f64ptr(1000), Liquidity: f64ptr(100),
				UpdatedAt: timeptr(observed), EventIDs: []string{"E1"}},
			{ID: "M2", Question: strp("Overtime?"), Closed: true, Volume: f64ptr(50),
				UpdatedAt: timeptr(later), EventIDs: []string{"E2"}},
		},
		Series: []domain.Series{{ID: "S1", Title: strp("NBA")}},
		Tags:   []domain.Tag{{Name: "politics"}, {Name: "sports"}},
		Counts: map[domain.EntityKind]domain.KindCounts{},
	}
}

func strp(s string) *string { return &s }

func tableCount(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, testDB.Table(table).Count(&n).Error)
	return n
}

func TestLoadRebuildsWarehouse(t *testing.T) {
	loader := NewLoader(testDB, testLoaderConfig(), adapter.NewClock())

	report, err := loader.Load(context.Background(), loadableDataset(), nil)
	require.NoError(t, err)
	require.False(t, report.Failed(), "errors: %v", report.Errors)

	assert.Equal(t, 2, report.RowsPerTable["dim_event"])
	assert.Equal(t, 2, report.RowsPerTable["dim_market"])
	assert.Equal(t, 1, report.RowsPerTable["dim_series"])
	assert.Equal(t, 2, report.RowsPerTable["dim_tag"])
	assert.Equal(t, 2, report.RowsPerTable["fact_event_tag"])
	assert.Equal(t, 2, report.RowsPerTable["fact_market_event"])
	assert.Equal(t, 2, report.RowsPerTable["fact_market_metrics"])
	assert.Equal(t, 2, report.RowsPerTable["fact_event_metrics"])
	// June 15 through June 17 inclusive
	assert.Equal(t, 3, report.RowsPerTable["dim_date"])

	assert.Equal(t, int64(2), tableCount(t, "dim_event"))
	assert.Equal(t, int64(3), tableCount(t, "dim_date"))
}

func TestLoadIsIdempotent(t *testing.T) {
	loader := NewLoader(testDB, testLoaderConfig(), adapter.NewClock())
	ds := loadableDataset()

	first, err := loader.Load(context.Background(), ds, nil)
	require.NoError(t, err)
	second, err := loader.Load(context.Background(), ds, nil)
	require.NoError(t, err)

	assert.Equal(t, first.RowsPerTable, second.RowsPerTable)
	assert.Equal(t, int64(2), tableCount(t, "dim_market"))
}

func TestLoadSkipsBlockedRelations(t *testing.T) {
	loader := NewLoader(testDB, testLoaderConfig(), adapter.NewClock())

	blocked := map[string]bool{
		"dim_market":          true,
		"fact_market_event":   true,
		"fact_market_metrics": true,
	}
	report, err := loader.Load(context.Background(), loadableDataset(), blocked)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"dim_market", "fact_market_event", "fact_market_metrics"}, report.Skipped)
	assert.NotContains(t, report.RowsPerTable, "dim_market")
	assert.Equal(t, int64(0), tableCount(t, "dim_market"))
	// Unaffected relations still load
	assert.Equal(t, int64(2), tableCount(t, "dim_event"))
}

func TestLoadResolvesTagSurrogatesInBridge(t *testing.T) {
	loader := NewLoader(testDB, testLoaderConfig(), adapter.NewClock())

	_, err := loader.Load(context.Background(), loadableDataset(), nil)
	require.NoError(t, err)

	type bridgeRow struct {
		EventID string
		TagName string
	}
	var rows []bridgeRow
	require.NoError(t, testDB.
		Table("fact_event_tag").
		Select("fact_event_tag.event_id, dim_tag.tag_name").
		Joins("JOIN dim_tag ON dim_tag.tag_id = fact_event_tag.tag_id").
		Order("fact_event_tag.event_id").
		Scan(&rows).Error)

	require.Len(t, rows, 2)
	assert.Equal(t, bridgeRow{EventID: "E1", TagName: "politics"}, rows[0])
	assert.Equal(t, bridgeRow{EventID: "E2", TagName: "sports"}, rows[1])
}

func TestLoadFromRawRecords(t *testing.T) {
	rawEvent := func(id, payload string) domain.RawRecord {
		return domain.RawRecord{ID: id, Kind: domain.KindEvents, Payload: []byte(payload)}
	}
	raw := map[domain.EntityKind][]domain.RawRecord{
		domain.KindEvents: {
			rawEvent("E1", `{"id": "E1", "title": "Election", "startDate": "2024-06-15T00:00:00Z"}`),
			// Duplicate identity with richer data wins dedup
			rawEvent("E1", `{"id": "E1", "title": "Election", "category": "Politics", "startDate": "2024-06-15T00:00:00Z"}`),
			// Malformed timestamp in a non-critical field nulls the field only
			rawEvent("E2", `{"id": "E2", "title": "Finals", "startDate": "2024-06-16T00:00:00Z", "endDate": "not a date"}`),
			// Malformed primary temporal anchor rejects the row
			rawEvent("E3", `{"id": "E3", "title": "Broken", "startDate": "never"}`),
		},
		domain.KindMarkets: {
			{ID: "M1", Kind: domain.KindMarkets, Payload: []byte(`{"id": "M1", "question": "Who wins?", "updatedAt": "2024-06-15T12:00:00Z", "events": ["E1"]}`)},
		},
	}

	ds := normalize.Dataset(raw)
	require.Len(t, ds.Events, 2)
	assert.Equal(t, 1, ds.Counts[domain.KindEvents].Rejected)

	validation := validate.NewValidator().Validate(ds)

	loader := NewLoader(testDB, testLoaderConfig(), adapter.NewClock())
	report, err := loader.Load(context.Background(), ds, validation.BlockedRelations())
	require.NoError(t, err)
	require.False(t, report.Failed(), "errors: %v", report.Errors)

	assert.Equal(t, 2, report.RowsPerTable["dim_event"])
	assert.Equal(t, int64(2), tableCount(t, "dim_event"))

	var row struct{ Category *string }
	require.NoError(t, testDB.Table("dim_event").Where("event_id = ?", "E1").
		Select("category").Scan(&row).Error)
	require.NotNil(t, row.Category)
	assert.Equal(t, "Politics", *row.Category)
}

// Package warehouse rebuilds the dimensional store from a normalized dataset.
// Each load drops and recreates the nine target tables, resolves tag
// surrogate keys, constructs fact rows from observed dates only and bulk
// writes everything in retried batches.
package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/forecastlab/pm-warehouse/internal/adapter"
	"github.com/forecastlab/pm-warehouse/internal/config"
	"github.com/forecastlab/pm-warehouse/internal/domain"
	"github.com/forecastlab/pm-warehouse/internal/logger"
	"github.com/forecastlab/pm-warehouse/internal/warehouse/schema"
)

// LoadReport summarizes one load: rows written per table, tables skipped
// because validation blocked them, and per-table fatal errors. Tables that
// committed before a later table failed are not rolled back; the report is
// the only record of that partial state.
type LoadReport struct {
	RowsPerTable map[string]int `json:"rows_per_table"`
	Skipped      []string       `json:"skipped,omitempty"`
	Errors       []string       `json:"errors,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

// Failed reports whether any table's load was aborted.
func (r *LoadReport) Failed() bool {
	return len(r.Errors) > 0
}

// Loader writes a normalized dataset into the warehouse
//
//go:generate mockgen -source=loader.go -destination=../mocks/loader.go -package=mocks
type Loader interface {
	// Load rebuilds the warehouse from the dataset, skipping blocked relations
	Load(ctx context.Context, ds *domain.Dataset, blocked map[string]bool) (*LoadReport, error)
}

type pgLoader struct {
	db     *gorm.DB
	config config.LoaderConfig
	clock  adapter.Clock
}

// NewLoader creates a loader over an open warehouse connection.
func NewLoader(db *gorm.DB, cfg config.LoaderConfig, clock adapter.Clock) Loader {
	return &pgLoader{db: db, config: cfg, clock: clock}
}

// Load rebuilds the warehouse. Schema preparation is transactional: on
// failure the previous schema stays intact. Table loads after that are not
// atomic across tables; a table whose batches exhaust retries is reported
// fatal while committed sibling tables remain.
func (l *pgLoader) Load(ctx context.Context, ds *domain.Dataset, blocked map[string]bool) (*LoadReport, error) {
	startTime := l.clock.Now()
	report := &LoadReport{RowsPerTable: make(map[string]int)}

	if err := l.prepareSchema(ctx); err != nil {
		return report, fmt.Errorf("schema preparation failed: %w", err)
	}

	rows := buildRows(ds)

	tables := []struct {
		name   string
		fields int
		load   func() (int, error)
	}{
		{"dim_date", 8, func() (int, error) { return insertBatches(ctx, l, "dim_date", rows.dates, 8) }},
		{"dim_event", 14, func() (int, error) { return insertBatches(ctx, l, "dim_event", rows.events, 14) }},
		{"dim_market", 14, func() (int, error) { return insertBatches(ctx, l, "dim_market", rows.markets, 14) }},
		{"dim_series", 4, func() (int, error) { return insertBatches(ctx, l, "dim_series", rows.series, 4) }},
		{"dim_tag", 2, func() (int, error) { return insertBatches(ctx, l, "dim_tag", rows.tags, 2) }},
		{"fact_event_tag", 3, func() (int, error) { return insertBatches(ctx, l, "fact_event_tag", rows.eventTags, 3) }},
		{"fact_market_event", 3, func() (int, error) { return insertBatches(ctx, l, "fact_market_event", rows.marketEvents, 3) }},
		{"fact_market_metrics", 6, func() (int, error) { return insertBatches(ctx, l, "fact_market_metrics", rows.marketMetrics, 6) }},
		{"fact_event_metrics", 8, func() (int, error) { return insertBatches(ctx, l, "fact_event_metrics", rows.eventMetrics, 8) }},
	}

	for _, table := range tables {
		if blocked[table.name] {
			report.Skipped = append(report.Skipped, table.name)
			logger.WarnCtx(ctx, "Skipping blocked relation", zap.String("table", table.name))
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", table.name, err))
			break
		}
		n, err := table.load()
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", table.name, err))
			logger.ErrorCtx(ctx, fmt.Errorf("table load aborted: %s: %w", table.name, err))
			continue
		}
		report.RowsPerTable[table.name] = n
	}

	l.verifyCounts(ctx, report)

	report.Duration = l.clock.Since(startTime)
	logger.InfoCtx(ctx, "Warehouse load completed",
		zap.Duration("duration", report.Duration),
		zap.Int("tables_loaded", len(report.RowsPerTable)),
		zap.Int("tables_skipped", len(report.Skipped)),
		zap.Int("tables_failed", len(report.Errors)),
	)
	return report, nil
}

// prepareSchema drops and recreates all nine tables inside one transaction
// so a failure leaves the previous schema untouched.
func (l *pgLoader) prepareSchema(ctx context.Context) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		models := schema.AllModels()
		// Drop facts before the dimensions they reference
		for i := len(models) - 1; i >= 0; i-- {
			if err := tx.Migrator().DropTable(models[i]); err != nil {
				return fmt.Errorf("failed to drop table: %w", err)
			}
		}
		if err := tx.Migrator().AutoMigrate(models...); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
		return nil
	})
}

// insertBatches writes rows in bounded chunks, retrying each chunk with
// backoff. Committed chunks are never re-sent; exhausting retries on one
// chunk aborts the remainder of the table.
func insertBatches[T any](ctx context.Context, l *pgLoader, table string, rows []T, fieldsPerRow int) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batchSize := l.config.BatchSize
	if safe := calculateSafeBatchSize(len(rows), fieldsPerRow); safe < batchSize {
		batchSize = safe
	}
	if batchSize < 1 {
		batchSize = 1
	}

	written := 0
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		operation := func() error {
			return l.db.WithContext(ctx).Create(chunk).Error
		}
		notify := func(err error, next time.Duration) {
			logger.WarnCtx(ctx, "Batch write failed, retrying",
				zap.String("table", table),
				zap.Int("offset", start),
				zap.Duration("next_attempt_in", next),
				zap.Error(err),
			)
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = l.config.RetryInitial
		b.MaxElapsedTime = l.config.RetryElapsed

		if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
			return written, fmt.Errorf("batch at offset %d: %w", start, err)
		}
		written += len(chunk)
	}
	return written, nil
}

// calculateSafeBatchSize bounds a bulk insert so it stays under PostgreSQL's
// 65535 extended-protocol parameter limit, with headroom for clause overhead.
func calculateSafeBatchSize(totalRecords, fieldsPerRecord int) int {
	const maxParams = 65535
	const headroom = 1000

	safe := (maxParams - headroom) / fieldsPerRecord
	if safe < 1 {
		safe = 1
	}
	if safe > totalRecords {
		return totalRecords
	}
	return safe
}

// verifyCounts re-reads row counts per loaded table and flags any that do
// not match what was written.
func (l *pgLoader) verifyCounts(ctx context.Context, report *LoadReport) {
	for table, expected := range report.RowsPerTable {
		var got int64
		if err := l.db.WithContext(ctx).Table(table).Count(&got).Error; err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: count verification failed: %v", table, err))
			continue
		}
		if int(got) != expected {
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: row count mismatch: wrote %d, table has %d", table, expected, got))
		}
	}
}

// tableRows is everything a load writes, fully constructed before the first
// insert so a failure cannot leave derived rows half-built.
type tableRows struct {
	dates         []schema.DimDate
	events        []schema.DimEvent
	markets       []schema.DimMarket
	series        []schema.DimSeries
	tags          []schema.DimTag
	eventTags     []schema.FactEventTag
	marketEvents  []schema.FactMarketEvent
	marketMetrics []schema.FactMarketMetrics
	eventMetrics  []schema.FactEventMetrics
}

func buildRows(ds *domain.Dataset) tableRows {
	var rows tableRows

	eventIDs := make(map[string]struct{}, len(ds.Events))
	for _, e := range ds.Events {
		eventIDs[e.ID] = struct{}{}
		rows.events = append(rows.events, schema.DimEvent{
			EventID:      e.ID,
			Title:        e.Title,
			Description:  e.Description,
			Category:     e.Category,
			Subcategory:  e.Subcategory,
			Ticker:       e.Ticker,
			Slug:         e.Slug,
			IsActive:     e.Active,
			IsClosed:     e.Closed,
			IsFeatured:   e.Featured,
			StartDate:    e.StartDate,
			EndDate:      e.EndDate,
			CreationDate: e.CreationDate,
		})
	}

	for _, m := range ds.Markets {
		rows.markets = append(rows.markets, schema.DimMarket{
			MarketID:    m.ID,
			Question:    m.Question,
			MarketType:  m.MarketType,
			Slug:        m.Slug,
			Category:    m.Category,
			Description: m.Description,
			IsActive:    m.Active,
			IsClosed:    m.Closed,
			IsFeatured:  m.Featured,
			Outcomes:    encodeOutcomes(m.Outcomes),
			EndDate:     m.EndDate,
			CreatedAt:   m.CreatedAt,
			UpdatedAt:   m.UpdatedAt,
		})
	}

	for _, s := range ds.Series {
		rows.series = append(rows.series, schema.DimSeries{
			SeriesID:    s.ID,
			Slug:        s.Slug,
			Title:       s.Title,
			Description: s.Description,
		})
	}

	// Tag surrogate keys are assigned here and retained for bridge rows.
	// Sorting makes ids stable across runs over the same input.
	tagIDs := AssignTagIDs(ds.TagNames())
	names := make([]string, 0, len(tagIDs))
	for name := range tagIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows.tags = append(rows.tags, schema.DimTag{TagID: tagIDs[name], TagName: name})
	}

	for _, et := range ds.EventTags() {
		tagID, ok := tagIDs[et.TagName]
		if !ok {
			continue
		}
		if _, ok := eventIDs[et.EventID]; !ok {
			continue
		}
		rows.eventTags = append(rows.eventTags, schema.FactEventTag{EventID: et.EventID, TagID: tagID})
	}

	// Orphaned references never reach the warehouse even in fail-soft mode
	for _, me := range ds.MarketEvents() {
		if _, ok := eventIDs[me.EventID]; !ok {
			continue
		}
		rows.marketEvents = append(rows.marketEvents, schema.FactMarketEvent{MarketID: me.MarketID, EventID: me.EventID})
	}

	rows.marketMetrics, rows.eventMetrics = buildMetricFacts(ds, eventIDs)

	var observed []time.Time
	for _, f := range rows.marketMetrics {
		observed = append(observed, dateFromID(f.DateID))
	}
	for _, f := range rows.eventMetrics {
		observed = append(observed, dateFromID(f.DateID))
	}
	rows.dates = buildDateDimension(observed)

	return rows
}

// AssignTagIDs maps each tag name to its surrogate id. Names are sorted so
// identical input always produces identical ids.
func AssignTagIDs(names []string) map[string]int {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)

	ids := make(map[string]int, len(sorted))
	next := 1
	for _, name := range sorted {
		if _, ok := ids[name]; ok {
			continue
		}
		ids[name] = next
		next++
	}
	return ids
}

// buildMetricFacts emits one market metric row per market with an observed
// activity date, and per-event aggregates over child markets grouped by that
// same date. Facts are never fabricated for dates without an observation.
func buildMetricFacts(ds *domain.Dataset, eventIDs map[string]struct{}) ([]schema.FactMarketMetrics, []schema.FactEventMetrics) {
	var marketMetrics []schema.FactMarketMetrics

	type eventDateKey struct {
		eventID string
		dateID  int
	}
	type aggregate struct {
		total     int
		active    int
		closed    int
		volume    *float64
		liquidity *float64
	}
	aggregates := make(map[eventDateKey]*aggregate)
	var aggOrder []eventDateKey

	for _, m := range ds.Markets {
		observedAt := marketActivityDate(m)
		if observedAt == nil {
			continue
		}
		dateID := DateID(*observedAt)

		marketMetrics = append(marketMetrics, schema.FactMarketMetrics{
			MarketID:       m.ID,
			DateID:         dateID,
			Volume:         m.Volume,
			Liquidity:      m.Liquidity,
			LastTradePrice: m.LastTradePrice,
			Spread:         m.Spread,
		})

		for _, eventID := range m.EventIDs {
			if _, ok := eventIDs[eventID]; !ok {
				continue
			}
			key := eventDateKey{eventID: eventID, dateID: dateID}
			agg, ok := aggregates[key]
			if !ok {
				agg = &aggregate{}
				aggregates[key] = agg
				aggOrder = append(aggOrder, key)
			}
			agg.total++
			if m.Active {
				agg.active++
			}
			if m.Closed {
				agg.closed++
			}
			agg.volume = addNullable(agg.volume, m.Volume)
			agg.liquidity = addNullable(agg.liquidity, m.Liquidity)
		}
	}

	eventMetrics := make([]schema.FactEventMetrics, 0, len(aggOrder))
	for _, key := range aggOrder {
		agg := aggregates[key]
		eventMetrics = append(eventMetrics, schema.FactEventMetrics{
			EventID:        key.eventID,
			DateID:         key.dateID,
			TotalMarkets:   agg.total,
			ActiveMarkets:  agg.active,
			ClosedMarkets:  agg.closed,
			TotalVolume:    agg.volume,
			TotalLiquidity: agg.liquidity,
		})
	}
	return marketMetrics, eventMetrics
}

// marketActivityDate picks the date a market's metrics were observed on.
func marketActivityDate(m domain.Market) *time.Time {
	if m.UpdatedAt != nil {
		return m.UpdatedAt
	}
	return m.CreatedAt
}

func addNullable(acc, v *float64) *float64 {
	if v == nil {
		return acc
	}
	if acc == nil {
		sum := *v
		return &sum
	}
	sum := *acc + *v
	return &sum
}

func dateFromID(dateID int) time.Time {
	return time.Date(dateID/10000, time.Month(dateID/100%100), dateID%100, 0, 0, 0, 0, time.UTC)
}

func encodeOutcomes(outcomes []string) *string {
	if len(outcomes) == 0 {
		return nil
	}
	b, err := json.Marshal(outcomes)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

// Package extract pulls paginated entity listings from the source API and
// commits each kind to staging as a single unit.
package extract

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/forecastlab/pm-warehouse/internal/adapter"
	"github.com/forecastlab/pm-warehouse/internal/config"
	"github.com/forecastlab/pm-warehouse/internal/domain"
	"github.com/forecastlab/pm-warehouse/internal/gamma"
	"github.com/forecastlab/pm-warehouse/internal/logger"
	"github.com/forecastlab/pm-warehouse/internal/staging"
)

// Result summarizes one kind's extraction outcome
type Result struct {
	Kind    domain.EntityKind
	Records int
	Pages   int
	Err     error
}

// Extractor drains the source API into staging
//
//go:generate mockgen -source=extractor.go -destination=../mocks/extractor.go -package=mocks
type Extractor interface {
	// ExtractKind extracts one entity kind and replaces its staging partition
	ExtractKind(ctx context.Context, kind domain.EntityKind) (Result, error)
	// ExtractAll extracts every entity kind, isolating per-kind failures
	ExtractAll(ctx context.Context) ([]Result, error)
}

type extractor struct {
	client       gamma.Client
	store        staging.Store
	config       config.ExtractorConfig
	pauseBetween time.Duration
	clock        adapter.Clock
}

// NewExtractor creates an extractor over the given source client and staging store
func NewExtractor(client gamma.Client, store staging.Store, cfg config.ExtractorConfig, source config.SourceConfig, clock adapter.Clock) Extractor {
	return &extractor{
		client:       client,
		store:        store,
		config:       cfg,
		pauseBetween: source.PauseBetween,
		clock:        clock,
	}
}

// ExtractAll extracts every entity kind. A failed kind is reported in its
// Result and does not stop the remaining kinds; the returned error is non-nil
// when at least one kind failed.
func (e *extractor) ExtractAll(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(domain.AllKinds()))
	var failed int
	for _, kind := range domain.AllKinds() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.ExtractKind(ctx, kind)
		if err != nil {
			failed++
			logger.ErrorCtx(ctx, fmt.Errorf("extraction failed for %s: %w", kind, err))
		}
		results = append(results, res)
	}
	if failed > 0 {
		return results, fmt.Errorf("%w: %d of %d kinds failed", domain.ErrExtractionFailed, failed, len(results))
	}
	return results, nil
}

// ExtractKind walks the kind's listing with a worker pool. Worker w fetches
// offsets w, w+N, w+2N, ... (in pages) and stops at the first short or empty
// page. Staging is only replaced when every fetched page succeeded, so a
// partial extraction never clobbers a previous good partition.
func (e *extractor) ExtractKind(ctx context.Context, kind domain.EntityKind) (Result, error) {
	kc := e.config.ForKind(kind)
	startTime := e.clock.Now()

	logger.InfoCtx(ctx, "Starting extraction",
		zap.String("kind", string(kind)),
		zap.Int("workers", kc.Workers),
		zap.Int("page_size", kc.PageSize),
	)

	kindCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := pond.NewPool(kc.Workers, pond.WithContext(kindCtx))

	var (
		mu       sync.Mutex
		pages    = make(map[int][]domain.RawRecord)
		firstErr error
	)

	for w := 0; w < kc.Workers; w++ {
		pool.Submit(func() {
			for page := w; ; page += kc.Workers {
				if kindCtx.Err() != nil {
					return
				}
				offset := page * kc.PageSize
				records, err := e.client.FetchPage(kindCtx, kind, offset, kc.PageSize)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("page at offset %d: %w", offset, err)
					}
					mu.Unlock()
					cancel()
					return
				}
				if len(records) > 0 {
					mu.Lock()
					pages[page] = records
					mu.Unlock()
				}
				// A short page means the listing is exhausted past this point
				if len(records) < kc.PageSize {
					return
				}
				e.sleep(kindCtx)
			}
		})
	}
	pool.StopAndWait()

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return Result{Kind: kind, Err: firstErr}, firstErr
	}

	// Flatten in page order so downstream dedup sees a deterministic sequence
	pageNums := make([]int, 0, len(pages))
	for p := range pages {
		pageNums = append(pageNums, p)
	}
	sort.Ints(pageNums)

	var records []domain.RawRecord
	for _, p := range pageNums {
		records = append(records, pages[p]...)
	}

	if err := e.store.Replace(ctx, kind, records); err != nil {
		err = fmt.Errorf("failed to stage %s: %w", kind, err)
		return Result{Kind: kind, Err: err}, err
	}

	res := Result{Kind: kind, Records: len(records), Pages: len(pageNums)}
	logger.InfoCtx(ctx, "Extraction completed",
		zap.String("kind", string(kind)),
		zap.Int("records", res.Records),
		zap.Int("pages", res.Pages),
		zap.Duration("duration", e.clock.Since(startTime)),
	)
	return res, nil
}

// sleep spaces out consecutive fetches by the same worker to stay polite to
// the source API. Interruptible by context cancellation.
func (e *extractor) sleep(ctx context.Context) {
	if e.pauseBetween <= 0 {
		return
	}
	select {
	case <-e.clock.After(e.pauseBetween):
	case <-ctx.Done():
	}
}

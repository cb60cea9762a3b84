// Package pipeline wires the run end to end: extract into staging, normalize,
// validate, load into the warehouse and write the run report. Stages are
// strictly sequential; each consumes the whole output of the previous one.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/forecastlab/pm-warehouse/internal/config"
	"github.com/forecastlab/pm-warehouse/internal/domain"
	"github.com/forecastlab/pm-warehouse/internal/extract"
	"github.com/forecastlab/pm-warehouse/internal/logger"
	"github.com/forecastlab/pm-warehouse/internal/normalize"
	"github.com/forecastlab/pm-warehouse/internal/report"
	"github.com/forecastlab/pm-warehouse/internal/staging"
	"github.com/forecastlab/pm-warehouse/internal/validate"
	"github.com/forecastlab/pm-warehouse/internal/warehouse"
)

// Options tunes one run.
type Options struct {
	// SkipExtract reuses the existing staging partitions instead of hitting
	// the source API
	SkipExtract bool
}

// Pipeline runs the full extract-transform-validate-load sequence.
type Pipeline struct {
	extractor extract.Extractor
	store     staging.Store
	validator *validate.Validator
	loader    warehouse.Loader
	reporter  *report.Builder
	config    config.PipelineConfig
}

// New assembles a pipeline from its stages.
func New(
	extractor extract.Extractor,
	store staging.Store,
	validator *validate.Validator,
	loader warehouse.Loader,
	reporter *report.Builder,
	cfg config.PipelineConfig,
) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		store:     store,
		validator: validator,
		loader:    loader,
		reporter:  reporter,
		config:    cfg,
	}
}

// Run executes one pipeline run. The run report is written even when a stage
// fails, so a failed run still surfaces its counts and findings.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*report.RunReport, error) {
	logger.InfoCtx(ctx, "Pipeline run starting",
		zap.String("run_id", p.reporter.RunID()),
		zap.Bool("skip_extract", opts.SkipExtract),
	)

	if opts.SkipExtract {
		if err := p.extractMissing(ctx); err != nil {
			return nil, err
		}
	} else {
		if _, err := p.extractor.ExtractAll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			// Kinds that failed keep their previous staging partition, if
			// any; validation decides whether what remains is loadable.
			logger.WarnCtx(ctx, "Extraction incomplete, continuing with staged data", zap.Error(err))
		}
	}

	raw, err := p.scanStaging(ctx)
	if err != nil {
		return nil, err
	}

	ds := normalize.Dataset(raw)
	for kind, counts := range ds.Counts {
		logger.InfoCtx(ctx, "Normalized kind",
			zap.String("kind", string(kind)),
			zap.Int("extracted", counts.Extracted),
			zap.Int("clean", counts.Clean),
			zap.Int("rejected", counts.Rejected),
			zap.Int("dedup_dropped", counts.DedupDropped),
		)
	}

	validation := p.validator.Validate(ds)
	for _, f := range validation.Findings {
		logger.WarnCtx(ctx, "Validation finding",
			zap.String("severity", string(f.Severity)),
			zap.String("entity", f.Entity),
			zap.String("message", f.Message),
			zap.Int("count", f.Count),
		)
	}

	if len(ds.Events) == 0 && len(ds.Markets) == 0 {
		r := p.finish(ctx, ds, validation, nil)
		return r, fmt.Errorf("%w: nothing staged for events or markets", domain.ErrNoData)
	}

	if p.config.Validation.FailFast && !validation.Passed {
		r := p.finish(ctx, ds, validation, nil)
		return r, fmt.Errorf("%w: %d fatal findings", domain.ErrValidationFailed, len(validation.FatalFindings()))
	}

	loadReport, err := p.loader.Load(ctx, ds, validation.BlockedRelations())
	if err != nil {
		r := p.finish(ctx, ds, validation, loadReport)
		return r, fmt.Errorf("load failed: %w", err)
	}

	r := p.finish(ctx, ds, validation, loadReport)
	if loadReport.Failed() {
		return r, fmt.Errorf("load completed with per-table failures: %v", loadReport.Errors)
	}
	return r, nil
}

// extractMissing backfills staging partitions that do not exist yet. A
// skip-extract run reuses whatever is already staged, but a kind that was
// never extracted has nothing to reuse, so it is fetched anyway.
func (p *Pipeline) extractMissing(ctx context.Context) error {
	for _, kind := range domain.AllKinds() {
		if p.store.Exists(kind) {
			continue
		}
		logger.InfoCtx(ctx, "Staging partition absent, extracting despite skip",
			zap.String("kind", string(kind)),
		)
		if _, err := p.extractor.ExtractKind(ctx, kind); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.WarnCtx(ctx, "Backfill extraction failed, continuing",
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// scanStaging reads every staged partition. A missing partition is logged
// and treated as empty; the validator turns that into a finding.
func (p *Pipeline) scanStaging(ctx context.Context) (map[domain.EntityKind][]domain.RawRecord, error) {
	raw := make(map[domain.EntityKind][]domain.RawRecord, len(domain.AllKinds()))
	for _, kind := range domain.AllKinds() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := p.store.Scan(ctx, kind)
		if err != nil {
			if errors.Is(err, domain.ErrStagingPartitionMissing) {
				logger.WarnCtx(ctx, "Staging partition missing", zap.String("kind", string(kind)))
				continue
			}
			return nil, fmt.Errorf("failed to scan staging for %s: %w", kind, err)
		}
		raw[kind] = records
	}
	return raw, nil
}

// finish builds the run report and writes it to the configured path. Report
// write failures are logged, never returned: they must not mask the run's
// own outcome.
func (p *Pipeline) finish(ctx context.Context, ds *domain.Dataset, validation *validate.Report, load *warehouse.LoadReport) *report.RunReport {
	r := p.reporter.Build(ds, validation, load)
	if err := r.Write(p.config.Report.Path); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("failed to write run report: %w", err))
	} else {
		logger.InfoCtx(ctx, "Run report written",
			zap.String("path", p.config.Report.Path),
			zap.String("run_id", r.RunID),
		)
	}
	return r
}

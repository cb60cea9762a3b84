package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/forecastlab/pm-warehouse/internal/adapter"
	"github.com/forecastlab/pm-warehouse/internal/config"
	"github.com/forecastlab/pm-warehouse/internal/extract"
	"github.com/forecastlab/pm-warehouse/internal/gamma"
	"github.com/forecastlab/pm-warehouse/internal/logger"
	"github.com/forecastlab/pm-warehouse/internal/pipeline"
	"github.com/forecastlab/pm-warehouse/internal/report"
	"github.com/forecastlab/pm-warehouse/internal/staging"
	"github.com/forecastlab/pm-warehouse/internal/validate"
	"github.com/forecastlab/pm-warehouse/internal/warehouse"
)

var (
	configFile  = flag.String("config", "", "Path to configuration file (default: config.yaml)")
	envPath     = flag.String("env", "", "Path to .env file (default: .env in repo root)")
	skipExtract = flag.Bool("skip-extract", false, "Skip extraction and load from existing staging files")
)

func main() {
	flag.Parse()
	ctx := context.Background()

	// Change to repository root for consistent relative paths
	config.ChdirRepoRoot()

	// Load configuration
	cfg, err := config.LoadPipelineConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Service:   "pipeline",
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Pipeline")

	// Connect to warehouse database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := warehouse.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize adapters
	clock := adapter.NewClock()
	httpClient := adapter.NewHTTPClient(cfg.Source.Timeout, adapter.RetryPolicy{
		InitialInterval: cfg.Source.RetryInitial,
		MaxInterval:     cfg.Source.RetryMax,
		MaxElapsedTime:  cfg.Source.RetryElapsed,
	})

	// Assemble the pipeline stages
	client := gamma.NewClient(httpClient, cfg.Source.BaseURL, clock)
	store := staging.NewParquetStore(cfg.Staging.Dir)
	extractor := extract.NewExtractor(client, store, cfg.Extractor, cfg.Source, clock)
	loader := warehouse.NewLoader(db, cfg.Loader, clock)
	reporter := report.NewBuilder(clock)

	p := pipeline.New(extractor, store, validate.NewValidator(), loader, reporter, *cfg)

	// Set up signal handling for graceful shutdown
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run(runCtx, pipeline.Options{SkipExtract: *skipExtract})
		errChan <- err
	}()

	select {
	case sig := <-sigChan:
		logger.InfoCtx(ctx, "Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		select {
		case err = <-errChan:
		case <-time.After(30 * time.Second):
			logger.WarnCtx(ctx, "Shutdown timed out")
		}
	case err = <-errChan:
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.ErrorCtx(ctx, fmt.Errorf("pipeline run failed: %w", err))
		logger.Flush(2 * time.Second)
		os.Exit(1)
	}
	logger.InfoCtx(ctx, "Pipeline run complete")
}

// Command alerts ingests weather alerts for one county, matches them to
// service districts, and stores them.
//
// Without -interval it performs a single guarded run and exits, for use
// under an external scheduler. With -interval it keeps running, serves
// health, metrics, and query endpoints, and runs on a ticker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/storm-data-alerts/internal/adapter/kafka"
	"github.com/couchcryptid/storm-data-alerts/internal/adapter/nws"
	"github.com/couchcryptid/storm-data-alerts/internal/adapter/postgres"
	"github.com/couchcryptid/storm-data-alerts/internal/adapter/sqlite"
	"github.com/couchcryptid/storm-data-alerts/internal/config"
	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/feed"
	"github.com/couchcryptid/storm-data-alerts/internal/match"
	"github.com/couchcryptid/storm-data-alerts/internal/observability"
	"github.com/couchcryptid/storm-data-alerts/internal/pipeline"
	"github.com/couchcryptid/storm-data-alerts/internal/runguard"
	"github.com/jonboulle/clockwork"
)

// alertStore is what both repository drivers provide.
type alertStore interface {
	pipeline.Store
	match.Store
	httpadapter.AlertReader
	ImportBoundaries(ctx context.Context, bs []domain.Boundary) (int, error)
}

func main() {
	interval := flag.Duration("interval", 0, "run repeatedly at this interval and serve HTTP; 0 runs once and exits")
	importPath := flag.String("import-boundaries", "", "import a GeoJSON boundary layer and exit")
	category := flag.String("category", "", "boundary category for -import-boundaries (e.g. fire, ems, electric)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, clock, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if *importPath != "" {
		if err := importBoundaries(ctx, store, *importPath, *category, logger); err != nil {
			logger.Error("boundary import failed", "path", *importPath, "error", err)
			closeStore()
			os.Exit(1)
		}
		return
	}

	format, err := feed.New(cfg.FeedFormat)
	if err != nil {
		logger.Error("invalid feed format", "error", err)
		closeStore()
		os.Exit(1)
	}

	client := nws.NewClient(nws.Options{
		UserAgent: cfg.FeedUserAgent,
		Accept:    format.Accept(),
		Timeout:   cfg.FeedTimeout,
		CacheTTL:  cfg.FeedCacheTTL,
		Clock:     clock,
	}, metrics, logger)

	matchOpts := []match.Option{match.WithClock(clock)}
	if cfg.CountyWideExpansion {
		matchOpts = append(matchOpts, match.WithCountyWideExpansion())
	}
	matcher := match.New(store, cfg.BoundaryCategories, metrics, logger, matchOpts...)

	pipelineOpts := []pipeline.Option{pipeline.WithClock(clock)}
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		pipelineOpts = append(pipelineOpts, pipeline.WithPublisher(writer))
		logger.Info("alert change events enabled", "topic", cfg.KafkaAlertsTopic, "brokers", cfg.KafkaBrokers)
	}

	p := pipeline.New(pipeline.Config{
		FeedURL:       cfg.FeedURL,
		Concurrency:   cfg.FeedConcurrency,
		RequestDelay:  cfg.FeedRequestDelay,
		Budget:        cfg.RunBudget,
		RetentionDays: cfg.RetentionDays,
	}, client, format, store, matcher, logger, metrics, pipelineOpts...)

	guard := runguard.New(cfg.LockFile, cfg.LockStaleAfter, clock, logger)
	runOnce := func(ctx context.Context) error {
		return guard.Run(ctx, func(ctx context.Context) error {
			_, err := p.RunOnce(ctx, cfg.TargetCode)
			return err
		})
	}

	if *interval <= 0 {
		err := runOnce(ctx)
		closeWriter(writer, logger)
		if err != nil {
			logger.Error("run failed", "error", err)
			closeStore()
			os.Exit(1)
		}
		return
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, logger, httpadapter.WithAlerts(store, clock), httpadapter.WithRuns(p))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runLoop(ctx, *interval, runOnce, logger)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	closeWriter(writer, logger)

	logger.Info("shutdown complete")
}

// runLoop runs immediately and then on every tick until ctx is cancelled. A
// run still holding the lock makes the tick a no-op.
func runLoop(ctx context.Context, interval time.Duration, runOnce func(context.Context) error, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := runOnce(ctx); err != nil {
			if errors.Is(err, domain.ErrRunInProgress) {
				logger.Warn("skipping run", "reason", err)
			} else {
				logger.Error("run failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) (alertStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL, cfg.SpatialPredicates, logger, postgres.WithClock(clock))
		if err != nil {
			return nil, nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		logger.Info("postgres store ready", "spatial", s.Spatial())
		return s, s.Close, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, sqlite.WithClock(clock))
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite store ready", "path", cfg.SQLitePath)
		return s, func() {
			if err := s.Close(); err != nil {
				logger.Error("sqlite close error", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown store driver %q", domain.ErrConfig, cfg.StoreDriver)
	}
}

func importBoundaries(ctx context.Context, store alertStore, path, category string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open boundary file: %w", err)
	}
	defer f.Close()

	bs, skipped, err := feed.ParseBoundaries(f, category)
	if err != nil {
		return err
	}
	n, err := store.ImportBoundaries(ctx, bs)
	if err != nil {
		return err
	}
	logger.Info("boundaries imported", "category", category, "imported", n, "skipped", skipped)
	return nil
}

func closeWriter(w *kafkaadapter.Writer, logger *slog.Logger) {
	if w == nil {
		return
	}
	if err := w.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
}

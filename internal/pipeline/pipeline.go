package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/feed"
	"github.com/couchcryptid/storm-data-alerts/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves one feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Store persists alerts.
type Store interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, a domain.Alert) (domain.UpsertOutcome, error)
	SweepExpired(ctx context.Context, now time.Time, retentionDays int) (domain.SweepResult, error)
}

// Matcher computes and stores the districts an alert affects.
type Matcher interface {
	Match(ctx context.Context, a domain.Alert) (domain.Districts, error)
}

// Publisher emits change events for inserted and updated alerts.
type Publisher interface {
	Publish(ctx context.Context, changes []domain.AlertChange) error
}

// Config controls one pipeline instance.
type Config struct {
	FeedURL string
	// Concurrency bounds parallel entry processing. Values below 1 mean 1.
	Concurrency int
	// RequestDelay is the pause a worker takes after each detail fetch.
	RequestDelay time.Duration
	// Budget caps the wall-clock time of a run; zero disables the cap.
	Budget        time.Duration
	RetentionDays int
}

// ProcessResult summarizes one run.
type ProcessResult struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	// Entries is the number of distinct entries in the index.
	Entries int
	// Processed counts entries that were inserted or updated.
	Processed  int
	Inserted   int
	Updated    int
	Unchanged  int
	OutOfScope int
	// Errors lists skipped entries in feed order.
	Errors []*domain.EntryError
	// Aborted is set when the run budget ran out before every entry was
	// handled.
	Aborted bool
	Sweep   domain.SweepResult
}

// Pipeline runs the fetch, normalize, filter, persist, and match sequence.
type Pipeline struct {
	cfg       Config
	fetcher   Fetcher
	format    feed.Format
	store     Store
	matcher   Matcher
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	last      atomic.Pointer[ProcessResult]
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher enables change events.
func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithClock sets the time source used for run timing, sweeps, and delays.
func WithClock(c clockwork.Clock) Option {
	return func(pl *Pipeline) { pl.clock = c }
}

// New creates a Pipeline.
func New(cfg Config, fetcher Fetcher, format feed.Format, store Store, matcher Matcher, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	p := &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		format:  format,
		store:   store,
		matcher: matcher,
		clock:   clockwork.NewRealClock(),
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a run has completed without a fatal error.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastResult returns the most recent run's result, if any.
func (p *Pipeline) LastResult() (ProcessResult, bool) {
	r := p.last.Load()
	if r == nil {
		return ProcessResult{}, false
	}
	return *r, true
}

// RunOnce ingests the feed for targetCode. It returns an error only for
// failures that leave nothing to process: bad input, an unreachable store, or
// an unusable index document. Per-entry failures are reported in
// ProcessResult.Errors.
func (p *Pipeline) RunOnce(ctx context.Context, targetCode string) (ProcessResult, error) {
	start := p.clock.Now()
	res := ProcessResult{
		RunID:     ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		StartedAt: start.UTC(),
	}
	logger := p.logger.With("run_id", res.RunID)

	p.metrics.RunInFlight.Set(1)
	defer p.metrics.RunInFlight.Set(0)

	targetCode = strings.TrimSpace(targetCode)
	if targetCode == "" {
		return p.fail(res, logger, fmt.Errorf("%w: target code is required", domain.ErrConfig))
	}

	runCtx := ctx
	if p.cfg.Budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Budget)
		defer cancel()
	}

	logger.Info("run started", "target_code", targetCode, "format", p.format.Name())

	if err := p.store.Ping(runCtx); err != nil {
		return p.fail(res, logger, fmt.Errorf("store unreachable: %w", err))
	}
	index, err := p.fetcher.Fetch(runCtx, p.cfg.FeedURL)
	if err != nil {
		return p.fail(res, logger, fmt.Errorf("fetch index: %w", err))
	}
	entries, err := p.format.ParseIndex(index)
	if err != nil {
		return p.fail(res, logger, fmt.Errorf("parse index: %w", err))
	}
	entries = feed.Dedupe(entries)
	res.Entries = len(entries)

	results := p.processAll(runCtx, entries, targetCode, logger)

	var changes []domain.AlertChange
	for _, r := range results {
		switch {
		case !r.done:
			res.Aborted = true
		case r.err != nil:
			res.Errors = append(res.Errors, r.err)
			p.metrics.EntryErrors.WithLabelValues(string(r.err.Stage)).Inc()
		case !r.inScope:
			res.OutOfScope++
			p.metrics.EntriesTotal.WithLabelValues("out_of_scope").Inc()
		default:
			p.metrics.EntriesTotal.WithLabelValues(r.outcome.String()).Inc()
			switch r.outcome {
			case domain.OutcomeInserted:
				res.Inserted++
			case domain.OutcomeUpdated:
				res.Updated++
			default:
				res.Unchanged++
				continue
			}
			res.Processed++
			changes = append(changes, domain.AlertChange{
				Change:      r.outcome.String(),
				Alert:       r.alert,
				ProcessedAt: p.clock.Now().UTC(),
			})
		}
	}
	if runCtx.Err() != nil && ctx.Err() == nil {
		res.Aborted = true
	}

	p.publish(ctx, changes, logger)

	if res.Aborted {
		logger.Warn("run budget exhausted, skipping sweep", "budget", p.cfg.Budget)
	} else {
		res.Sweep = p.sweep(runCtx, logger)
	}

	res.Duration = p.clock.Since(start)
	outcome := "success"
	if res.Aborted {
		outcome = "aborted"
	}
	p.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	p.metrics.RunDuration.Observe(res.Duration.Seconds())
	p.last.Store(&res)
	p.ready.Store(true)

	logger.Info("run finished",
		"entries", res.Entries,
		"processed", res.Processed,
		"inserted", res.Inserted,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"out_of_scope", res.OutOfScope,
		"errors", len(res.Errors),
		"aborted", res.Aborted,
		"duration", res.Duration,
	)
	return res, nil
}

func (p *Pipeline) fail(res ProcessResult, logger *slog.Logger, err error) (ProcessResult, error) {
	res.Duration = p.clock.Since(res.StartedAt)
	p.metrics.RunsTotal.WithLabelValues("failed").Inc()
	p.metrics.RunDuration.Observe(res.Duration.Seconds())
	p.last.Store(&res)
	logger.Error("run failed", "error", err)
	return res, err
}

type entryResult struct {
	done    bool
	inScope bool
	outcome domain.UpsertOutcome
	alert   domain.Alert
	err     *domain.EntryError
}

// processAll handles entries with bounded concurrency. Results are indexed by
// entry position; entries never started because the context ended are left
// with done unset.
func (p *Pipeline) processAll(ctx context.Context, entries []feed.Entry, targetCode string, logger *slog.Logger) []entryResult {
	results := make([]entryResult, len(entries))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, e := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = p.processEntry(ctx, e, targetCode, logger)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) processEntry(ctx context.Context, e feed.Entry, targetCode string, logger *slog.Logger) entryResult {
	id := e.ID
	if id == "" {
		id = e.DetailURL
	}
	fail := func(stage domain.Stage, err error) entryResult {
		logger.Warn("entry skipped", "entry_id", id, "url", e.DetailURL, "stage", stage, "error", err)
		return entryResult{done: true, err: &domain.EntryError{EntryID: id, Stage: stage, Err: err}}
	}

	detail := e.Payload
	if detail == nil && e.DetailURL != "" {
		b, err := p.fetcher.Fetch(ctx, e.DetailURL)
		p.pause(ctx)
		if err != nil {
			return fail(domain.StageFetch, err)
		}
		detail = b
	}

	alert, err := p.format.Normalize(e, detail)
	if err != nil {
		return fail(domain.StageNormalize, err)
	}
	if !domain.InScope(alert, targetCode) {
		logger.Debug("entry out of scope", "external_id", alert.ExternalID)
		return entryResult{done: true}
	}

	outcome, err := p.store.Upsert(ctx, alert)
	if err != nil {
		return fail(domain.StagePersist, err)
	}
	res := entryResult{done: true, inScope: true, outcome: outcome, alert: alert}
	if !outcome.NeedsMatch() {
		return res
	}

	// A failed match leaves the row unmatched, so the next run retries it
	// even if the alert itself is unchanged.
	districts, err := p.matcher.Match(ctx, alert)
	if err != nil {
		return fail(domain.StageMatch, err)
	}
	res.alert.Districts = districts
	msg := "alert stored"
	if outcome == domain.OutcomeUnmatched {
		msg = "alert rematched"
	}
	logger.Info(msg,
		"external_id", alert.ExternalID,
		"outcome", outcome.String(),
		"event_type", alert.EventType,
		"districts", districts.Count(),
	)
	return res
}

// pause holds the worker for the configured request delay.
func (p *Pipeline) pause(ctx context.Context) {
	if p.cfg.RequestDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-p.clock.After(p.cfg.RequestDelay):
	}
}

func (p *Pipeline) sweep(ctx context.Context, logger *slog.Logger) domain.SweepResult {
	res, err := p.store.SweepExpired(ctx, p.clock.Now().UTC(), p.cfg.RetentionDays)
	if err != nil {
		logger.Error("sweep failed, will retry next run", "error", err)
		return domain.SweepResult{}
	}
	p.metrics.SweptAlerts.WithLabelValues("expired").Add(float64(res.Expired))
	p.metrics.SweptAlerts.WithLabelValues("deleted").Add(float64(res.Deleted))
	if res.Expired > 0 || res.Deleted > 0 {
		logger.Info("sweep finished", "expired", res.Expired, "deleted", res.Deleted)
	}
	return res
}

func (p *Pipeline) publish(ctx context.Context, changes []domain.AlertChange, logger *slog.Logger) {
	if p.publisher == nil || len(changes) == 0 {
		return
	}
	if err := p.publisher.Publish(ctx, changes); err != nil {
		logger.Error("publish changes failed", "error", err, "count", len(changes))
		return
	}
	p.metrics.ChangesPublished.Add(float64(len(changes)))
}

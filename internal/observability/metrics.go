package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storm_alerts"

// Metrics holds the Prometheus counters, histograms, and gauges for the alert pipeline.
type Metrics struct {
	RunsTotal   *prometheus.CounterVec // labels: outcome={success,aborted,failed,skipped}
	RunDuration prometheus.Histogram
	RunInFlight prometheus.Gauge

	// Per-entry outcomes.
	EntriesTotal *prometheus.CounterVec // labels: outcome={inserted,updated,unchanged,out_of_scope}
	EntryErrors  *prometheus.CounterVec // labels: stage={fetch,normalize,persist,match}

	// Feed client metrics.
	FeedFetches       *prometheus.CounterVec // labels: result={hit,miss,shared,error}
	FeedFetchDuration prometheus.Histogram

	// District matching.
	MatchDuration    *prometheus.HistogramVec // labels: mode={spatial,planar,county_wide,none}
	DistrictsMatched prometheus.Counter

	// Sweep.
	SweptAlerts *prometheus.CounterVec // labels: action={expired,deleted}

	ChangesPublished prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a complete pipeline run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		RunInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_flight",
			Help:      "1 while a pipeline run is executing, 0 otherwise.",
		}),
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_total",
			Help:      "Feed entries handled by outcome.",
		}, []string{"outcome"}),
		EntryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_errors_total",
			Help:      "Feed entries skipped due to errors, by pipeline stage.",
		}, []string{"stage"}),
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Feed document fetches by result; only misses and errors reached upstream.",
		}, []string{"result"}),
		FeedFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Upstream feed request duration in seconds (cache misses only).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		MatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "District matching duration by mode.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"mode"}),
		DistrictsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "districts_matched_total",
			Help:      "District associations written.",
		}),
		SweptAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_alerts_total",
			Help:      "Alerts transitioned or deleted by the expiry sweep.",
		}, []string{"action"}),
		ChangesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_published_total",
			Help:      "Alert change events written to Kafka.",
		}),
	}

	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunInFlight,
		m.EntriesTotal,
		m.EntryErrors,
		m.FeedFetches,
		m.FeedFetchDuration,
		m.MatchDuration,
		m.DistrictsMatched,
		m.SweptAlerts,
		m.ChangesPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RunsTotal:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "runs_total"}, []string{"outcome"}),
		RunDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "run_duration_seconds"}),
		RunInFlight:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "run_in_flight"}),
		EntriesTotal:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "entries_total"}, []string{"outcome"}),
		EntryErrors:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "entry_errors_total"}, []string{"stage"}),
		FeedFetches:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "feed_fetches_total"}, []string{"result"}),
		FeedFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "feed_fetch_duration_seconds"}),
		MatchDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "match_duration_seconds"}, []string{"mode"}),
		DistrictsMatched:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "districts_matched_total"}),
		SweptAlerts:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "swept_alerts_total"}, []string{"action"}),
		ChangesPublished:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "changes_published_total"}),
	}
}

package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AlertReader serves the read-only alert queries.
type AlertReader interface {
	ActiveAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error)
	GetAlert(ctx context.Context, externalID string) (domain.Alert, error)
	SearchAlerts(ctx context.Context, q domain.QueryOptions, now time.Time) ([]domain.Alert, error)
	DistrictCoverage(ctx context.Context) ([]domain.Coverage, error)
}

// RunReporter exposes the outcome of the most recent pipeline run.
type RunReporter interface {
	LastResult() (pipeline.ProcessResult, bool)
}

// Server exposes health, readiness, metrics, and alert query endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Option registers optional route groups.
type Option func(mux *http.ServeMux, logger *slog.Logger)

// WithAlerts mounts /alerts, /alerts/active, /alerts/{id} and /coverage.
// Alert status is derived against clock.
func WithAlerts(reader AlertReader, clock clockwork.Clock) Option {
	return func(mux *http.ServeMux, logger *slog.Logger) {
		h := &alertHandler{reader: reader, clock: clock, logger: logger}
		mux.HandleFunc("GET /alerts", h.search)
		mux.HandleFunc("GET /alerts/active", h.active)
		mux.HandleFunc("GET /alerts/{id...}", h.get)
		mux.HandleFunc("GET /coverage", h.coverage)
	}
}

// WithRuns mounts /runs/last.
func WithRuns(runs RunReporter) Option {
	return func(mux *http.ServeMux, _ *slog.Logger) {
		mux.HandleFunc("GET /runs/last", handleLastRun(runs))
	}
}

// NewServer creates an HTTP server with /healthz, /readyz, and /metrics routes
// plus whatever the options add.
func NewServer(addr string, ready sharedobs.ReadinessChecker, logger *slog.Logger, opts ...Option) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	for _, opt := range opts {
		opt(mux, logger)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type alertHandler struct {
	reader AlertReader
	clock  clockwork.Clock
	logger *slog.Logger
}

func (h *alertHandler) active(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.reader.ActiveAlerts(r.Context(), h.clock.Now().UTC())
	if err != nil {
		h.fail(w, "active alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, alertList(alerts))
}

func (h *alertHandler) get(w http.ResponseWriter, r *http.Request) {
	a, err := h.reader.GetAlert(r.Context(), r.PathValue("id"))
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
		return
	}
	if err != nil {
		h.fail(w, "get alert", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *alertHandler) search(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	alerts, err := h.reader.SearchAlerts(r.Context(), q, h.clock.Now().UTC())
	if err != nil {
		h.fail(w, "search alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, alertList(alerts))
}

func (h *alertHandler) coverage(w http.ResponseWriter, r *http.Request) {
	cov, err := h.reader.DistrictCoverage(r.Context())
	if err != nil {
		h.fail(w, "district coverage", err)
		return
	}
	if cov == nil {
		cov = []domain.Coverage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cov})
}

func (h *alertHandler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("query failed", "op", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
}

func alertList(alerts []domain.Alert) map[string]any {
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	return map[string]any{"count": len(alerts), "alerts": alerts}
}

// parseQuery maps ?q=&category=&severity=&from=&to=&status=&limit= onto
// QueryOptions. Times are RFC 3339.
func parseQuery(r *http.Request) (domain.QueryOptions, error) {
	v := r.URL.Query()
	q := domain.QueryOptions{
		Text:     v.Get("q"),
		Category: v.Get("category"),
		Severity: v.Get("severity"),
	}

	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		s := v.Get(p.key)
		if s == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid %s: %q", p.key, s)
		}
		*p.dst = t
	}

	if s := v.Get("status"); s != "" {
		switch st := domain.AlertStatus(s); st {
		case domain.StatusActive, domain.StatusExpired, domain.StatusCancelled, domain.StatusPending:
			q.Status = st
		default:
			return q, fmt.Errorf("invalid status: %q", s)
		}
	}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid limit: %q", s)
		}
		q.Limit = n
	}
	return q.WithDefaults(), nil
}

type runSummary struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	DurationMS int64              `json:"duration_ms"`
	Entries    int                `json:"entries"`
	Processed  int                `json:"processed"`
	Inserted   int                `json:"inserted"`
	Updated    int                `json:"updated"`
	Unchanged  int                `json:"unchanged"`
	OutOfScope int                `json:"out_of_scope"`
	Aborted    bool               `json:"aborted"`
	Sweep      domain.SweepResult `json:"sweep"`
	Errors     []runError         `json:"errors"`
}

type runError struct {
	EntryID string `json:"entry_id"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

func handleLastRun(runs RunReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		res, ok := runs.LastResult()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run has completed"})
			return
		}
		out := runSummary{
			RunID:      res.RunID,
			StartedAt:  res.StartedAt.UTC(),
			DurationMS: res.Duration.Milliseconds(),
			Entries:    res.Entries,
			Processed:  res.Processed,
			Inserted:   res.Inserted,
			Updated:    res.Updated,
			Unchanged:  res.Unchanged,
			OutOfScope: res.OutOfScope,
			Aborted:    res.Aborted,
			Sweep:      res.Sweep,
			Errors:     make([]runError, len(res.Errors)),
		}
		for i, e := range res.Errors {
			out.Errors[i] = runError{EntryID: e.EntryID, Stage: string(e.Stage), Error: e.Err.Error()}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/adapter/httpadapter"
	"github.com/couchcryptid/storm-data-alerts/internal/adapter/sqlite"
	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	"github.com/couchcryptid/storm-data-alerts/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 4, 26, 19, 20, 0, 0, time.UTC)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockRuns struct {
	res pipeline.ProcessResult
	ok  bool
}

func (m *mockRuns) LastResult() (pipeline.ProcessResult, bool) { return m.res, m.ok }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(readyErr error, opts ...httpadapter.Option) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, discardLogger(), opts...)
}

func get(t *testing.T, srv http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

var clock = clockwork.NewFakeClockAt(now)

func seededStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(":memory:", sqlite.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	alerts := []domain.Alert{
		{
			ExternalID:  "urn:oid:tornado",
			Title:       "Tornado Warning issued for Putnam County",
			EventType:   "Tornado Warning",
			Category:    domain.CategorySevere,
			Severity:    "Extreme",
			EffectiveAt: now.Add(-10 * time.Minute),
			ExpiresAt:   now.Add(30 * time.Minute),
			Status:      domain.StatusActive,
		},
		{
			ExternalID:  "urn:oid:flood",
			Title:       "Flood Warning",
			EventType:   "Flood Warning",
			Category:    domain.CategoryFlood,
			Severity:    "Moderate",
			EffectiveAt: now.Add(-3 * time.Hour),
			ExpiresAt:   now.Add(-time.Hour),
			Status:      domain.StatusActive,
		},
	}
	for _, a := range alerts {
		_, err := store.Upsert(ctx, a)
		require.NoError(t, err)
	}
	require.NoError(t, store.ReplaceAssociations(ctx, "urn:oid:tornado", domain.Districts{"fire": {"Kalida FD"}}))

	ring, _ := geo.CloseRing([]geo.Point{{Lon: -84.4, Lat: 40.9}, {Lon: -84.3, Lat: 40.9}, {Lon: -84.3, Lat: 41.0}, {Lon: -84.4, Lat: 41.0}})
	_, err = store.ImportBoundaries(ctx, []domain.Boundary{{Name: "Kalida FD", Category: "fire", Ring: ring}})
	require.NoError(t, err)
	return store
}

type alertsBody struct {
	Count  int            `json:"count"`
	Alerts []domain.Alert `json:"alerts"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newTestServer(nil), "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, newTestServer(errors.New("no completed run")), "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestQueryRoutesAreOptional(t *testing.T) {
	srv := newTestServer(nil)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/alerts/active").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/runs/last").Code)
}

func TestActiveAlerts(t *testing.T) {
	srv := newTestServer(nil, httpadapter.WithAlerts(seededStore(t), clock))

	rec := get(t, srv, "/alerts/active")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[alertsBody](t, rec)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "urn:oid:tornado", body.Alerts[0].ExternalID)
	assert.Equal(t, []string{"Kalida FD"}, body.Alerts[0].Districts["fire"])
}

func TestGetAlert(t *testing.T) {
	srv := newTestServer(nil, httpadapter.WithAlerts(seededStore(t), clock))

	rec := get(t, srv, "/alerts/urn:oid:flood")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Flood Warning", decode[domain.Alert](t, rec).EventType)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/alerts/urn:oid:missing").Code)
}

func TestSearchAlerts(t *testing.T) {
	srv := newTestServer(nil, httpadapter.WithAlerts(seededStore(t), clock))

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"urn:oid:tornado", "urn:oid:flood"}},
		{"?q=putnam", []string{"urn:oid:tornado"}},
		{"?category=flood", []string{"urn:oid:flood"}},
		{"?status=Expired", []string{"urn:oid:flood"}},
		{"?severity=extreme&status=Active", []string{"urn:oid:tornado"}},
		{"?from=" + now.Add(-time.Hour).Format(time.RFC3339), []string{"urn:oid:tornado"}},
		{"?limit=1", []string{"urn:oid:tornado"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := get(t, srv, "/alerts"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			body := decode[alertsBody](t, rec)
			ids := make([]string, len(body.Alerts))
			for i, a := range body.Alerts {
				ids[i] = a.ExternalID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestSearchAlerts_BadRequest(t *testing.T) {
	srv := newTestServer(nil, httpadapter.WithAlerts(seededStore(t), clock))
	for _, q := range []string{"?from=yesterday", "?status=Gone", "?limit=0", "?limit=ten"} {
		assert.Equal(t, http.StatusBadRequest, get(t, srv, "/alerts"+q).Code, q)
	}
}

func TestCoverage(t *testing.T) {
	srv := newTestServer(nil, httpadapter.WithAlerts(seededStore(t), clock))

	rec := get(t, srv, "/coverage")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Categories []domain.Coverage `json:"categories"`
	}](t, rec)
	require.Len(t, body.Categories, 1)
	assert.Equal(t, "fire", body.Categories[0].Category)
	assert.Equal(t, 1, body.Categories[0].Boundaries)
	assert.Greater(t, body.Categories[0].AreaSqMiles, 0.0)
}

func TestQueryFailureReturns500(t *testing.T) {
	store := seededStore(t)
	srv := newTestServer(nil, httpadapter.WithAlerts(store, clock))
	require.NoError(t, store.Close())

	rec := get(t, srv, "/alerts/active")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sql")
}

func TestLastRun(t *testing.T) {
	runs := &mockRuns{}
	srv := newTestServer(nil, httpadapter.WithRuns(runs))

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/runs/last").Code)

	runs.ok = true
	runs.res = pipeline.ProcessResult{
		RunID:     "01HWAZ6X0000000000000000",
		StartedAt: now,
		Duration:  1500 * time.Millisecond,
		Entries:   3,
		Processed: 2,
		Inserted:  2,
		Errors: []*domain.EntryError{{
			EntryID: "urn:oid:bad",
			Stage:   domain.StageNormalize,
			Err:     fmt.Errorf("%w: missing expires", domain.ErrNormalize),
		}},
	}

	rec := get(t, srv, "/runs/last")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "01HWAZ6X0000000000000000", body["run_id"])
	assert.InDelta(t, 1500, body["duration_ms"], 0)
	assert.InDelta(t, 2, body["processed"], 0)
	errs, ok := body["errors"].([]any)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "urn:oid:bad", errs[0].(map[string]any)["entry_id"])
	assert.Equal(t, string(domain.StageNormalize), errs[0].(map[string]any)["stage"])
}

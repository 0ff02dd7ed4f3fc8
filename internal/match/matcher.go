// Package match associates alerts with the service districts their geometry
// touches.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	"github.com/couchcryptid/storm-data-alerts/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Store is the persistence the matcher reads boundaries from and writes
// associations to.
type Store interface {
	Boundaries(ctx context.Context, category string) ([]domain.Boundary, error)
	ReplaceAssociations(ctx context.Context, externalID string, d domain.Districts) error
}

// SpatialIndex is implemented by stores that can evaluate polygon
// intersection natively. Returning domain.ErrSpatialUnsupported makes the
// matcher fall back to planar geometry.
type SpatialIndex interface {
	IntersectingBoundaries(ctx context.Context, ring geo.Ring) (domain.Districts, error)
}

const (
	modeSpatial    = "spatial"
	modePlanar     = "planar"
	modeCountyWide = "county_wide"
	modeNone       = "none"
)

// Matcher computes and persists district associations. Matches for one alert
// never run concurrently; different alerts match in parallel.
type Matcher struct {
	store            Store
	spatial          SpatialIndex
	categories       []domain.BoundaryCategory
	expandCountyWide bool
	clock            clockwork.Clock
	metrics          *observability.Metrics
	logger           *slog.Logger
	locks            keyedMutex
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithCountyWideExpansion makes county-wide alerts enumerate every boundary
// name of each category instead of the category's "all districts" label.
func WithCountyWideExpansion() Option {
	return func(m *Matcher) { m.expandCountyWide = true }
}

// WithClock sets the time source for match timing.
func WithClock(c clockwork.Clock) Option {
	return func(m *Matcher) { m.clock = c }
}

// New creates a Matcher. When store also implements SpatialIndex its native
// predicate is tried first.
func New(store Store, categories []domain.BoundaryCategory, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Matcher {
	if len(categories) == 0 {
		categories = domain.DefaultBoundaryCategories()
	}
	m := &Matcher{
		store:      store,
		categories: categories,
		clock:      clockwork.NewRealClock(),
		metrics:    metrics,
		logger:     logger,
	}
	if si, ok := store.(SpatialIndex); ok {
		m.spatial = si
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match computes the districts a affects and replaces its stored
// associations with them. Every configured category is present in the result;
// names within a category are unique and sorted.
func (m *Matcher) Match(ctx context.Context, a domain.Alert) (domain.Districts, error) {
	unlock := m.locks.lock(a.ExternalID)
	defer unlock()

	d, err := m.Districts(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := m.store.ReplaceAssociations(ctx, a.ExternalID, d); err != nil {
		return nil, fmt.Errorf("store associations for %s: %w", a.ExternalID, err)
	}
	m.metrics.DistrictsMatched.Add(float64(d.Count()))
	m.logger.Debug("districts matched", "external_id", a.ExternalID, "districts", d.Count())
	return d, nil
}

// Districts computes the districts a affects without persisting them.
func (m *Matcher) Districts(ctx context.Context, a domain.Alert) (domain.Districts, error) {
	start := m.clock.Now()
	mode := modeNone
	defer func() {
		m.metrics.MatchDuration.WithLabelValues(mode).Observe(m.clock.Since(start).Seconds())
	}()

	out := m.emptyResult()
	switch ring, ok := a.Geometry.MatchRing(); {
	case a.IsCountyWide:
		mode = modeCountyWide
		if err := m.countyWide(ctx, out); err != nil {
			return nil, err
		}
	case ok && a.GeometryValid:
		found, usedMode, err := m.intersecting(ctx, ring)
		if err != nil {
			return nil, err
		}
		mode = usedMode
		for c, names := range found {
			out[c] = append(out[c], names...)
		}
	}

	for c := range out {
		out[c] = sortedUnique(out[c])
	}
	return out, nil
}

func (m *Matcher) emptyResult() domain.Districts {
	out := make(domain.Districts, len(m.categories))
	for _, c := range m.categories {
		out[c.Name] = []string{}
	}
	return out
}

func (m *Matcher) countyWide(ctx context.Context, out domain.Districts) error {
	for _, c := range m.categories {
		if !m.expandCountyWide {
			out[c.Name] = []string{c.AllLabel}
			continue
		}
		bs, err := m.store.Boundaries(ctx, c.Name)
		if err != nil {
			return fmt.Errorf("load %s boundaries: %w", c.Name, err)
		}
		for _, b := range bs {
			out[c.Name] = append(out[c.Name], b.Name)
		}
	}
	return nil
}

func (m *Matcher) intersecting(ctx context.Context, ring geo.Ring) (domain.Districts, string, error) {
	if m.spatial != nil {
		d, err := m.spatial.IntersectingBoundaries(ctx, ring)
		switch {
		case err == nil:
			return d, modeSpatial, nil
		case !errors.Is(err, domain.ErrSpatialUnsupported):
			return nil, modeSpatial, fmt.Errorf("spatial intersect: %w", err)
		}
	}

	bs, err := m.store.Boundaries(ctx, "")
	if err != nil {
		return nil, modePlanar, fmt.Errorf("load boundaries: %w", err)
	}
	return PlanarIntersect(ring, bs), modePlanar, nil
}

// PlanarIntersect returns the names of boundaries in bs whose ring intersects
// ring, keyed by category. Boundaries with unusable rings are skipped.
func PlanarIntersect(ring geo.Ring, bs []domain.Boundary) domain.Districts {
	out := domain.Districts{}
	for _, b := range bs {
		if b.Ring.Closed() && geo.RingsIntersect(ring, b.Ring) {
			out[b.Category] = append(out[b.Category], b.Name)
		}
	}
	return out
}

func sortedUnique(names []string) []string {
	if len(names) == 0 {
		return []string{}
	}
	sort.Strings(names)
	out := names[:1]
	for _, n := range names[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

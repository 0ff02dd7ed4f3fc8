package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	"github.com/jackc/pgx/v5"
)

// Boundaries returns the stored district polygons for category, or for every
// category when category is empty.
func (s *Store) Boundaries(ctx context.Context, category string) ([]domain.Boundary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, category, ring_wkt, properties
		FROM boundaries
		WHERE $1 = '' OR category = $1
		ORDER BY category, name, id
	`, category)
	if err != nil {
		return nil, persistErr("query boundaries", err)
	}
	defer rows.Close()

	var out []domain.Boundary
	for rows.Next() {
		var (
			b     domain.Boundary
			wkt   string
			props []byte
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.Category, &wkt, &props); err != nil {
			return nil, persistErr("scan boundary", err)
		}
		if b.Ring, err = geo.ParseWKT(wkt); err != nil {
			return nil, persistErr("decode boundary "+b.Name, err)
		}
		if len(props) > 0 {
			if err := json.Unmarshal(props, &b.Properties); err != nil {
				return nil, persistErr("decode boundary properties", err)
			}
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("query boundaries", err)
	}
	return out, nil
}

// ImportBoundaries replaces every stored boundary in the categories present in
// bs with bs. It returns the number of boundaries written.
func (s *Store) ImportBoundaries(ctx context.Context, bs []domain.Boundary) (int, error) {
	categories := make(map[string]struct{})
	for _, b := range bs {
		if b.Name == "" || b.Category == "" {
			return 0, fmt.Errorf("%w: boundary requires name and category", domain.ErrGeometry)
		}
		if !b.Ring.Closed() {
			return 0, fmt.Errorf("%w: boundary %s/%s ring is not closed", domain.ErrGeometry, b.Category, b.Name)
		}
		categories[b.Category] = struct{}{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, persistErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for c := range categories {
		if _, err := tx.Exec(ctx, `DELETE FROM boundaries WHERE category = $1`, c); err != nil {
			return 0, persistErr("clear boundaries", err)
		}
	}

	insert := `
		INSERT INTO boundaries (name, category, ring_wkt, properties, imported_at)
		VALUES ($1, $2, $3, $4, $5)`
	if s.Spatial() {
		insert = `
		INSERT INTO boundaries (name, category, ring_wkt, properties, imported_at, geom)
		VALUES ($1, $2, $3, $4, $5, ST_GeomFromText($3, 4326))`
	}

	now := s.now()
	for _, b := range bs {
		props, err := json.Marshal(b.Properties)
		if err != nil {
			return 0, persistErr("encode boundary properties", err)
		}
		if b.Properties == nil {
			props = []byte("{}")
		}
		if _, err := tx.Exec(ctx, insert, b.Name, b.Category, geo.ToWKT(b.Ring), props, now); err != nil {
			return 0, persistErr("insert boundary "+b.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, persistErr("commit boundaries", err)
	}
	return len(bs), nil
}

// IntersectingBoundaries returns the names of districts, keyed by category,
// whose polygons intersect ring. It returns ErrSpatialUnsupported when PostGIS
// is not in use.
func (s *Store) IntersectingBoundaries(ctx context.Context, ring geo.Ring) (domain.Districts, error) {
	if !s.Spatial() {
		return nil, domain.ErrSpatialUnsupported
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT category, name
		FROM boundaries
		WHERE ST_Intersects(geom, ST_GeomFromText($1, 4326))
		ORDER BY category, name
	`, geo.ToWKT(ring))
	if err != nil {
		return nil, persistErr("intersect boundaries", err)
	}
	defer rows.Close()

	out := domain.Districts{}
	for rows.Next() {
		var category, name string
		if err := rows.Scan(&category, &name); err != nil {
			return nil, persistErr("scan intersection", err)
		}
		out[category] = append(out[category], name)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("intersect boundaries", err)
	}
	return out, nil
}

// ReplaceAssociations sets the districts linked to the alert with externalID,
// removing any previous links, and marks the alert matched.
func (s *Store) ReplaceAssociations(ctx context.Context, externalID string, d domain.Districts) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return persistErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var alertID int64
	err = tx.QueryRow(ctx, `SELECT id FROM alerts WHERE external_id = $1`, externalID).Scan(&alertID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("alert %s: %w", externalID, domain.ErrNotFound)
	}
	if err != nil {
		return persistErr("lookup alert", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM alert_districts WHERE alert_id = $1`, alertID); err != nil {
		return persistErr("clear associations", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE alerts SET matched_at = $2 WHERE id = $1`, alertID, s.now()); err != nil {
		return persistErr("mark matched", err)
	}

	assoc := d.Associations(externalID)
	if len(assoc) > 0 {
		rows := make([][]any, len(assoc))
		for i, a := range assoc {
			rows[i] = []any{alertID, a.Category, a.Name}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"alert_districts"},
			[]string{"alert_id", "category", "name"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return persistErr("insert associations", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("commit associations", err)
	}
	return nil
}

// DistrictCoverage summarizes the stored boundaries per category. Areas are
// planar square degrees converted to square miles.
func (s *Store) DistrictCoverage(ctx context.Context) ([]domain.Coverage, error) {
	if s.Spatial() {
		return s.spatialCoverage(ctx)
	}

	bs, err := s.Boundaries(ctx, "")
	if err != nil {
		return nil, err
	}
	return domain.SummarizeCoverage(bs), nil
}

func (s *Store) spatialCoverage(ctx context.Context) ([]domain.Coverage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category, COUNT(*), COUNT(DISTINCT name), COALESCE(SUM(ST_Area(geom)), 0)
		FROM boundaries
		GROUP BY category
		ORDER BY category
	`)
	if err != nil {
		return nil, persistErr("query coverage", err)
	}
	defer rows.Close()

	var out []domain.Coverage
	for rows.Next() {
		var (
			c       domain.Coverage
			degrees float64
		)
		if err := rows.Scan(&c.Category, &c.Boundaries, &c.Districts, &degrees); err != nil {
			return nil, persistErr("scan coverage", err)
		}
		c.AreaSqMiles = degrees * domain.SquareMilesPerSquareDegree
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("query coverage", err)
	}
	return out, nil
}

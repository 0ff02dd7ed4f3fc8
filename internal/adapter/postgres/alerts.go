package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	"github.com/jackc/pgx/v5"
)

const alertColumns = `
	external_id, title, event_type, category, severity, urgency, certainty,
	message_type, response_type, description, effective_at, expires_at, ends_at,
	status, geocodes, geometry, polygon_wkt, geometry_valid, is_county_wide`

// alertArgs returns the values for alertColumns in order.
func alertArgs(a domain.Alert) ([]any, error) {
	geocodes, err := json.Marshal(a.Geocodes)
	if err != nil {
		return nil, fmt.Errorf("marshal geocodes: %w", err)
	}
	if a.Geocodes == nil {
		geocodes = []byte("[]")
	}
	geometry, err := json.Marshal(a.Geometry)
	if err != nil {
		return nil, fmt.Errorf("marshal geometry: %w", err)
	}
	var wkt *string
	if ring, ok := a.Geometry.MatchRing(); ok {
		s := geo.ToWKT(ring)
		wkt = &s
	}
	status := a.Status
	if status == "" {
		status = domain.StatusActive
	}

	return []any{
		a.ExternalID, a.Title, a.EventType, a.Category, a.Severity, a.Urgency, a.Certainty,
		a.MessageType, a.ResponseType, a.Description, a.EffectiveAt.UTC(), a.ExpiresAt.UTC(), nullTime(a.EndsAt),
		string(status), geocodes, geometry, wkt, a.GeometryValid, a.IsCountyWide,
	}, nil
}

// Upsert inserts a new alert, rewrites a stored alert whose effective or end
// time changed, or leaves it alone. The row is locked for the comparison so
// concurrent upserts of one external ID serialize. A rewrite clears the match
// marker; an untouched alert that was never matched reports OutcomeUnmatched.
func (s *Store) Upsert(ctx context.Context, a domain.Alert) (domain.UpsertOutcome, error) {
	args, err := alertArgs(a)
	if err != nil {
		return domain.OutcomeUnchanged, persistErr("upsert", err)
	}
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.OutcomeUnchanged, persistErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO alerts (`+alertColumns+`, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $20)
		ON CONFLICT (external_id) DO NOTHING
		RETURNING id
	`, append(args, now)...).Scan(&id)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return domain.OutcomeUnchanged, persistErr("commit insert", err)
		}
		return domain.OutcomeInserted, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return domain.OutcomeUnchanged, persistErr("insert alert", err)
	}

	var stored domain.Alert
	var endsAt, matchedAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT effective_at, expires_at, ends_at, matched_at FROM alerts
		WHERE external_id = $1
		FOR UPDATE
	`, a.ExternalID).Scan(&stored.EffectiveAt, &stored.ExpiresAt, &endsAt, &matchedAt)
	if err != nil {
		return domain.OutcomeUnchanged, persistErr("lock alert", err)
	}
	if endsAt != nil {
		stored.EndsAt = *endsAt
	}

	if !a.WindowChanged(stored) {
		if matchedAt == nil {
			return domain.OutcomeUnmatched, nil
		}
		return domain.OutcomeUnchanged, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE alerts SET
			title = $2, event_type = $3, category = $4, severity = $5, urgency = $6,
			certainty = $7, message_type = $8, response_type = $9, description = $10,
			effective_at = $11, expires_at = $12, ends_at = $13, status = $14,
			geocodes = $15, geometry = $16, polygon_wkt = $17, geometry_valid = $18,
			is_county_wide = $19, updated_at = $20, matched_at = NULL
		WHERE external_id = $1
	`, append(args, now)...)
	if err != nil {
		return domain.OutcomeUnchanged, persistErr("update alert", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.OutcomeUnchanged, persistErr("commit update", err)
	}
	return domain.OutcomeUpdated, nil
}

// SweepExpired marks active alerts whose end has passed as Expired, then
// deletes Expired and Cancelled alerts created more than retentionDays ago.
// Associations go with them via ON DELETE CASCADE.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, retentionDays int) (domain.SweepResult, error) {
	var res domain.SweepResult

	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET status = 'Expired', updated_at = $1
		WHERE status = 'Active' AND COALESCE(ends_at, expires_at) <= $1
	`, now)
	if err != nil {
		return res, persistErr("expire alerts", err)
	}
	res.Expired = tag.RowsAffected()

	cutoff := now.AddDate(0, 0, -retentionDays)
	tag, err = s.pool.Exec(ctx, `
		DELETE FROM alerts
		WHERE status IN ('Expired', 'Cancelled') AND created_at < $1
	`, cutoff)
	if err != nil {
		return res, persistErr("delete alerts", err)
	}
	res.Deleted = tag.RowsAffected()
	return res, nil
}

const selectAlert = `
	SELECT id, ` + alertColumns + `, created_at, updated_at
	FROM alerts`

// ActiveAlerts returns alerts inside their effective window at now, newest
// first, with district associations attached.
func (s *Store) ActiveAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	return s.queryAlerts(ctx, selectAlert+`
		WHERE status <> 'Cancelled'
		  AND effective_at <= $1
		  AND COALESCE(ends_at, expires_at) > $1
		ORDER BY effective_at DESC, id DESC
	`, now)
}

// GetAlert returns one alert by external ID.
func (s *Store) GetAlert(ctx context.Context, externalID string) (domain.Alert, error) {
	alerts, err := s.queryAlerts(ctx, selectAlert+` WHERE external_id = $1`, externalID)
	if err != nil {
		return domain.Alert{}, err
	}
	if len(alerts) == 0 {
		return domain.Alert{}, fmt.Errorf("alert %s: %w", externalID, domain.ErrNotFound)
	}
	return alerts[0], nil
}

// SearchAlerts returns alerts matching q, newest first.
func (s *Store) SearchAlerts(ctx context.Context, q domain.QueryOptions, now time.Time) ([]domain.Alert, error) {
	q = q.WithDefaults()
	where, args := searchClause(q, now)
	args = append(args, q.Limit)
	query := selectAlert + where + fmt.Sprintf(" ORDER BY effective_at DESC, id DESC LIMIT $%d", len(args))
	return s.queryAlerts(ctx, query, args...)
}

func searchClause(q domain.QueryOptions, now time.Time) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Text != "" {
		p := arg("%" + escapeLike(q.Text) + "%")
		conds = append(conds, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
	}
	if q.Category != "" {
		conds = append(conds, "UPPER(category) = UPPER("+arg(q.Category)+")")
	}
	if q.Severity != "" {
		conds = append(conds, "LOWER(severity) = LOWER("+arg(q.Severity)+")")
	}
	if !q.From.IsZero() {
		conds = append(conds, "effective_at >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "effective_at <= "+arg(q.To))
	}
	switch q.Status {
	case domain.StatusCancelled:
		conds = append(conds, "status = 'Cancelled'")
	case domain.StatusPending:
		conds = append(conds, "status <> 'Cancelled' AND effective_at > "+arg(now))
	case domain.StatusActive:
		p := arg(now)
		conds = append(conds, fmt.Sprintf("status <> 'Cancelled' AND effective_at <= %s AND COALESCE(ends_at, expires_at) > %s", p, p))
	case domain.StatusExpired:
		p := arg(now)
		conds = append(conds, fmt.Sprintf("status <> 'Cancelled' AND effective_at <= %s AND COALESCE(ends_at, expires_at) <= %s", p, p))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...any) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query alerts", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, persistErr("scan alert", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("query alerts", err)
	}

	if err := s.attachDistricts(ctx, alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (domain.Alert, error) {
	var (
		a                  domain.Alert
		endsAt             *time.Time
		status             string
		geocodes, geometry []byte
		wkt                *string
	)
	err := row.Scan(&a.ID,
		&a.ExternalID, &a.Title, &a.EventType, &a.Category, &a.Severity, &a.Urgency, &a.Certainty,
		&a.MessageType, &a.ResponseType, &a.Description, &a.EffectiveAt, &a.ExpiresAt, &endsAt,
		&status, &geocodes, &geometry, &wkt, &a.GeometryValid, &a.IsCountyWide,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}

	a.Status = domain.AlertStatus(status)
	a.EffectiveAt = a.EffectiveAt.UTC()
	a.ExpiresAt = a.ExpiresAt.UTC()
	if endsAt != nil {
		a.EndsAt = endsAt.UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	if err := json.Unmarshal(geocodes, &a.Geocodes); err != nil {
		return a, fmt.Errorf("decode geocodes: %w", err)
	}
	if err := json.Unmarshal(geometry, &a.Geometry); err != nil {
		return a, fmt.Errorf("decode geometry: %w", err)
	}
	return a, nil
}

func (s *Store) attachDistricts(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	ids := make([]int64, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.external_id, d.category, d.name
		FROM alert_districts d
		JOIN alerts a ON a.id = d.alert_id
		WHERE d.alert_id = ANY($1)
		ORDER BY a.external_id, d.category, d.name
	`, ids)
	if err != nil {
		return persistErr("query districts", err)
	}
	defer rows.Close()

	var assoc []domain.DistrictAssociation
	for rows.Next() {
		var d domain.DistrictAssociation
		if err := rows.Scan(&d.ExternalID, &d.Category, &d.Name); err != nil {
			return persistErr("scan district", err)
		}
		assoc = append(assoc, d)
	}
	if err := rows.Err(); err != nil {
		return persistErr("query districts", err)
	}

	grouped := domain.GroupAssociations(assoc)
	for i := range alerts {
		alerts[i].Districts = grouped[alerts[i].ExternalID]
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

// Package sqlite implements the alert repository on an embedded SQLite
// database through GORM. It has no spatial index; district matching falls
// back to planar geometry.
package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is a SQLite-backed alert repository.
type Store struct {
	db    *gorm.DB
	clock clockwork.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for row timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (creating if needed) the database at path and migrates the
// schema. Use ":memory:" for a private in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: s.now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite open: %w", domain.ErrPersistence, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite open: %w", domain.ErrPersistence, err)
	}
	// One writer at a time, and a single connection keeps :memory: databases
	// shared across calls.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&alertRow{}, &boundaryRow{}, &associationRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: sqlite migrate: %w", domain.ErrPersistence, err)
	}
	s.db = db
	return s, nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return persistErr("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert inserts a new alert, rewrites a stored alert whose effective or end
// time changed, or leaves it alone. Inserts and rewrites clear the match
// marker; an untouched alert that was never matched reports OutcomeUnmatched.
func (s *Store) Upsert(ctx context.Context, a domain.Alert) (domain.UpsertOutcome, error) {
	row, err := toAlertRow(a)
	if err != nil {
		return domain.OutcomeUnchanged, persistErr("upsert", err)
	}

	outcome := domain.OutcomeUnchanged
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing alertRow
		err := tx.Select("id", "effective_at", "expires_at", "ends_at", "matched_at").
			Where("external_id = ?", a.ExternalID).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
			outcome = domain.OutcomeInserted
			return nil
		}
		if err != nil {
			return fmt.Errorf("lookup alert: %w", err)
		}

		if !a.WindowChanged(existing.window()) {
			if existing.MatchedAt == nil {
				outcome = domain.OutcomeUnmatched
			}
			return nil
		}
		row.UpdatedAt = s.now()
		err = tx.Model(&alertRow{}).
			Where("id = ?", existing.ID).
			Select("*").Omit("id", "external_id", "created_at").
			Updates(&row).Error
		if err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		outcome = domain.OutcomeUpdated
		return nil
	})
	if err != nil {
		return domain.OutcomeUnchanged, persistErr("upsert", err)
	}
	return outcome, nil
}

// SweepExpired marks active alerts whose end has passed as Expired, then
// deletes Expired and Cancelled alerts created more than retentionDays ago
// together with their associations.
func (s *Store) SweepExpired(ctx context.Context, now time.Time, retentionDays int) (domain.SweepResult, error) {
	now = now.UTC()
	var res domain.SweepResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&alertRow{}).
			Where("status = ? AND COALESCE(ends_at, expires_at) <= ?", domain.StatusActive, now).
			Updates(map[string]any{"status": string(domain.StatusExpired), "updated_at": now})
		if upd.Error != nil {
			return fmt.Errorf("expire alerts: %w", upd.Error)
		}
		res.Expired = upd.RowsAffected

		var ids []int64
		cutoff := now.AddDate(0, 0, -retentionDays)
		err := tx.Model(&alertRow{}).
			Where("status IN ? AND created_at < ?", []string{string(domain.StatusExpired), string(domain.StatusCancelled)}, cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return fmt.Errorf("select retained alerts: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("alert_id IN ?", ids).Delete(&associationRow{}).Error; err != nil {
			return fmt.Errorf("delete associations: %w", err)
		}
		del := tx.Delete(&alertRow{}, ids)
		if del.Error != nil {
			return fmt.Errorf("delete alerts: %w", del.Error)
		}
		res.Deleted = del.RowsAffected
		return nil
	})
	if err != nil {
		return domain.SweepResult{}, persistErr("sweep", err)
	}
	return res, nil
}

// ActiveAlerts returns alerts inside their effective window at now, newest
// first, with district associations attached.
func (s *Store) ActiveAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	now = now.UTC()
	var rows []alertRow
	err := s.db.WithContext(ctx).
		Where("status <> ? AND effective_at <= ? AND COALESCE(ends_at, expires_at) > ?", domain.StatusCancelled, now, now).
		Order("effective_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, persistErr("query active alerts", err)
	}
	return s.toAlerts(ctx, rows)
}

// GetAlert returns one alert by external ID.
func (s *Store) GetAlert(ctx context.Context, externalID string) (domain.Alert, error) {
	var row alertRow
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Alert{}, fmt.Errorf("alert %s: %w", externalID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Alert{}, persistErr("get alert", err)
	}
	alerts, err := s.toAlerts(ctx, []alertRow{row})
	if err != nil {
		return domain.Alert{}, err
	}
	return alerts[0], nil
}

// SearchAlerts returns alerts matching q, newest first.
func (s *Store) SearchAlerts(ctx context.Context, q domain.QueryOptions, now time.Time) ([]domain.Alert, error) {
	q = q.WithDefaults()
	now = now.UTC()

	tx := s.db.WithContext(ctx).Model(&alertRow{})
	if q.Text != "" {
		p := "%" + escapeLike(q.Text) + "%"
		tx = tx.Where(`(title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\')`, p, p)
	}
	if q.Category != "" {
		tx = tx.Where("UPPER(category) = UPPER(?)", q.Category)
	}
	if q.Severity != "" {
		tx = tx.Where("LOWER(severity) = LOWER(?)", q.Severity)
	}
	if !q.From.IsZero() {
		tx = tx.Where("effective_at >= ?", q.From.UTC())
	}
	if !q.To.IsZero() {
		tx = tx.Where("effective_at <= ?", q.To.UTC())
	}
	switch q.Status {
	case domain.StatusCancelled:
		tx = tx.Where("status = ?", domain.StatusCancelled)
	case domain.StatusPending:
		tx = tx.Where("status <> ? AND effective_at > ?", domain.StatusCancelled, now)
	case domain.StatusActive:
		tx = tx.Where("status <> ? AND effective_at <= ? AND COALESCE(ends_at, expires_at) > ?", domain.StatusCancelled, now, now)
	case domain.StatusExpired:
		tx = tx.Where("status <> ? AND effective_at <= ? AND COALESCE(ends_at, expires_at) <= ?", domain.StatusCancelled, now, now)
	}

	var rows []alertRow
	if err := tx.Order("effective_at desc, id desc").Limit(q.Limit).Find(&rows).Error; err != nil {
		return nil, persistErr("search alerts", err)
	}
	return s.toAlerts(ctx, rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) toAlerts(ctx context.Context, rows []alertRow) ([]domain.Alert, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	alerts := make([]domain.Alert, len(rows))
	ids := make([]int64, len(rows))
	for i, r := range rows {
		a, err := r.toDomain()
		if err != nil {
			return nil, persistErr("decode alert "+r.ExternalID, err)
		}
		alerts[i] = a
		ids[i] = r.ID
	}

	var assoc []associationRow
	err := s.db.WithContext(ctx).
		Where("alert_id IN ?", ids).
		Order("category, name").
		Find(&assoc).Error
	if err != nil {
		return nil, persistErr("query districts", err)
	}

	byID := make(map[int64]string, len(rows))
	for _, r := range rows {
		byID[r.ID] = r.ExternalID
	}
	flat := make([]domain.DistrictAssociation, 0, len(assoc))
	for _, a := range assoc {
		flat = append(flat, domain.DistrictAssociation{ExternalID: byID[a.AlertID], Category: a.Category, Name: a.Name})
	}
	grouped := domain.GroupAssociations(flat)
	for i := range alerts {
		alerts[i].Districts = grouped[alerts[i].ExternalID]
	}
	return alerts, nil
}

// Boundaries returns the stored district polygons for category, or for every
// category when category is empty.
func (s *Store) Boundaries(ctx context.Context, category string) ([]domain.Boundary, error) {
	tx := s.db.WithContext(ctx).Order("category, name, id")
	if category != "" {
		tx = tx.Where("category = ?", category)
	}
	var rows []boundaryRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, persistErr("query boundaries", err)
	}

	out := make([]domain.Boundary, 0, len(rows))
	for _, r := range rows {
		ring, err := geo.ParseWKT(r.RingWKT)
		if err != nil {
			return nil, persistErr("decode boundary "+r.Name, err)
		}
		b := domain.Boundary{ID: r.ID, Name: r.Name, Category: r.Category, Ring: ring}
		if r.Properties != "" {
			if err := json.Unmarshal([]byte(r.Properties), &b.Properties); err != nil {
				return nil, persistErr("decode boundary properties", err)
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// ImportBoundaries replaces every stored boundary in the categories present in
// bs with bs. It returns the number of boundaries written.
func (s *Store) ImportBoundaries(ctx context.Context, bs []domain.Boundary) (int, error) {
	if len(bs) == 0 {
		return 0, nil
	}
	var categories []string
	seen := make(map[string]bool)
	rows := make([]boundaryRow, 0, len(bs))
	now := s.now()
	for _, b := range bs {
		if b.Name == "" || b.Category == "" {
			return 0, fmt.Errorf("%w: boundary requires name and category", domain.ErrGeometry)
		}
		if !b.Ring.Closed() {
			return 0, fmt.Errorf("%w: boundary %s/%s ring is not closed", domain.ErrGeometry, b.Category, b.Name)
		}
		if !seen[b.Category] {
			seen[b.Category] = true
			categories = append(categories, b.Category)
		}
		props := "{}"
		if b.Properties != nil {
			raw, err := json.Marshal(b.Properties)
			if err != nil {
				return 0, persistErr("encode boundary properties", err)
			}
			props = string(raw)
		}
		rows = append(rows, boundaryRow{
			Name:       b.Name,
			Category:   b.Category,
			RingWKT:    geo.ToWKT(b.Ring),
			Properties: props,
			ImportedAt: now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("category IN ?", categories).Delete(&boundaryRow{}).Error; err != nil {
			return fmt.Errorf("clear boundaries: %w", err)
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert boundaries: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, persistErr("import boundaries", err)
	}
	return len(rows), nil
}

// IntersectingBoundaries always returns ErrSpatialUnsupported; SQLite has no
// spatial predicates here.
func (s *Store) IntersectingBoundaries(context.Context, geo.Ring) (domain.Districts, error) {
	return nil, domain.ErrSpatialUnsupported
}

// ReplaceAssociations sets the districts linked to the alert with externalID,
// removing any previous links, and marks the alert matched.
func (s *Store) ReplaceAssociations(ctx context.Context, externalID string, d domain.Districts) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row alertRow
		err := tx.Select("id").Where("external_id = ?", externalID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("alert %s: %w", externalID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup alert: %w", err)
		}

		if err := tx.Where("alert_id = ?", row.ID).Delete(&associationRow{}).Error; err != nil {
			return fmt.Errorf("clear associations: %w", err)
		}
		err = tx.Model(&alertRow{}).Where("id = ?", row.ID).UpdateColumn("matched_at", s.now()).Error
		if err != nil {
			return fmt.Errorf("mark matched: %w", err)
		}

		assoc := d.Associations(externalID)
		if len(assoc) == 0 {
			return nil
		}
		rows := make([]associationRow, len(assoc))
		for i, a := range assoc {
			rows[i] = associationRow{AlertID: row.ID, Category: a.Category, Name: a.Name}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert associations: %w", err)
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil {
		return persistErr("replace associations", err)
	}
	return nil
}

// DistrictCoverage summarizes the stored boundaries per category.
func (s *Store) DistrictCoverage(ctx context.Context) ([]domain.Coverage, error) {
	bs, err := s.Boundaries(ctx, "")
	if err != nil {
		return nil, err
	}
	return domain.SummarizeCoverage(bs), nil
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

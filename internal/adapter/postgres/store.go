package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

// Store is a PostgreSQL-backed alert repository.
type Store struct {
	pool *pgxpool.Pool
	// allowSpatial is the configured preference; spatial records whether
	// PostGIS is actually usable.
	allowSpatial bool
	spatial      atomic.Bool
	clock        clockwork.Clock
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for row timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates a Store and verifies the connection. When allowSpatial is
// false, PostGIS is never used even if installed.
func New(ctx context.Context, dsn string, allowSpatial bool, logger *slog.Logger, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres connect: %w", domain.ErrPersistence, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: postgres ping: %w", domain.ErrPersistence, err)
	}

	s := &Store{pool: pool, allowSpatial: allowSpatial, clock: clockwork.NewRealClock(), logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if allowSpatial {
		s.spatial.Store(s.hasSpatialColumn(ctx))
	}
	return s, nil
}

// Migrate runs the schema DDL to create tables and indexes, enabling PostGIS
// when permitted and available.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("%w: postgres migrate: %w", domain.ErrPersistence, err)
	}
	if !s.allowSpatial {
		return nil
	}

	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		s.logger.Warn("postgis unavailable, district matching will use planar geometry", "error", err)
		s.spatial.Store(false)
		return nil
	}
	if _, err := s.pool.Exec(ctx, spatialDDL); err != nil {
		return fmt.Errorf("%w: postgres spatial migrate: %w", domain.ErrPersistence, err)
	}
	s.spatial.Store(true)
	return nil
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: postgres ping: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Spatial reports whether PostGIS predicates are in use.
func (s *Store) Spatial() bool {
	return s.spatial.Load()
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *Store) hasSpatialColumn(ctx context.Context) bool {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_name = 'boundaries' AND column_name = 'geom'
		)
	`).Scan(&ok)
	return err == nil && ok
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

// Package postgres implements the alert repository on PostgreSQL, using
// PostGIS spatial predicates when the extension is available.
package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS alerts (
    id             BIGSERIAL PRIMARY KEY,
    external_id    TEXT NOT NULL UNIQUE,
    title          TEXT NOT NULL DEFAULT '',
    event_type     TEXT NOT NULL DEFAULT '',
    category       TEXT NOT NULL DEFAULT 'OTHER',
    severity       TEXT NOT NULL DEFAULT '',
    urgency        TEXT NOT NULL DEFAULT '',
    certainty      TEXT NOT NULL DEFAULT '',
    message_type   TEXT NOT NULL DEFAULT '',
    response_type  TEXT NOT NULL DEFAULT '',
    description    TEXT NOT NULL DEFAULT '',
    effective_at   TIMESTAMPTZ NOT NULL,
    expires_at     TIMESTAMPTZ NOT NULL,
    ends_at        TIMESTAMPTZ,
    status         TEXT NOT NULL DEFAULT 'Active'
                   CHECK (status IN ('Active', 'Expired', 'Cancelled')),
    geocodes       JSONB NOT NULL DEFAULT '[]',
    geometry       JSONB NOT NULL DEFAULT '{"kind":"NONE"}',
    polygon_wkt    TEXT,
    geometry_valid BOOLEAN NOT NULL DEFAULT FALSE,
    is_county_wide BOOLEAN NOT NULL DEFAULT FALSE,
    matched_at     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE alerts ADD COLUMN IF NOT EXISTS matched_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS idx_alerts_window ON alerts (effective_at, expires_at, ends_at);
CREATE INDEX IF NOT EXISTS idx_alerts_status_created ON alerts (status, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_category ON alerts (category);

CREATE TABLE IF NOT EXISTS boundaries (
    id          BIGSERIAL PRIMARY KEY,
    name        TEXT NOT NULL,
    category    TEXT NOT NULL,
    ring_wkt    TEXT NOT NULL,
    properties  JSONB NOT NULL DEFAULT '{}',
    imported_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_boundaries_category ON boundaries (category, name);

CREATE TABLE IF NOT EXISTS alert_districts (
    alert_id BIGINT NOT NULL REFERENCES alerts (id) ON DELETE CASCADE,
    category TEXT NOT NULL,
    name     TEXT NOT NULL,
    PRIMARY KEY (alert_id, category, name)
);
`

// spatialDDL runs only when PostGIS is installed.
const spatialDDL = `
ALTER TABLE boundaries ADD COLUMN IF NOT EXISTS geom geometry(Polygon, 4326);
CREATE INDEX IF NOT EXISTS idx_boundaries_geom ON boundaries USING GIST (geom);
UPDATE boundaries SET geom = ST_GeomFromText(ring_wkt, 4326) WHERE geom IS NULL;
`

package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
)

type alertRow struct {
	ID            int64  `gorm:"primaryKey"`
	ExternalID    string `gorm:"uniqueIndex;size:512"`
	Title         string
	EventType     string    `gorm:"size:128"`
	Category      string    `gorm:"index;size:16"`
	Severity      string    `gorm:"size:32"`
	Urgency       string    `gorm:"size:32"`
	Certainty     string    `gorm:"size:32"`
	MessageType   string    `gorm:"size:16"`
	ResponseType  string    `gorm:"size:32"`
	Description   string    `gorm:"type:text"`
	EffectiveAt   time.Time `gorm:"index"`
	ExpiresAt     time.Time
	EndsAt        *time.Time
	Status        string  `gorm:"index;size:16"`
	Geocodes      string  `gorm:"type:text"`
	Geometry      string  `gorm:"type:text"`
	PolygonWKT    *string `gorm:"column:polygon_wkt;type:text"`
	GeometryValid bool
	IsCountyWide  bool
	MatchedAt     *time.Time
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (alertRow) TableName() string { return "alerts" }

type boundaryRow struct {
	ID         int64  `gorm:"primaryKey"`
	Name       string `gorm:"index;size:255"`
	Category   string `gorm:"index;size:64"`
	RingWKT    string `gorm:"column:ring_wkt;type:text"`
	Properties string `gorm:"type:text"`
	ImportedAt time.Time
}

func (boundaryRow) TableName() string { return "boundaries" }

type associationRow struct {
	AlertID  int64  `gorm:"primaryKey;autoIncrement:false"`
	Category string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"primaryKey;size:255"`
}

func (associationRow) TableName() string { return "alert_districts" }

func toAlertRow(a domain.Alert) (alertRow, error) {
	geocodes, err := json.Marshal(a.Geocodes)
	if err != nil {
		return alertRow{}, fmt.Errorf("marshal geocodes: %w", err)
	}
	geometry, err := json.Marshal(a.Geometry)
	if err != nil {
		return alertRow{}, fmt.Errorf("marshal geometry: %w", err)
	}
	row := alertRow{
		ExternalID:    a.ExternalID,
		Title:         a.Title,
		EventType:     a.EventType,
		Category:      a.Category,
		Severity:      a.Severity,
		Urgency:       a.Urgency,
		Certainty:     a.Certainty,
		MessageType:   a.MessageType,
		ResponseType:  a.ResponseType,
		Description:   a.Description,
		EffectiveAt:   a.EffectiveAt.UTC(),
		ExpiresAt:     a.ExpiresAt.UTC(),
		Status:        string(a.Status),
		Geocodes:      string(geocodes),
		Geometry:      string(geometry),
		GeometryValid: a.GeometryValid,
		IsCountyWide:  a.IsCountyWide,
	}
	if row.Status == "" {
		row.Status = string(domain.StatusActive)
	}
	if !a.EndsAt.IsZero() {
		t := a.EndsAt.UTC()
		row.EndsAt = &t
	}
	if ring, ok := a.Geometry.MatchRing(); ok {
		wkt := geo.ToWKT(ring)
		row.PolygonWKT = &wkt
	}
	return row, nil
}

func (r alertRow) toDomain() (domain.Alert, error) {
	a := domain.Alert{
		ID:            r.ID,
		ExternalID:    r.ExternalID,
		Title:         r.Title,
		EventType:     r.EventType,
		Category:      r.Category,
		Severity:      r.Severity,
		Urgency:       r.Urgency,
		Certainty:     r.Certainty,
		MessageType:   r.MessageType,
		ResponseType:  r.ResponseType,
		Description:   r.Description,
		EffectiveAt:   r.EffectiveAt.UTC(),
		ExpiresAt:     r.ExpiresAt.UTC(),
		Status:        domain.AlertStatus(r.Status),
		GeometryValid: r.GeometryValid,
		IsCountyWide:  r.IsCountyWide,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.EndsAt != nil {
		a.EndsAt = r.EndsAt.UTC()
	}
	if r.Geocodes != "" {
		if err := json.Unmarshal([]byte(r.Geocodes), &a.Geocodes); err != nil {
			return a, fmt.Errorf("decode geocodes: %w", err)
		}
	}
	if r.Geometry != "" {
		if err := json.Unmarshal([]byte(r.Geometry), &a.Geometry); err != nil {
			return a, fmt.Errorf("decode geometry: %w", err)
		}
	}
	return a, nil
}

// window returns the stored fields used for change detection.
func (r alertRow) window() domain.Alert {
	a := domain.Alert{EffectiveAt: r.EffectiveAt, ExpiresAt: r.ExpiresAt}
	if r.EndsAt != nil {
		a.EndsAt = *r.EndsAt
	}
	return a
}

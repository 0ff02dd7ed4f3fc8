package domain

import (
	"strings"
	"time"
)

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// QueryOptions filters alert searches. Zero values disable a filter.
type QueryOptions struct {
	// Text matches a case-insensitive substring of the title or description.
	Text     string
	Category string
	Severity string
	// From and To bound EffectiveAt, inclusive.
	From time.Time
	To   time.Time
	// Status filters on the derived status at query time.
	Status AlertStatus
	// Limit defaults to DefaultQueryLimit and is capped at MaxQueryLimit.
	Limit int
}

// WithDefaults returns a copy with Limit resolved and strings trimmed.
func (q QueryOptions) WithDefaults() QueryOptions {
	q.Text = strings.TrimSpace(q.Text)
	q.Category = strings.TrimSpace(q.Category)
	q.Severity = strings.TrimSpace(q.Severity)
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		q.Limit = MaxQueryLimit
	}
	return q
}

// Matches reports whether a satisfies every filter in q at now.
func (q QueryOptions) Matches(a Alert, now time.Time) bool {
	if q.Text != "" {
		needle := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(a.Title), needle) &&
			!strings.Contains(strings.ToLower(a.Description), needle) {
			return false
		}
	}
	if q.Category != "" && !strings.EqualFold(a.Category, q.Category) {
		return false
	}
	if q.Severity != "" && !strings.EqualFold(a.Severity, q.Severity) {
		return false
	}
	if !q.From.IsZero() && a.EffectiveAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && a.EffectiveAt.After(q.To) {
		return false
	}
	if q.Status != "" && a.CurrentStatus(now) != q.Status {
		return false
	}
	return true
}

// Package domain models weather-hazard alerts and the service-district
// boundaries they are matched against.
//
// # Alert Identity
//
// An [Alert] is keyed by its ExternalID, the identifier assigned by the
// upstream feed (the CAP <identifier>, or the GeoJSON feature id). It is never
// regenerated: re-reading the feed yields the same key, which is what makes
// ingestion idempotent.
//
// # Time Window
//
// Every alert carries up to three timestamps, all UTC:
//
//	EffectiveAt  when the hazard begins (CAP <effective>, falling back to <sent>)
//	ExpiresAt    when the message expires (CAP <expires>, required)
//	EndsAt       when the hazard ends (CAP <ends>, optional)
//
// A zero time.Time means "absent". When EndsAt is absent, ExpiresAt stands in
// for it; see [Alert.EffectiveEnd].
//
// # Status
//
// The persisted Status (Active, Expired, Cancelled) is an audit field written
// by ingestion and the expiry sweep. Whether an alert is current is decided by
// the derived window rule in [Alert.CurrentStatus]:
//
//	EffectiveAt <= now < EffectiveEnd()
//
// Cancelled alerts stay Cancelled regardless of their window.
//
// # Geocodes and Scope
//
// Geocodes are (scheme, value) pairs. The SAME scheme carries six-digit
// FIPS-derived county codes (e.g. "039137" for Putnam County, Ohio); the UGC
// scheme carries NWS zone codes ("OHZ016", "OHC137"). Scope is decided on SAME
// codes only; see [InScope].
//
// # Categories
//
// Event types are bucketed for querying:
//
//	SEVERE  Tornado / Severe Thunderstorm / Flash Flood Warning
//	WINTER  Winter Storm / Ice Storm / Blizzard Warning, Winter Weather Advisory
//	FLOOD   Flood Warning / Watch / Advisory
//	HEAT    Excessive Heat Warning, Heat Advisory
//	WIND    High Wind Warning, Wind Advisory
//	OTHER   everything else
//
// Boundary categories (fire, ems, electric, ...) are a separate, open set
// configured at startup; see [BoundaryCategory].
package domain

package domain

import "strings"

// InScope reports whether any SAME geocode of a equals targetCode. Alerts
// without geocodes are out of scope.
func InScope(a Alert, targetCode string) bool {
	targetCode = strings.TrimSpace(targetCode)
	if targetCode == "" {
		return false
	}
	for _, gc := range a.Geocodes {
		if gc.Scheme == SchemeJurisdiction && strings.TrimSpace(gc.Value) == targetCode {
			return true
		}
	}
	return false
}

// HasJurisdiction reports whether a carries at least one SAME geocode.
func HasJurisdiction(a Alert) bool {
	for _, gc := range a.Geocodes {
		if gc.Scheme == SchemeJurisdiction && gc.Value != "" {
			return true
		}
	}
	return false
}

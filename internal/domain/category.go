package domain

import "strings"

// Alert categories.
const (
	CategorySevere = "SEVERE"
	CategoryWinter = "WINTER"
	CategoryFlood  = "FLOOD"
	CategoryHeat   = "HEAT"
	CategoryWind   = "WIND"
	CategoryOther  = "OTHER"
)

var categoryByEvent = map[string]string{
	"tornado warning":             CategorySevere,
	"severe thunderstorm warning": CategorySevere,
	"flash flood warning":         CategorySevere,
	"winter storm warning":        CategoryWinter,
	"ice storm warning":           CategoryWinter,
	"blizzard warning":            CategoryWinter,
	"winter weather advisory":     CategoryWinter,
	"flood warning":               CategoryFlood,
	"flood watch":                 CategoryFlood,
	"flood advisory":              CategoryFlood,
	"excessive heat warning":      CategoryHeat,
	"heat advisory":               CategoryHeat,
	"high wind warning":           CategoryWind,
	"wind advisory":               CategoryWind,
}

// Classify returns the category bucket for an event type. Matching is
// case-insensitive; unknown events are OTHER.
func Classify(eventType string) string {
	if c, ok := categoryByEvent[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return c
	}
	return CategoryOther
}

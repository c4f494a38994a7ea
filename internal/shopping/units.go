package shopping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Conversion is the result of ConvertUnit. Note is empty when nothing changed.
type Conversion struct {
	Quantity float64
	Unit     string
	Note     string
}

var (
	gramUnits = map[string]bool{
		"g": true, "gr": true, "gram": true, "grams": true, "gramme": true, "grammes": true,
	}
	milliliterUnits = map[string]bool{
		"ml": true, "milliliter": true, "milliliters": true, "millilitre": true, "millilitres": true,
	}
	// countable units and the dozen unit of the same language
	dozenUnits = map[string]string{
		"unit": "dozen", "units": "dozen",
		"unité": "douzaine", "unités": "douzaine",
		"unite": "douzaine", "unites": "douzaine",
	}
)

// ConvertUnit normalizes a summed quantity for display. Unknown units pass
// through unchanged. It never fails.
func ConvertUnit(quantity float64, unit string, prefs Preferences) Conversion {
	key := strings.ToLower(strings.TrimSpace(unit))

	switch {
	case gramUnits[key] && prefs.PreferKgOverG && quantity >= 1000:
		return Conversion{Quantity: quantity / 1000, Unit: "kg", Note: conversionNote(quantity, unit)}
	case milliliterUnits[key] && prefs.PreferLOverMl && quantity >= 1000:
		return Conversion{Quantity: quantity / 1000, Unit: "L", Note: conversionNote(quantity, unit)}
	}

	if dozen, ok := dozenUnits[key]; ok && prefs.GroupDozens && isDozenMultiple(quantity) {
		return Conversion{Quantity: quantity / 12, Unit: dozen, Note: conversionNote(quantity, unit)}
	}

	return Conversion{Quantity: quantity, Unit: unit}
}

func isDozenMultiple(q float64) bool {
	return q >= 12 && q == math.Trunc(q) && math.Mod(q, 12) == 0
}

func conversionNote(quantity float64, unit string) string {
	return fmt.Sprintf("converted from %s %s", strconv.FormatFloat(quantity, 'f', -1, 64), unit)
}

// Package units provides shared constants and validation for distance units
package units

// Unit constants
const (
	CM = "cm"
	M  = "m"
	FT = "ft"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, M, FT}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "cm, m, ft"
}

// ConvertDistance converts a distance from centimetres to the target units.
// Anchor positions, range samples and position estimates are all stored in cm.
func ConvertDistance(distanceCM float64, targetUnits string) float64 {
	switch targetUnits {
	case M:
		return distanceCM / 100.0
	case FT:
		return distanceCM * 0.0328084 // cm to feet
	case CM:
		return distanceCM // no conversion needed
	default:
		return distanceCM // default to cm if unknown unit
	}
}

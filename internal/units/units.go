// Package units provides shared constants and conversion for speed and
// acceleration units. Kinematic state is stored in SI units (m/s, m/s²);
// conversion happens at the API boundary only.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

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
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units fall back to m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694 // m/s to mph
	case KMPH, KPH:
		return speedMPS * 3.6 // m/s to km/h
	case MPS:
		return speedMPS
	default:
		return speedMPS
	}
}

// ConvertAcceleration converts an acceleration from m/s² to the target
// units' per-second rate (mph/s, km/h/s). The same scale factors as
// ConvertSpeed apply since only the distance unit changes.
func ConvertAcceleration(accMPS2 float64, targetUnits string) float64 {
	return ConvertSpeed(accMPS2, targetUnits)
}

// SpeedLabel returns the display label for a speed unit.
func SpeedLabel(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}

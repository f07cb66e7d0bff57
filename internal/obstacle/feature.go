// Package obstacle maintains per-object kinematic state history for the
// prediction side of a perception stack. Each tracked obstacle owns an
// ordered feature history (most recent first) built from raw per-frame
// detections, plus handles to the opaque recursive estimators that smooth
// its motion. All entity operations are safe for concurrent use.
package obstacle

import "math"

// Type classifies a tracked obstacle. The value is overwritten on every
// successful ingestion; perception may legitimately re-classify an object
// between frames (e.g. unknown_movable -> vehicle).
type Type string

const (
	TypeUnknown          Type = "unknown"
	TypeUnknownMovable   Type = "unknown_movable"
	TypeUnknownUnmovable Type = "unknown_unmovable"
	TypePedestrian       Type = "pedestrian"
	TypeBicycle          Type = "bicycle"
	TypeVehicle          Type = "vehicle"
)

// ValidTypes lists every accepted obstacle classification.
var ValidTypes = []Type{
	TypeUnknown,
	TypeUnknownMovable,
	TypeUnknownUnmovable,
	TypePedestrian,
	TypeBicycle,
	TypeVehicle,
}

// IsValidType reports whether t is one of the known classifications.
func IsValidType(t Type) bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Vector3 is a world-frame 3D vector in SI units.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the Euclidean magnitude of the vector.
func (v Vector3) Norm() float64 {
	return math.Hypot(math.Hypot(v.X, v.Y), v.Z)
}

// Feature is one timestamped, fully-derived kinematic snapshot of a tracked
// obstacle. Every field is set atomically during a single successful
// ingestion; a Feature visible in history is never partially populated.
// Positions are metres, velocities m/s, accelerations m/s², angles radians.
type Feature struct {
	ID              int     `json:"id"`
	Timestamp       float64 `json:"timestamp"` // seconds
	Position        Vector3 `json:"position"`
	Velocity        Vector3 `json:"velocity"`
	VelocityHeading float64 `json:"velocity_heading"` // atan2(vy, vx), planar
	Speed           float64 `json:"speed"`            // ‖velocity‖
	Acceleration    Vector3 `json:"acceleration"`
	AccMagnitude    float64 `json:"acc_magnitude"` // ‖acceleration‖
	Theta           float64 `json:"theta"`         // perception yaw estimate
}

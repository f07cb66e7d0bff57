package obstacle

// Detection is one raw per-frame observation handed over by perception.
// Every sub-field is independently optional: nil means the sensor did not
// report that quantity this frame. The defaulting rules live in Insert,
// which is the single place a Detection is turned into a Feature.
type Detection struct {
	ID        *int             `json:"id,omitempty"`
	Type      *Type            `json:"type,omitempty"`
	Timestamp *float64         `json:"timestamp,omitempty"` // seconds; <= 0 treated as absent
	Position  *DetectionVector `json:"position,omitempty"`
	Velocity  *DetectionVector `json:"velocity,omitempty"`
	Theta     *float64         `json:"theta,omitempty"`
}

// DetectionVector is a 3D vector whose axes are each independently
// optional. A nil axis defaults to 0.0 — there is no all-or-nothing
// fallback: {y: 5} resolves to (0, 5, 0).
type DetectionVector struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

// resolve applies the per-axis defaulting rule. A nil receiver (the whole
// sub-field absent) resolves to the zero vector.
func (v *DetectionVector) resolve() Vector3 {
	var out Vector3
	if v == nil {
		return out
	}
	if v.X != nil {
		out.X = *v.X
	}
	if v.Y != nil {
		out.Y = *v.Y
	}
	if v.Z != nil {
		out.Z = *v.Z
	}
	return out
}

// DetectionFrame is one perception frame: a batch of detections sharing a
// capture timestamp. It is the wire shape accepted over UDP and HTTP and
// the record shape of replay logs (one JSON object per datagram or line).
type DetectionFrame struct {
	Timestamp  float64     `json:"timestamp"` // seconds; 0 lets the receiver substitute its clock
	Detections []Detection `json:"detections"`
}

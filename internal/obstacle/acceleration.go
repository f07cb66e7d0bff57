package obstacle

import "math"

// Numerical-stability constants for the damped acceleration estimator.
// These are internal: tuning them is not a supported configuration.
const (
	// dampingSigma keeps the damping sigmoid finite as axis velocity
	// approaches zero.
	dampingSigma = 0.001
	// timestampEpsilon is the tolerance for the "strictly newer" timestamp
	// comparison. Near-equal timestamps would otherwise blow up the finite
	// difference before damping and clamping can contain it.
	timestampEpsilon = 1e-6
)

// damp is a sigmoid in 1/(|x|+sigma): it tends toward 0 as the axis
// velocity magnitude goes to 0 (suppressing noise-dominated low-speed
// estimates) and toward 0.5 as it grows large.
func damp(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(1.0/(math.Abs(x)+dampingSigma)))
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// timestampAfter reports whether curr is tolerantly greater than prev.
func timestampAfter(curr, prev float64) bool {
	return curr-prev > timestampEpsilon
}

// dampedAcceleration estimates a bounded per-axis acceleration from two
// consecutive velocity samples. A plain finite difference is dominated by
// sensor and timestamp jitter at low speed, so each axis is scaled by a
// damping factor derived from the current velocity on that axis before
// being clamped to [minAcc, maxAcc]. If curr is not tolerantly newer than
// prev the estimate is the zero vector. Returns the acceleration vector
// and its magnitude.
func dampedAcceleration(currVel Vector3, currTS float64, prevVel Vector3, prevTS float64, minAcc, maxAcc float64) (Vector3, float64) {
	var acc Vector3
	if timestampAfter(currTS, prevTS) {
		dt := currTS - prevTS
		acc.X = clamp((currVel.X-prevVel.X)/dt*damp(currVel.X), minAcc, maxAcc)
		acc.Y = clamp((currVel.Y-prevVel.Y)/dt*damp(currVel.Y), minAcc, maxAcc)
		acc.Z = clamp((currVel.Z-prevVel.Z)/dt*damp(currVel.Z), minAcc, maxAcc)
	}
	return acc, acc.Norm()
}

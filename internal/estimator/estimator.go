// Package estimator provides the opaque recursive state estimators attached
// to tracked obstacles: a planar motion filter smoothing world-frame
// position and a per-lane constant-velocity filter over lane-frame
// coordinates. Consumers treat both through the Filter contract — feed one
// observation, read back the current estimate — and never inspect internals.
package estimator

import (
	kalman "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Filter is the contract every per-obstacle estimator satisfies: accept one
// observation pair, return the current filtered estimate. Implementations
// are stateful and not safe for concurrent use; callers serialise access
// (obstacle entities feed their filters under the entity lock).
type Filter interface {
	// Observe folds one measurement pair into the filter state.
	Observe(a, b float64) error
	// Estimate returns the current filtered estimate.
	Estimate() (a, b float64)
}

// MotionConfig tunes the planar motion filter.
type MotionConfig struct {
	DT               float64 // nominal perception frame step, seconds
	AccelNoise       float64 // process acceleration noise sigma
	MeasurementNoise float64 // position measurement noise sigma
}

// DefaultMotionConfig mirrors the tuning defaults for a 10 Hz perception
// feed.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{DT: 0.1, AccelNoise: 2.0, MeasurementNoise: 0.1}
}

// Motion smooths an obstacle's world-frame (x, y) position with a 2D
// constant-acceleration Kalman filter.
type Motion struct {
	kf *kalman.Kalman2D
}

// control inputs for the underlying filter's acceleration term.
const (
	motionControlX = 1.0
	motionControlY = 1.0
)

// NewMotion creates a motion filter seeded at the first observed position.
func NewMotion(cfg MotionConfig, x0, y0 float64) *Motion {
	kf := kalman.NewKalman2D(
		cfg.DT,
		motionControlX, motionControlY,
		cfg.AccelNoise,
		cfg.MeasurementNoise, cfg.MeasurementNoise,
		kalman.WithState2D(x0, y0),
	)
	return &Motion{kf: kf}
}

// Observe advances the filter one step and fuses the measured position.
func (m *Motion) Observe(x, y float64) error {
	m.kf.Predict()
	if err := m.kf.Update(x, y); err != nil {
		return errors.Wrap(err, "can't update motion tracker")
	}
	return nil
}

// Estimate returns the current smoothed position.
func (m *Motion) Estimate() (float64, float64) {
	return m.kf.GetState()
}

package estimator

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LaneConfig tunes the per-lane filter.
type LaneConfig struct {
	DT               float64 // nominal perception frame step, seconds
	ProcessNoise     float64 // process noise variance per state component
	MeasurementNoise float64 // lane-frame measurement noise variance
}

// DefaultLaneConfig mirrors the tuning defaults.
func DefaultLaneConfig() LaneConfig {
	return LaneConfig{DT: 0.1, ProcessNoise: 0.05, MeasurementNoise: 0.3}
}

// initialStateVariance seeds the covariance diagonal: position components
// start near the first measurement, velocity components start uncertain.
const (
	initialPosVariance = 1.0
	initialVelVariance = 10.0
)

// Lane is a 4-state constant-velocity Kalman filter over lane-frame
// coordinates [s, l, vs, vl], where s runs along the lane and l is the
// signed lateral offset from the lane centreline. Measurements are (s, l).
type Lane struct {
	x *mat.VecDense // state [s l vs vl]
	p *mat.Dense    // state covariance, 4x4

	f *mat.Dense // state transition
	q *mat.Dense // process noise
	h *mat.Dense // observation model, 2x4
	r *mat.Dense // measurement noise, 2x2
}

// NewLane creates a lane filter seeded at the first lane-frame observation
// with zero initial velocity.
func NewLane(cfg LaneConfig, s0, l0 float64) *Lane {
	x := mat.NewVecDense(4, []float64{s0, l0, 0, 0})

	p := mat.NewDense(4, 4, nil)
	p.Set(0, 0, initialPosVariance)
	p.Set(1, 1, initialPosVariance)
	p.Set(2, 2, initialVelVariance)
	p.Set(3, 3, initialVelVariance)

	f := mat.NewDense(4, 4, []float64{
		1, 0, cfg.DT, 0,
		0, 1, 0, cfg.DT,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})

	q := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		q.Set(i, i, cfg.ProcessNoise)
	}

	h := mat.NewDense(2, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
	})

	r := mat.NewDense(2, 2, nil)
	r.Set(0, 0, cfg.MeasurementNoise)
	r.Set(1, 1, cfg.MeasurementNoise)

	return &Lane{x: x, p: p, f: f, q: q, h: h, r: r}
}

// Observe runs one predict/update cycle with the measured lane-frame
// position (s, l).
func (t *Lane) Observe(s, l float64) error {
	// Predict: x = F x, P = F P Fᵀ + Q.
	t.x.MulVec(t.f, t.x)
	predicted := mat.NewDense(4, 4, nil)
	predicted.Product(t.f, t.p, t.f.T())
	t.p.Add(predicted, t.q)

	// Innovation: y = z − H x, S = H P Hᵀ + R.
	z := mat.NewVecDense(2, []float64{s, l})
	y := mat.NewVecDense(2, nil)
	y.MulVec(t.h, t.x)
	y.SubVec(z, y)

	cov := mat.NewDense(2, 2, nil)
	cov.Product(t.h, t.p, t.h.T())
	cov.Add(cov, t.r)

	covInv := mat.NewDense(2, 2, nil)
	if err := covInv.Inverse(cov); err != nil {
		return errors.Wrap(err, "can't invert innovation covariance")
	}

	// Gain: K = P Hᵀ S⁻¹.
	gain := mat.NewDense(4, 2, nil)
	gain.Product(t.p, t.h.T(), covInv)

	// Correct: x = x + K y, P = (I − K H) P.
	corr := mat.NewVecDense(4, nil)
	corr.MulVec(gain, y)
	t.x.AddVec(t.x, corr)

	kh := mat.NewDense(4, 4, nil)
	kh.Mul(gain, t.h)
	ikh := identity4()
	ikh.Sub(ikh, kh)
	next := mat.NewDense(4, 4, nil)
	next.Mul(ikh, t.p)
	t.p = next

	return nil
}

// Estimate returns the current smoothed lane-frame position (s, l).
func (t *Lane) Estimate() (float64, float64) {
	return t.x.AtVec(0), t.x.AtVec(1)
}

// Velocity returns the current lane-frame velocity estimate (vs, vl).
func (t *Lane) Velocity() (float64, float64) {
	return t.x.AtVec(2), t.x.AtVec(3)
}

func identity4() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		m.Set(i, i, 1)
	}
	return m
}

package obstacle

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Summary condenses a feature history into track-level kinematics.
type Summary struct {
	ObservationCount int     `json:"observation_count"`
	Duration         float64 `json:"duration_secs"`
	SpeedMean        float64 `json:"speed_mean"`
	SpeedPeak        float64 `json:"speed_peak"`
	SpeedP50         float64 `json:"speed_p50"`
	SpeedP85         float64 `json:"speed_p85"`
	SpeedP95         float64 `json:"speed_p95"`
	AccelMean        float64 `json:"accel_mean"`
	Straightness     float64 `json:"straightness"`
}

// Summary computes track-level statistics over the stored history. An
// empty history yields the zero Summary.
func (o *Obstacle) Summary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	var s Summary
	n := len(o.history)
	if n == 0 {
		return s
	}
	s.ObservationCount = n
	s.Duration = o.history[0].Timestamp - o.history[n-1].Timestamp

	speeds := make([]float64, n)
	accels := make([]float64, n)
	for i := range o.history {
		speeds[i] = o.history[i].Speed
		accels[i] = o.history[i].AccMagnitude
		if speeds[i] > s.SpeedPeak {
			s.SpeedPeak = speeds[i]
		}
	}
	s.SpeedMean = stat.Mean(speeds, nil)
	s.AccelMean = stat.Mean(accels, nil)

	sort.Float64s(speeds)
	s.SpeedP50 = stat.Quantile(0.50, stat.Empirical, speeds, nil)
	s.SpeedP85 = stat.Quantile(0.85, stat.Empirical, speeds, nil)
	s.SpeedP95 = stat.Quantile(0.95, stat.Empirical, speeds, nil)

	s.Straightness = straightness(o.history)
	return s
}

// straightness is start-to-end displacement over total path length in the
// ground plane (0=curved, 1=straight). Histories shorter than two
// features score 0.
func straightness(history []Feature) float64 {
	if len(history) < 2 {
		return 0
	}

	// History is newest-first; walk it oldest to newest.
	oldest := history[len(history)-1].Position
	newest := history[0].Position
	direct := math.Hypot(newest.X-oldest.X, newest.Y-oldest.Y)

	var total float64
	for i := len(history) - 1; i > 0; i-- {
		a := history[i].Position
		b := history[i-1].Position
		total += math.Hypot(b.X-a.X, b.Y-a.Y)
	}

	if total > 0 {
		return direct / total
	}
	return 0
}

// Package pipeline wires the perception ingestion path: detections flow
// into the obstacle container, accepted features feed the per-obstacle
// estimators, and an optional sink records them for later analysis.
package pipeline

import (
	"github.com/banshee-data/foresight/internal/config"
	"github.com/banshee-data/foresight/internal/estimator"
	"github.com/banshee-data/foresight/internal/monitoring"
	"github.com/banshee-data/foresight/internal/obstacle"
	"github.com/banshee-data/foresight/internal/timeutil"
)

// FeatureSink receives every accepted feature after estimator smoothing.
// Implementations must not block: the ingestion path calls Record inline.
type FeatureSink interface {
	Record(obstacleID int, typ obstacle.Type, f obstacle.Feature)
}

// Runtime bundles the moving parts of the ingestion path so wiring stays
// explicit and tests can swap any of them out.
type Runtime struct {
	Container *obstacle.Container
	Layout    *LaneLayout

	MotionCfg estimator.MotionConfig
	LaneCfg   estimator.LaneConfig

	Sink  FeatureSink
	Clock timeutil.Clock
}

// NewRuntime assembles a runtime from tuning. sink may be nil when
// feature persistence is disabled.
func NewRuntime(tc *config.TuningConfig, sink FeatureSink) *Runtime {
	container := obstacle.NewContainer(obstacle.ContainerConfig{
		TTL:          tc.GetObstacleTTL(),
		MaxObstacles: uint64(tc.GetMaxObstacles()),
		Entity: obstacle.Config{
			MinAcc:            tc.GetMinAcc(),
			MaxAcc:            tc.GetMaxAcc(),
			MaxFeatureHistory: tc.GetMaxFeatureHistory(),
		},
	})
	return &Runtime{
		Container: container,
		Layout:    NewLaneLayout(tc.GetLaneCount(), tc.GetLaneWidth()),
		MotionCfg: estimator.MotionConfig{
			DT:               tc.GetFrameDT(),
			AccelNoise:       tc.GetMotionAccelNoise(),
			MeasurementNoise: tc.GetMotionMeasurementNoise(),
		},
		LaneCfg: estimator.LaneConfig{
			DT:               tc.GetFrameDT(),
			ProcessNoise:     tc.GetLaneProcessNoise(),
			MeasurementNoise: tc.GetLaneMeasurementNoise(),
		},
		Sink:  sink,
		Clock: timeutil.RealClock{},
	}
}

// Start launches the container expiry loop.
func (rt *Runtime) Start() {
	rt.Container.Start()
}

// Stop halts the container expiry loop.
func (rt *Runtime) Stop() {
	rt.Container.Stop()
}

// IngestFrame pushes one detection frame through the full path. A frame
// timestamp of zero (or less) is replaced with the runtime clock before
// ingestion so sensors without a timebase still order correctly.
func (rt *Runtime) IngestFrame(frame obstacle.DetectionFrame) obstacle.FrameStats {
	if frame.Timestamp <= 0 {
		now := rt.Clock.Now()
		frame.Timestamp = float64(now.UnixNano()) / 1e9
	}

	stats := obstacle.FrameStats{Timestamp: frame.Timestamp, Detections: len(frame.Detections)}
	for i := range frame.Detections {
		det := frame.Detections[i]
		if err := rt.Container.InsertDetection(det, frame.Timestamp); err != nil {
			monitoring.Diagf("frame [%.6f] detection %d rejected: %v", frame.Timestamp, i, err)
			stats.Rejected++
			continue
		}
		stats.Accepted++

		o, ok := rt.Container.Obstacle(*det.ID)
		if !ok {
			// Evicted between insert and lookup; nothing left to smooth.
			continue
		}
		rt.smooth(o)

		if rt.Sink != nil {
			rt.Sink.Record(o.ID(), o.Type(), o.LatestFeature())
		}
	}
	return stats
}

// smooth runs the estimator steps for an obstacle's newest feature: the
// planar motion filter refines the raw position in place, then the
// lane-frame tracker for the feature's lane consumes the refined point.
func (rt *Runtime) smooth(o *obstacle.Obstacle) {
	f := o.LatestFeature()
	x, y := f.Position.X, f.Position.Y

	if tracker, ok := o.MotionTracker(); ok {
		if err := tracker.Observe(x, y); err != nil {
			monitoring.Diagf("obstacle [%d] motion update failed: %v", o.ID(), err)
		} else {
			x, y = tracker.Estimate()
			err := o.UpdateLatestFeature(func(f *obstacle.Feature) {
				f.Position.X = x
				f.Position.Y = y
			})
			if err != nil {
				monitoring.Diagf("obstacle [%d] position write-back failed: %v", o.ID(), err)
			}
		}
	} else {
		o.SetMotionTracker(estimator.NewMotion(rt.MotionCfg, x, y))
	}

	laneID, s, l, ok := rt.Layout.Locate(x, y)
	if !ok {
		monitoring.Tracef("obstacle [%d] outside the corridor at (%.2f, %.2f)", o.ID(), x, y)
		return
	}
	if !o.HasLaneTracker(laneID) {
		o.SetLaneTracker(laneID, estimator.NewLane(rt.LaneCfg, s, l))
	} else if err := o.LaneTracker(laneID).Observe(s, l); err != nil {
		monitoring.Diagf("obstacle [%d] lane %s update failed: %v", o.ID(), laneID, err)
	}
}

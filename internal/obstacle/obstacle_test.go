package obstacle

import (
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func tptr(v Type) *Type       { return &v }

// det builds a fully-populated detection for the common test path.
func det(id int, typ Type, ts float64, pos, vel Vector3) Detection {
	return Detection{
		ID:        iptr(id),
		Type:      tptr(typ),
		Timestamp: fptr(ts),
		Position:  &DetectionVector{X: fptr(pos.X), Y: fptr(pos.Y), Z: fptr(pos.Z)},
		Velocity:  &DetectionVector{X: fptr(vel.X), Y: fptr(vel.Y), Z: fptr(vel.Z)},
	}
}

type stubFilter struct {
	observed int
	a, b     float64
}

func (s *stubFilter) Observe(a, b float64) error {
	s.observed++
	s.a, s.b = a, b
	return nil
}

func (s *stubFilter) Estimate() (float64, float64) { return s.a, s.b }

func TestInsert_HistoryGrowsNewestFirst(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	for i := 1; i <= 5; i++ {
		err := o.Insert(det(3, TypeVehicle, float64(i), Vector3{X: float64(i)}, Vector3{X: 1}), 0)
		require.NoError(t, err)
		assert.Equal(t, i, o.HistorySize())
		assert.Equal(t, float64(i), o.LatestFeature().Timestamp)
	}

	features := o.Features(0)
	require.Len(t, features, 5)
	for i := 1; i < len(features); i++ {
		assert.Greater(t, features[i-1].Timestamp, features[i].Timestamp,
			"history must be strictly descending at %d", i)
	}
}

func TestInsert_TimestampResolution(t *testing.T) {
	t.Parallel()

	t.Run("detection timestamp wins when positive", func(t *testing.T) {
		t.Parallel()
		o := New(DefaultConfig())
		require.NoError(t, o.Insert(det(1, TypeVehicle, 42.5, Vector3{}, Vector3{}), 7.0))
		assert.Equal(t, 42.5, o.Timestamp())
	})

	t.Run("missing detection timestamp uses ingestion clock", func(t *testing.T) {
		t.Parallel()
		o := New(DefaultConfig())
		d := det(1, TypeVehicle, 0, Vector3{}, Vector3{})
		d.Timestamp = nil
		require.NoError(t, o.Insert(d, 7.0))
		assert.Equal(t, 7.0, o.Timestamp())
	})

	t.Run("zero detection timestamp uses ingestion clock", func(t *testing.T) {
		t.Parallel()
		o := New(DefaultConfig())
		require.NoError(t, o.Insert(det(1, TypeVehicle, 0.0, Vector3{}, Vector3{}), 7.0))
		assert.Equal(t, 7.0, o.Timestamp())
	})

	t.Run("negative detection timestamp uses ingestion clock", func(t *testing.T) {
		t.Parallel()
		o := New(DefaultConfig())
		require.NoError(t, o.Insert(det(1, TypeVehicle, -3.0, Vector3{}, Vector3{}), 7.0))
		assert.Equal(t, 7.0, o.Timestamp())
	})
}

func TestInsert_StaleRejection(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())
	require.NoError(t, o.Insert(det(3, TypeVehicle, 10.0, Vector3{X: 1}, Vector3{X: 2}), 0))
	require.NoError(t, o.Insert(det(3, TypeVehicle, 11.0, Vector3{X: 2}, Vector3{X: 2}), 0))
	before := o.Features(0)

	t.Run("older frame rejected", func(t *testing.T) {
		err := o.Insert(det(3, TypePedestrian, 10.5, Vector3{X: 9}, Vector3{X: 9}), 0)
		require.ErrorIs(t, err, ErrStaleTimestamp)
	})

	t.Run("equal timestamp rejected", func(t *testing.T) {
		err := o.Insert(det(3, TypePedestrian, 11.0, Vector3{X: 9}, Vector3{X: 9}), 0)
		require.ErrorIs(t, err, ErrStaleTimestamp)
	})

	// The rejections above must not have touched anything: same size, same
	// bytes, same classification.
	assert.Equal(t, 2, o.HistorySize())
	assert.Equal(t, TypeVehicle, o.Type())
	if diff := cmp.Diff(before, o.Features(0)); diff != "" {
		t.Errorf("history changed across rejected inserts (-before +after):\n%s", diff)
	}
}

func TestInsert_IdentityLockIn(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())
	assert.Equal(t, UnboundID, o.ID())

	require.NoError(t, o.Insert(det(7, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	assert.Equal(t, 7, o.ID())

	t.Run("mismatched id rejected", func(t *testing.T) {
		err := o.Insert(det(8, TypeVehicle, 2.0, Vector3{}, Vector3{}), 0)
		require.ErrorIs(t, err, ErrIDMismatch)
		assert.Equal(t, 7, o.ID())
		assert.Equal(t, 1, o.HistorySize())
	})

	t.Run("missing id rejected", func(t *testing.T) {
		d := det(7, TypeVehicle, 2.0, Vector3{}, Vector3{})
		d.ID = nil
		require.ErrorIs(t, o.Insert(d, 0), ErrMissingID)
	})

	t.Run("negative id treated as missing", func(t *testing.T) {
		err := o.Insert(det(-4, TypeVehicle, 2.0, Vector3{}, Vector3{}), 0)
		require.ErrorIs(t, err, ErrMissingID)
	})

	t.Run("matching id still accepted", func(t *testing.T) {
		require.NoError(t, o.Insert(det(7, TypeVehicle, 2.0, Vector3{}, Vector3{}), 0))
		assert.Equal(t, 2, o.HistorySize())
	})
}

func TestInsert_TypeRequiredAndOverwritten(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	d := det(3, TypeVehicle, 1.0, Vector3{}, Vector3{})
	d.Type = nil
	require.ErrorIs(t, o.Insert(d, 0), ErrMissingType)

	empty := Type("")
	d = det(3, TypeVehicle, 1.0, Vector3{}, Vector3{})
	d.Type = &empty
	require.ErrorIs(t, o.Insert(d, 0), ErrMissingType)

	require.NoError(t, o.Insert(det(3, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	assert.Equal(t, TypeVehicle, o.Type())

	// Classification follows the newest accepted detection.
	require.NoError(t, o.Insert(det(3, TypePedestrian, 2.0, Vector3{}, Vector3{}), 0))
	assert.Equal(t, TypePedestrian, o.Type())
}

func TestInsert_CommitAtomicity(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	// A first insert that fails type resolution must leave the id unbound
	// and the history empty: nothing commits until everything passes.
	d := det(9, TypeVehicle, 1.0, Vector3{X: 5}, Vector3{X: 5})
	d.Type = nil
	require.ErrorIs(t, o.Insert(d, 0), ErrMissingType)
	assert.Equal(t, UnboundID, o.ID())
	assert.Equal(t, Type(""), o.Type())
	assert.Equal(t, 0, o.HistorySize())

	// The same obstacle is still usable afterwards.
	require.NoError(t, o.Insert(det(9, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	assert.Equal(t, 9, o.ID())
}

func TestInsert_FieldDefaulting(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	d := Detection{
		ID:        iptr(2),
		Type:      tptr(TypeBicycle),
		Timestamp: fptr(1.0),
		Position:  &DetectionVector{Y: fptr(5.0)},
	}
	require.NoError(t, o.Insert(d, 0))

	f := o.LatestFeature()
	assert.Equal(t, Vector3{X: 0, Y: 5, Z: 0}, f.Position)
	assert.Equal(t, Vector3{}, f.Velocity)
	assert.Equal(t, 0.0, f.Speed)
	assert.Equal(t, 0.0, f.VelocityHeading)
	assert.Equal(t, 0.0, f.Theta)
	assert.Equal(t, Vector3{}, f.Acceleration)
}

func TestInsert_KinematicsDerivation(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	require.NoError(t, o.Insert(det(7, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	require.NoError(t, o.Insert(det(7, TypeVehicle, 2.0, Vector3{X: 2}, Vector3{X: 2}), 0))

	require.Equal(t, 2, o.HistorySize())
	f := o.LatestFeature()
	assert.Equal(t, 7, f.ID)
	assert.Equal(t, 2.0, f.Speed)
	assert.Equal(t, 0.0, f.VelocityHeading)

	// raw (2-0)/1 damped by 1/(1+exp(1/(2+0.001))), inside the ±10 clamp.
	want := 2.0 / (1.0 + math.Exp(1.0/2.001))
	assert.InDelta(t, want, f.Acceleration.X, 1e-9)
	assert.Equal(t, 0.0, f.Acceleration.Y)
	assert.Equal(t, 0.0, f.Acceleration.Z)
	assert.InDelta(t, want, f.AccMagnitude, 1e-9)

	// First feature keeps zero acceleration: there was nothing to diff
	// against.
	assert.Equal(t, Vector3{}, o.Feature(1).Acceleration)
}

func TestInsert_AccelerationClamped(t *testing.T) {
	t.Parallel()
	o := New(Config{MinAcc: -10, MaxAcc: 10})

	require.NoError(t, o.Insert(det(1, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	require.NoError(t, o.Insert(det(1, TypeVehicle, 1.001, Vector3{}, Vector3{X: 50, Y: -50}), 0))

	f := o.LatestFeature()
	assert.Equal(t, 10.0, f.Acceleration.X)
	assert.Equal(t, -10.0, f.Acceleration.Y)
}

func TestInsert_VelocityHeading(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		vel  Vector3
		want float64
	}{
		{"northeast", Vector3{X: 1, Y: 1}, math.Pi / 4},
		{"west", Vector3{X: -1, Y: 0}, math.Pi},
		{"south", Vector3{X: 0, Y: -2}, -math.Pi / 2},
		{"stationary", Vector3{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := New(DefaultConfig())
			require.NoError(t, o.Insert(det(1, TypeVehicle, 1.0, Vector3{}, tc.vel), 0))
			assert.InDelta(t, tc.want, o.LatestFeature().VelocityHeading, 1e-12)
		})
	}
}

func TestInsert_ThetaStored(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	d := det(1, TypeVehicle, 1.0, Vector3{}, Vector3{})
	d.Theta = fptr(1.25)
	require.NoError(t, o.Insert(d, 0))
	assert.Equal(t, 1.25, o.LatestFeature().Theta)
}

func TestInsert_HistoryTrim(t *testing.T) {
	t.Parallel()
	o := New(Config{MinAcc: -10, MaxAcc: 10, MaxFeatureHistory: 3})

	for i := 1; i <= 5; i++ {
		require.NoError(t, o.Insert(det(1, TypeVehicle, float64(i), Vector3{}, Vector3{}), 0))
	}

	features := o.Features(0)
	require.Len(t, features, 3)
	assert.Equal(t, 5.0, features[0].Timestamp)
	assert.Equal(t, 4.0, features[1].Timestamp)
	assert.Equal(t, 3.0, features[2].Timestamp)
}

func TestFeatures_SnapshotIsolation(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())
	require.NoError(t, o.Insert(det(1, TypeVehicle, 1.0, Vector3{X: 1}, Vector3{}), 0))
	require.NoError(t, o.Insert(det(1, TypeVehicle, 2.0, Vector3{X: 2}, Vector3{}), 0))

	features := o.Features(0)
	features[0].Position.X = 999

	assert.Equal(t, 2.0, o.LatestFeature().Position.X)

	limited := o.Features(1)
	require.Len(t, limited, 1)
	assert.Equal(t, 2.0, limited[0].Timestamp)
}

func TestUpdateLatestFeature(t *testing.T) {
	t.Parallel()

	t.Run("mutation applied", func(t *testing.T) {
		t.Parallel()
		o := New(DefaultConfig())
		require.NoError(t, o.Insert(det(1, TypeVehicle, 1.0, Vector3{X: 1}, Vector3{}), 0))

		err := o.UpdateLatestFeature(func(f *Feature) {
			f.Position.X = 1.5
		})
		require.NoError(t, err)
		assert.Equal(t, 1.5, o.LatestFeature().Position.X)
	})

	t.Run("order violation restored", func(t *testing.T) {
		t.Parallel()
		o := New(DefaultConfig())
		require.NoError(t, o.Insert(det(1, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
		require.NoError(t, o.Insert(det(1, TypeVehicle, 2.0, Vector3{}, Vector3{}), 0))
		before := o.Features(0)

		err := o.UpdateLatestFeature(func(f *Feature) {
			f.Timestamp = 0.5
		})
		require.ErrorIs(t, err, ErrOrderViolation)
		if diff := cmp.Diff(before, o.Features(0)); diff != "" {
			t.Errorf("history not restored (-before +after):\n%s", diff)
		}
	})

	t.Run("empty history panics", func(t *testing.T) {
		t.Parallel()
		o := New(DefaultConfig())
		assert.Panics(t, func() {
			_ = o.UpdateLatestFeature(func(*Feature) {})
		})
	})
}

func TestUpdateFeature(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())
	for i := 1; i <= 3; i++ {
		require.NoError(t, o.Insert(det(1, TypeVehicle, float64(i), Vector3{}, Vector3{}), 0))
	}

	t.Run("middle element updated", func(t *testing.T) {
		require.NoError(t, o.UpdateFeature(1, func(f *Feature) { f.Speed = 9.9 }))
		assert.Equal(t, 9.9, o.Feature(1).Speed)
	})

	t.Run("violation against previous neighbour", func(t *testing.T) {
		err := o.UpdateFeature(1, func(f *Feature) { f.Timestamp = 3.5 })
		require.ErrorIs(t, err, ErrOrderViolation)
		assert.Equal(t, 2.0, o.Feature(1).Timestamp)
	})

	t.Run("violation against next neighbour", func(t *testing.T) {
		err := o.UpdateFeature(1, func(f *Feature) { f.Timestamp = 0.5 })
		require.ErrorIs(t, err, ErrOrderViolation)
		assert.Equal(t, 2.0, o.Feature(1).Timestamp)
	})

	t.Run("index out of range panics", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = o.UpdateFeature(3, func(*Feature) {})
		})
	})
}

func TestAccessors_EmptyHistory(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	assert.Equal(t, 0.0, o.Timestamp())
	assert.Equal(t, 0, o.HistorySize())
	assert.Empty(t, o.Features(0))
	assert.Panics(t, func() { o.LatestFeature() })
	assert.Panics(t, func() { o.Feature(0) })
}

func TestTrackerHandles(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())

	_, ok := o.MotionTracker()
	assert.False(t, ok)

	motion := &stubFilter{}
	o.SetMotionTracker(motion)
	got, ok := o.MotionTracker()
	require.True(t, ok)
	assert.Same(t, motion, got.(*stubFilter))

	assert.False(t, o.HasLaneTracker("lane_1"))
	assert.Panics(t, func() { o.LaneTracker("lane_1") })

	lane := &stubFilter{}
	o.SetLaneTracker("lane_1", lane)
	require.True(t, o.HasLaneTracker("lane_1"))
	assert.Same(t, lane, o.LaneTracker("lane_1").(*stubFilter))
	assert.Equal(t, []string{"lane_1"}, o.LaneIDs())
}

func TestObstacle_ConcurrentInsertAndRead(t *testing.T) {
	t.Parallel()
	o := New(DefaultConfig())
	require.NoError(t, o.Insert(det(1, TypeVehicle, 0.5, Vector3{}, Vector3{}), 0))

	const writers = 4
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ts := float64(w*perWriter+i) + 1.0
				// Interleaved writers race on freshness; rejection is an
				// acceptable outcome, corruption is not.
				_ = o.Insert(det(1, TypeVehicle, ts, Vector3{X: ts}, Vector3{X: 1}), 0)
			}
		}(w)
	}
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = o.LatestFeature()
				_ = o.Features(10)
				_ = o.Summary()
				_ = o.Timestamp()
			}
		}()
	}
	wg.Wait()

	features := o.Features(0)
	require.NotEmpty(t, features)
	for i := 1; i < len(features); i++ {
		require.Greater(t, features[i-1].Timestamp, features[i].Timestamp,
			"descending order broken at %d", i)
	}
}

func TestIsValidType(t *testing.T) {
	t.Parallel()
	for _, typ := range ValidTypes {
		assert.True(t, IsValidType(typ), "%s", typ)
	}
	assert.False(t, IsValidType(Type("tractor")))
	assert.False(t, IsValidType(Type("")))
}

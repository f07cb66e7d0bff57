package obstacle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContainer() *Container {
	return NewContainer(ContainerConfig{
		TTL:          time.Minute,
		MaxObstacles: 64,
		Entity:       DefaultConfig(),
	})
}

func TestContainer_GetOrCreate(t *testing.T) {
	t.Parallel()
	c := testContainer()

	require.NoError(t, c.InsertDetection(det(5, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	assert.Equal(t, 1, c.Len())

	// Same id routes to the same entity.
	require.NoError(t, c.InsertDetection(det(5, TypeVehicle, 2.0, Vector3{}, Vector3{}), 0))
	assert.Equal(t, 1, c.Len())

	o, ok := c.Obstacle(5)
	require.True(t, ok)
	assert.Equal(t, 2, o.HistorySize())

	require.NoError(t, c.InsertDetection(det(6, TypePedestrian, 1.0, Vector3{}, Vector3{}), 0))
	assert.Equal(t, 2, c.Len())
	assert.ElementsMatch(t, []int{5, 6}, c.IDs())
}

func TestContainer_RejectsUnroutableDetections(t *testing.T) {
	t.Parallel()
	c := testContainer()

	d := det(1, TypeVehicle, 1.0, Vector3{}, Vector3{})
	d.ID = nil
	require.ErrorIs(t, c.InsertDetection(d, 0), ErrMissingID)

	require.ErrorIs(t, c.InsertDetection(det(-2, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0), ErrMissingID)

	// Unroutable input never creates an entity.
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(2), c.Stats().Rejected)
}

func TestContainer_InsertFrame(t *testing.T) {
	t.Parallel()
	c := testContainer()

	noID := det(1, TypeVehicle, 0, Vector3{}, Vector3{})
	noID.ID = nil
	noID.Timestamp = nil

	frame := DetectionFrame{
		Timestamp: 10.0,
		Detections: []Detection{
			det(1, TypeVehicle, 10.0, Vector3{X: 1}, Vector3{X: 5}),
			det(2, TypeBicycle, 10.0, Vector3{X: 2}, Vector3{X: 3}),
			noID,
		},
	}

	stats := c.InsertFrame(frame)
	assert.Equal(t, 10.0, stats.Timestamp)
	assert.Equal(t, 3, stats.Detections)
	assert.Equal(t, 2, stats.Accepted)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 2, c.Len())

	// A second identical frame is fully stale.
	stats = c.InsertFrame(frame)
	assert.Equal(t, 0, stats.Accepted)
	assert.Equal(t, 3, stats.Rejected)

	cum := c.Stats()
	assert.Equal(t, uint64(2), cum.Accepted)
	assert.Equal(t, uint64(4), cum.Rejected)
}

func TestContainer_FrameTimestampIsIngestClock(t *testing.T) {
	t.Parallel()
	c := testContainer()

	d := det(4, TypeVehicle, 0, Vector3{}, Vector3{})
	d.Timestamp = nil
	stats := c.InsertFrame(DetectionFrame{Timestamp: 33.0, Detections: []Detection{d}})
	require.Equal(t, 1, stats.Accepted)

	o, ok := c.Obstacle(4)
	require.True(t, ok)
	assert.Equal(t, 33.0, o.Timestamp())
}

func TestContainer_CapacityEviction(t *testing.T) {
	t.Parallel()
	c := NewContainer(ContainerConfig{
		TTL:          time.Minute,
		MaxObstacles: 2,
		Entity:       DefaultConfig(),
	})

	require.NoError(t, c.InsertDetection(det(1, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	require.NoError(t, c.InsertDetection(det(2, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	require.NoError(t, c.InsertDetection(det(3, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evicted)
	_, ok := c.Obstacle(1)
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestContainer_TTLExpiry(t *testing.T) {
	t.Parallel()
	c := NewContainer(ContainerConfig{
		TTL:          25 * time.Millisecond,
		MaxObstacles: 16,
		Entity:       DefaultConfig(),
	})
	c.Start()
	defer c.Stop()

	require.NoError(t, c.InsertDetection(det(9, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	require.Equal(t, 1, c.Len())

	assert.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), c.Stats().Evicted)
}

func TestContainer_Clear(t *testing.T) {
	t.Parallel()
	c := testContainer()
	require.NoError(t, c.InsertDetection(det(1, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))
	require.NoError(t, c.InsertDetection(det(2, TypeVehicle, 1.0, Vector3{}, Vector3{}), 0))

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.IDs())
}

func TestContainer_ConcurrentIngest(t *testing.T) {
	t.Parallel()
	c := testContainer()

	const goroutines = 8
	const frames = 25

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := g % 4 // contend on a handful of shared ids
			for i := 0; i < frames; i++ {
				ts := float64(g*frames+i) + 1.0
				_ = c.InsertDetection(det(id, TypeVehicle, ts, Vector3{X: ts}, Vector3{X: 1}), 0)
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Len())
	for _, id := range c.IDs() {
		o, ok := c.Obstacle(id)
		require.True(t, ok)
		features := o.Features(0)
		for i := 1; i < len(features); i++ {
			require.Greater(t, features[i-1].Timestamp, features[i].Timestamp)
		}
	}

	stats := c.Stats()
	assert.Equal(t, uint64(goroutines*frames), stats.Accepted+stats.Rejected)
}

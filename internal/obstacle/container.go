package obstacle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/banshee-data/foresight/internal/monitoring"
)

// ContainerConfig sizes the obstacle registry.
type ContainerConfig struct {
	// TTL evicts an obstacle this long after it was last touched by an
	// ingestion or a lookup.
	TTL time.Duration
	// MaxObstacles caps the registry; inserting past it evicts the least
	// recently used entry.
	MaxObstacles uint64
	// Entity is applied to every obstacle the container creates.
	Entity Config
}

// DefaultContainerConfig returns the stock registry sizing: 30s TTL,
// 512 obstacles.
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		TTL:          30 * time.Second,
		MaxObstacles: 512,
		Entity:       DefaultConfig(),
	}
}

// FrameStats reports the outcome of ingesting one detection frame.
type FrameStats struct {
	Timestamp  float64 `json:"timestamp"`
	Detections int     `json:"detections"`
	Accepted   int     `json:"accepted"`
	Rejected   int     `json:"rejected"`
}

// ContainerStats is the cumulative ingestion ledger since startup.
type ContainerStats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	Evicted  uint64 `json:"evicted"`
}

// Container is the registry of live obstacles, keyed by detection id.
// Entries expire on TTL or capacity pressure. Eviction only drops the
// registry's reference: a goroutine still holding the entity completes
// its locked operation safely and the entity is reclaimed afterwards.
//
// The cache carries its own synchronization; container operations never
// hold an entity lock while touching it.
type Container struct {
	cache     *ttlcache.Cache[int, *Obstacle]
	entityCfg Config

	accepted atomic.Uint64
	rejected atomic.Uint64
	evicted  atomic.Uint64
}

// NewContainer builds an empty registry. Call Start to run the expiry
// loop and Stop to halt it.
func NewContainer(cfg ContainerConfig) *Container {
	c := &Container{entityCfg: cfg.Entity}
	c.cache = ttlcache.New(
		ttlcache.WithTTL[int, *Obstacle](cfg.TTL),
		ttlcache.WithCapacity[int, *Obstacle](cfg.MaxObstacles),
	)
	c.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[int, *Obstacle]) {
		c.evicted.Add(1)
		monitoring.Diagf("evicted obstacle [%d] (%s), history size %d", item.Key(), evictionReason(reason), item.Value().HistorySize())
	})
	return c
}

// Start launches the background expiry loop.
func (c *Container) Start() {
	go c.cache.Start()
}

// Stop halts the expiry loop. Entries stay readable afterwards but no
// longer expire.
func (c *Container) Stop() {
	c.cache.Stop()
}

// InsertDetection routes one detection to its obstacle, creating the
// entity on first sight. Detections without a usable id are rejected
// before touching the cache, so junk input cannot evict live entries.
func (c *Container) InsertDetection(det Detection, ingestTimestamp float64) error {
	if det.ID == nil || *det.ID < 0 {
		c.rejected.Add(1)
		monitoring.Diagf("dropping detection with no usable id at [%.6f]", ingestTimestamp)
		return fmt.Errorf("route detection: %w", ErrMissingID)
	}
	o := c.getOrCreate(*det.ID)
	if err := o.Insert(det, ingestTimestamp); err != nil {
		c.rejected.Add(1)
		return err
	}
	c.accepted.Add(1)
	return nil
}

// InsertFrame ingests every detection in the frame, using the frame
// timestamp as the ingestion clock for detections that carry none of
// their own.
func (c *Container) InsertFrame(frame DetectionFrame) FrameStats {
	stats := FrameStats{Timestamp: frame.Timestamp, Detections: len(frame.Detections)}
	for i := range frame.Detections {
		if err := c.InsertDetection(frame.Detections[i], frame.Timestamp); err != nil {
			monitoring.Diagf("frame [%.6f] detection %d rejected: %v", frame.Timestamp, i, err)
			stats.Rejected++
			continue
		}
		stats.Accepted++
	}
	return stats
}

// getOrCreate returns the obstacle for id, building a fresh one if the
// registry has no live entry. GetOrSet resolves the race when two
// goroutines see the same id for the first time: exactly one entity wins.
func (c *Container) getOrCreate(id int) *Obstacle {
	if item := c.cache.Get(id); item != nil {
		return item.Value()
	}
	item, _ := c.cache.GetOrSet(id, New(c.entityCfg))
	return item.Value()
}

// Obstacle looks up a live obstacle by id. The lookup counts as a touch
// and refreshes the entry's TTL.
func (c *Container) Obstacle(id int) (*Obstacle, bool) {
	item := c.cache.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// IDs returns the ids of all live obstacles, in no particular order.
func (c *Container) IDs() []int {
	return c.cache.Keys()
}

// Len returns the number of live obstacles.
func (c *Container) Len() int {
	return c.cache.Len()
}

// Clear drops every entry.
func (c *Container) Clear() {
	c.cache.DeleteAll()
}

// Stats returns the cumulative ingestion ledger.
func (c *Container) Stats() ContainerStats {
	return ContainerStats{
		Accepted: c.accepted.Load(),
		Rejected: c.rejected.Load(),
		Evicted:  c.evicted.Load(),
	}
}

func evictionReason(r ttlcache.EvictionReason) string {
	switch r {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

package pipeline

import (
	"fmt"
	"math"
)

// LaneLayout models the instrumented corridor: Count parallel lanes of
// Width metres each, running along +x and centred on y = 0. Lane 1 sits
// at the most negative y; ids are "lane_1".."lane_N".
type LaneLayout struct {
	Count int
	Width float64
}

// NewLaneLayout builds a corridor description. Count and Width are
// expected positive; configuration validation upstream enforces that.
func NewLaneLayout(count int, width float64) *LaneLayout {
	return &LaneLayout{Count: count, Width: width}
}

// Extent returns the full corridor width in metres.
func (ll *LaneLayout) Extent() float64 {
	return float64(ll.Count) * ll.Width
}

// Locate maps a ground-plane position to a lane id and lane-frame
// coordinates: s runs along the lane (the x axis), l is the signed offset
// from that lane's centreline. ok is false outside the corridor.
func (ll *LaneLayout) Locate(x, y float64) (laneID string, s, l float64, ok bool) {
	half := ll.Extent() / 2
	if y < -half || y > half {
		return "", 0, 0, false
	}
	idx := int(math.Floor((y + half) / ll.Width))
	// The top corridor edge belongs to the last lane.
	if idx >= ll.Count {
		idx = ll.Count - 1
	}
	center := -half + (float64(idx)+0.5)*ll.Width
	return LaneID(idx + 1), x, y - center, true
}

// LaneID formats the id of the n-th lane, counting from 1.
func LaneID(n int) string {
	return fmt.Sprintf("lane_%d", n)
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneLayout_Locate(t *testing.T) {
	t.Parallel()
	// Four standard 3.7 m lanes: corridor spans y ∈ [−7.4, 7.4].
	ll := NewLaneLayout(4, 3.7)
	require.InDelta(t, 14.8, ll.Extent(), 1e-12)

	cases := []struct {
		name   string
		x, y   float64
		laneID string
		s, l   float64
		ok     bool
	}{
		{"median edge falls in lane 3", 10.0, 0.0, "lane_3", 10.0, -1.85, true},
		{"lane 1 inner", 2.0, -6.0, "lane_1", 2.0, -0.45, true},
		{"lane 4 inner", -3.0, 5.0, "lane_4", -3.0, -0.55, true},
		{"bottom corridor edge", 0.0, -7.4, "lane_1", 0.0, -1.85, true},
		{"top corridor edge folds into last lane", 0.0, 7.4, "lane_4", 0.0, 1.85, true},
		{"below corridor", 0.0, -7.5, "", 0, 0, false},
		{"above corridor", 0.0, 7.5, "", 0, 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			laneID, s, l, ok := ll.Locate(tc.x, tc.y)
			assert.Equal(t, tc.ok, ok)
			if !tc.ok {
				return
			}
			assert.Equal(t, tc.laneID, laneID)
			assert.InDelta(t, tc.s, s, 1e-9)
			assert.InDelta(t, tc.l, l, 1e-9)
		})
	}
}

func TestLaneLayout_TwoLanes(t *testing.T) {
	t.Parallel()
	ll := NewLaneLayout(2, 4.0)

	laneID, _, l, ok := ll.Locate(0, -1.0)
	require.True(t, ok)
	assert.Equal(t, "lane_1", laneID)
	assert.InDelta(t, 1.0, l, 1e-9)

	laneID, _, l, ok = ll.Locate(0, 1.0)
	require.True(t, ok)
	assert.Equal(t, "lane_2", laneID)
	assert.InDelta(t, -1.0, l, 1e-9)
}

func TestLaneID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "lane_1", LaneID(1))
	assert.Equal(t, "lane_12", LaneID(12))
}

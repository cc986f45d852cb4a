package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

func descAt(drone int, stamp float64, keyframe bool, x, y float64) types.VisualImageDescArray {
	pose := geo.Identity()
	pose.Pos = [3]float64{x, y, 0}
	return types.VisualImageDescArray{DroneID: drone, Stamp: stamp, IsKeyframe: keyframe, PoseDrone: pose}
}

func TestGroupByDroneSeparatesAndSortsByStamp(t *testing.T) {
	descs := []types.VisualImageDescArray{
		descAt(0, 2.0, false, 0, 0),
		descAt(1, 1.0, false, 0, 0),
		descAt(0, 1.0, false, 0, 0),
	}
	byDrone := groupByDrone(descs)

	require.Len(t, byDrone, 2)
	require.Len(t, byDrone[0], 2)
	require.Equal(t, 1.0, byDrone[0][0].Stamp)
	require.Equal(t, 2.0, byDrone[0][1].Stamp)
	require.Len(t, byDrone[1], 1)
}

func TestKeyframeOnlyFiltersNonKeyframes(t *testing.T) {
	descs := []types.VisualImageDescArray{
		descAt(0, 1.0, true, 1, 2),
		descAt(0, 2.0, false, 3, 4),
		descAt(0, 3.0, true, 5, 6),
	}
	pts := keyframeOnly(descs)
	require.Len(t, pts, 2)
	require.Equal(t, 1.0, pts[0].X)
	require.Equal(t, 5.0, pts[1].X)
}

func TestKeyframeOnlyEmptyWhenNoKeyframes(t *testing.T) {
	descs := []types.VisualImageDescArray{descAt(0, 1.0, false, 1, 2)}
	require.Empty(t, keyframeOnly(descs))
}

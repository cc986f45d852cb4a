package estimator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/types"
)

func TestBuildLayoutSkipsPinnedFrame(t *testing.T) {
	frames := []*types.Frame{{FrameID: 1}, {FrameID: 2}, {FrameID: 3}}
	l := BuildLayout(frames, nil, nil, 2, false, false)

	require.NotContains(t, l.FrameOffset, int64(2))
	require.Equal(t, []int64{1, 3}, l.FrameOrder)
	require.Equal(t, 0, l.FrameOffset[1])
	require.Equal(t, frameStride, l.FrameOffset[3])
	require.Equal(t, 2*frameStride, l.Dim)
}

func TestBuildLayoutOmitsExtrinsicsAndTdWhenDisabled(t *testing.T) {
	frames := []*types.Frame{{FrameID: 1}}
	l := BuildLayout(frames, nil, []int{0, 1}, -1, false, false)
	require.Empty(t, l.CameraOffset)
	require.Zero(t, l.TdOffset)
	require.Equal(t, frameStride, l.Dim)
}

func TestBuildLayoutAssignsSortedCameraExtrinsicsAndTd(t *testing.T) {
	frames := []*types.Frame{{FrameID: 1}}
	l := BuildLayout(frames, nil, []int{2, 0, 1}, -1, true, true)

	require.Equal(t, []int{0, 1, 2}, l.CameraOrder)
	require.Equal(t, frameStride, l.CameraOffset[0])
	require.Equal(t, frameStride+extrinsicStride, l.CameraOffset[1])
	require.Equal(t, frameStride+2*extrinsicStride, l.CameraOffset[2])
	require.Equal(t, frameStride+3*extrinsicStride, l.TdOffset)
	require.Equal(t, frameStride+3*extrinsicStride+1, l.Dim)
}

func TestBuildLayoutOnlyIncludesTriangulatedOrBetterLandmarks(t *testing.T) {
	frames := []*types.Frame{{FrameID: 1}}
	landmarks := map[types.LandmarkID]*types.Landmark{
		{AgentID: 0, LocalID: 1}: {Flag: types.Uninitialized},
		{AgentID: 0, LocalID: 2}: {Flag: types.Triangulated},
		{AgentID: 1, LocalID: 1}: {Flag: types.Initialized},
	}
	l := BuildLayout(frames, landmarks, nil, -1, false, false)

	require.Len(t, l.LandmarkOrder, 2)
	require.Equal(t, types.LandmarkID{AgentID: 0, LocalID: 2}, l.LandmarkOrder[0])
	require.Equal(t, types.LandmarkID{AgentID: 1, LocalID: 1}, l.LandmarkOrder[1])
	require.Equal(t, frameStride, l.LandmarkOffset[l.LandmarkOrder[0]])
	require.Equal(t, frameStride+1, l.LandmarkOffset[l.LandmarkOrder[1]])
	require.Equal(t, frameStride+2, l.Dim)
}

func TestZeroVectorHasLayoutDimension(t *testing.T) {
	l := BuildLayout([]*types.Frame{{FrameID: 1}}, nil, nil, -1, false, false)
	v := l.ZeroVector()
	require.Len(t, v, l.Dim)
	for _, x := range v {
		require.Zero(t, x)
	}
}

package frontend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

func sampleCameraInput(camID int) CameraInput {
	return CameraInput{
		CameraID:  camID,
		Image:     NewImage(4, 4),
		Extrinsic: geo.Identity(),
		Track: TrackResult{
			CameraID:  camID,
			Points:    []Point2D{{X: 1, Y: 1}, {X: 2, Y: 2}},
			Bearings:  [][3]float64{{0, 0, 1}, {0.1, 0, 1}},
			PixelVel:  [][2]float64{{0, 0}, {1, 1}},
			Landmarks: []int64{10, 11},
		},
	}
}

func TestBuilderBuildAssemblesDescriptor(t *testing.T) {
	b := NewBuilder(nil)
	desc := b.Build(5, 2, 1.5, geo.Identity(), []int64{4, 5}, []CameraInput{sampleCameraInput(0)}, true)
	require.Equal(t, int64(5), desc.FrameID)
	require.Equal(t, 2, desc.DroneID)
	require.True(t, desc.IsKeyframe)
	require.Equal(t, int64(-1), desc.MatchedFrame)
	require.Len(t, desc.Cameras, 1)
	require.Len(t, desc.Cameras[0].Landmarks, 2)
	require.Equal(t, types.LandmarkID{AgentID: 2, LocalID: 10}, desc.Cameras[0].Landmarks[0].ID)
}

func TestApplyLazyPolicyNonKeyframeSuppressedWhenNotDiscovering(t *testing.T) {
	desc := types.VisualImageDescArray{IsKeyframe: false, Cameras: []types.CameraObservations{{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{}}}}}
	_, send := ApplyLazyPolicy(desc, true, false, false)
	require.False(t, send)
}

func TestApplyLazyPolicyNonKeyframeSentWhenDiscovering(t *testing.T) {
	desc := types.VisualImageDescArray{IsKeyframe: false, Cameras: []types.CameraObservations{{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{}}}}}
	out, send := ApplyLazyPolicy(desc, true, true, false)
	require.True(t, send)
	require.True(t, out.IsLazyFrame)
	require.Empty(t, out.Cameras[0].Landmarks)
}

func TestApplyLazyPolicyKeyframeStripsLandmarksWithoutNearbyPeer(t *testing.T) {
	desc := types.VisualImageDescArray{IsKeyframe: true, Cameras: []types.CameraObservations{{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{}}}}}
	out, send := ApplyLazyPolicy(desc, true, false, false)
	require.True(t, send)
	require.Empty(t, out.Cameras[0].Landmarks)
}

func TestApplyLazyPolicyKeyframeKeepsLandmarksWithNearbyPeer(t *testing.T) {
	desc := types.VisualImageDescArray{IsKeyframe: true, Cameras: []types.CameraObservations{{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{}}}}}
	out, send := ApplyLazyPolicy(desc, true, false, true)
	require.True(t, send)
	require.Len(t, out.Cameras[0].Landmarks, 1)
}

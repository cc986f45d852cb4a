package loop

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

func landmark(id int64, bearing [3]float64) types.LandmarkObservationKeyed {
	return types.LandmarkObservationKeyed{
		ID:  types.LandmarkID{AgentID: 0, LocalID: id},
		Obs: types.LandmarkObservation{Bearing: bearing},
	}
}

func TestBearingDistIsZeroForIdenticalBearings(t *testing.T) {
	require.Zero(t, bearingDist([3]float64{1, 2, 3}, [3]float64{1, 2, 3}))
}

func TestEdgeIDFormat(t *testing.T) {
	require.Equal(t, "1:10-2:20", edgeID(1, 10, 2, 20))
}

func TestMatchCamerasSkipsCamerasMissingFromCandidate(t *testing.T) {
	query := types.VisualImageDescArray{Cameras: []types.CameraObservations{{CameraID: 5, Landmarks: []types.LandmarkObservationKeyed{landmark(1, [3]float64{0, 0, 1})}}}}
	cand := &KeyframeRecord{Desc: types.VisualImageDescArray{Cameras: []types.CameraObservations{{CameraID: 0}}}}

	results := MatchCameras(query, cand, 0.7, 0)
	require.Empty(t, results)
}

func TestMatchCamerasAcceptsUnambiguousNearestNeighbor(t *testing.T) {
	qID := types.LandmarkID{AgentID: 0, LocalID: 99}
	query := types.VisualImageDescArray{Cameras: []types.CameraObservations{
		{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{ID: qID, Obs: types.LandmarkObservation{Bearing: [3]float64{0, 0, 1}}}}},
	}}
	cID1 := types.LandmarkID{AgentID: 1, LocalID: 1}
	cID2 := types.LandmarkID{AgentID: 1, LocalID: 2}
	cand := &KeyframeRecord{
		Desc: types.VisualImageDescArray{Cameras: []types.CameraObservations{
			{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{
				{ID: cID1, Obs: types.LandmarkObservation{Bearing: [3]float64{0, 0, 1}}},
				{ID: cID2, Obs: types.LandmarkObservation{Bearing: [3]float64{1, 1, 1}}},
			}},
		}},
		Positions: map[types.LandmarkID][3]float64{cID1: {1, 2, 3}},
	}

	results := MatchCameras(query, cand, 0.7, 0)
	require.Len(t, results, 1)
	require.Len(t, results[0].Corr, 1)
	require.Equal(t, [3]float64{1, 2, 3}, results[0].Corr[0].Point3D)
}

func TestMatchCamerasRejectsAmbiguousRatio(t *testing.T) {
	qID := types.LandmarkID{AgentID: 0, LocalID: 99}
	query := types.VisualImageDescArray{Cameras: []types.CameraObservations{
		{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{ID: qID, Obs: types.LandmarkObservation{Bearing: [3]float64{0, 0, 1}}}}},
	}}
	cID1 := types.LandmarkID{AgentID: 1, LocalID: 1}
	cID2 := types.LandmarkID{AgentID: 1, LocalID: 2}
	cand := &KeyframeRecord{
		Desc: types.VisualImageDescArray{Cameras: []types.CameraObservations{
			{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{
				{ID: cID1, Obs: types.LandmarkObservation{Bearing: [3]float64{0.01, 0, 1}}},
				{ID: cID2, Obs: types.LandmarkObservation{Bearing: [3]float64{-0.01, 0, 1}}},
			}},
		}},
		Positions: map[types.LandmarkID][3]float64{cID1: {1, 2, 3}, cID2: {4, 5, 6}},
	}

	results := MatchCameras(query, cand, 0.99, 0)
	require.Empty(t, results, "near-tied nearest/second-nearest should be rejected by the ratio test")
}

func TestMatchCamerasSkipsMatchesMissingTriangulatedPosition(t *testing.T) {
	qID := types.LandmarkID{AgentID: 0, LocalID: 99}
	query := types.VisualImageDescArray{Cameras: []types.CameraObservations{
		{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{ID: qID, Obs: types.LandmarkObservation{Bearing: [3]float64{0, 0, 1}}}}},
	}}
	cID1 := types.LandmarkID{AgentID: 1, LocalID: 1}
	cand := &KeyframeRecord{
		Desc: types.VisualImageDescArray{Cameras: []types.CameraObservations{
			{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{
				{ID: cID1, Obs: types.LandmarkObservation{Bearing: [3]float64{0, 0, 1}}},
			}},
		}},
		Positions: map[types.LandmarkID][3]float64{},
	}

	results := MatchCameras(query, cand, 0.7, 0)
	require.Empty(t, results)
}

func TestVerifyErrorsOnInsufficientCorrespondences(t *testing.T) {
	cfg := &config.Config{}
	cand := &KeyframeRecord{Desc: types.VisualImageDescArray{DroneID: 1, FrameID: 1, PoseDrone: geo.Identity()}}
	_, err := Verify(types.VisualImageDescArray{DroneID: 0, FrameID: 2}, cand, nil, cfg, geo.Identity(), rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

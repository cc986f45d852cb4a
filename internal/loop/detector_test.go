package loop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

func TestDetectorProcessInsertsDescriptorEvenWithNoCandidates(t *testing.T) {
	db := NewDatabase()
	det := NewDetector(&config.Config{}, db)

	desc := types.VisualImageDescArray{DroneID: 0, FrameID: 1, Stamp: 1.0}
	_, found := det.Process(desc, geo.Identity())

	require.False(t, found)
	require.NotNil(t, db.Find(0, 1))
}

func TestDetectorProcessSkipsCandidatesWithNoMatches(t *testing.T) {
	db := NewDatabase()
	det := NewDetector(&config.Config{}, db)

	db.Insert(types.VisualImageDescArray{
		DroneID: 0, FrameID: 1, Stamp: 1.0,
		Cameras: []types.CameraObservations{{CameraID: 0, Descriptor: []float32{1, 0, 0}}},
	})

	desc := types.VisualImageDescArray{
		DroneID: 1, FrameID: 2, Stamp: 1.1,
		Cameras: []types.CameraObservations{{CameraID: 0, Descriptor: []float32{1, 0, 0}}},
	}
	_, found := det.Process(desc, geo.Identity())
	require.False(t, found, "candidate has no landmark observations, so MatchCameras yields nothing")
}

func TestShouldRebroadcastLocalEdgeNonDistributed(t *testing.T) {
	edge := types.LoopEdge{DroneA: 1, DroneB: 1}
	require.True(t, ShouldRebroadcast(edge, 1, config.PGONonDistributed))
}

func TestShouldRebroadcastLocalEdgeDistributedStaysLocal(t *testing.T) {
	edge := types.LoopEdge{DroneA: 1, DroneB: 1}
	require.False(t, ShouldRebroadcast(edge, 1, config.PGODistributed))
}

func TestShouldRebroadcastEdgeNotInvolvingSelfIsNeverRebroadcast(t *testing.T) {
	edge := types.LoopEdge{DroneA: 2, DroneB: 3}
	require.False(t, ShouldRebroadcast(edge, 1, config.PGONonDistributed))
}

func TestShouldRebroadcastRemoteEdgeIsNeverRebroadcast(t *testing.T) {
	edge := types.LoopEdge{DroneA: 1, DroneB: 2}
	require.False(t, ShouldRebroadcast(edge, 1, config.PGONonDistributed))
}

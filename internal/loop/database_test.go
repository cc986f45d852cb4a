package loop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/types"
)

func descWithDescriptor(drone int, frame int64, stamp float64, descriptor []float32) types.VisualImageDescArray {
	return types.VisualImageDescArray{
		DroneID: drone,
		FrameID: frame,
		Stamp:   stamp,
		Cameras: []types.CameraObservations{{CameraID: 0, Descriptor: descriptor}},
	}
}

func TestDatabaseFindReturnsInsertedRecord(t *testing.T) {
	db := NewDatabase()
	desc := descWithDescriptor(1, 10, 1.0, []float32{1, 0, 0})
	db.Insert(desc)

	rec := db.Find(1, 10)
	require.NotNil(t, rec)
	require.Equal(t, desc.FrameID, rec.Desc.FrameID)
	require.NotNil(t, rec.Positions)
}

func TestDatabaseFindMissingReturnsNil(t *testing.T) {
	db := NewDatabase()
	require.Nil(t, db.Find(9, 9))
}

func TestDatabaseCandidatesExcludesQueryAndRanksBySimilarity(t *testing.T) {
	db := NewDatabase()
	query := descWithDescriptor(0, 1, 10.0, []float32{1, 0, 0})
	db.Insert(query)
	db.Insert(descWithDescriptor(0, 2, 10.0, []float32{1, 0, 0}))   // identical
	db.Insert(descWithDescriptor(0, 3, 10.0, []float32{0, 1, 0}))   // orthogonal

	candidates := db.Candidates(query, 5, 0)
	require.Len(t, candidates, 2)
	require.Equal(t, int64(2), candidates[0].FrameID, "identical descriptor should rank first")
}

func TestDatabaseCandidatesAppliesTimeGate(t *testing.T) {
	db := NewDatabase()
	query := descWithDescriptor(0, 1, 100.0, []float32{1, 0, 0})
	db.Insert(query)
	db.Insert(descWithDescriptor(0, 2, 100.5, []float32{1, 0, 0}))
	db.Insert(descWithDescriptor(0, 3, 500.0, []float32{1, 0, 0}))

	candidates := db.Candidates(query, 5, 1.0)
	require.Len(t, candidates, 1)
	require.Equal(t, int64(2), candidates[0].FrameID)
}

func TestDatabaseCandidatesEmptyQueryDescriptorReturnsNil(t *testing.T) {
	db := NewDatabase()
	query := types.VisualImageDescArray{DroneID: 0, FrameID: 1}
	db.Insert(descWithDescriptor(0, 2, 0, []float32{1, 0, 0}))
	require.Nil(t, db.Candidates(query, 5, 0))
}

func TestDatabaseUpdatePositionsRefreshesTriangulatedLandmarksOnly(t *testing.T) {
	db := NewDatabase()
	id := types.LandmarkID{AgentID: 0, LocalID: 1}
	desc := types.VisualImageDescArray{
		DroneID: 0, FrameID: 1,
		Cameras: []types.CameraObservations{{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{ID: id}}}},
	}
	db.Insert(desc)

	db.UpdatePositions(map[types.LandmarkID]types.Landmark{
		id: {Flag: types.Triangulated, Position: [3]float64{1, 2, 3}},
	})

	rec := db.Find(0, 1)
	require.Equal(t, [3]float64{1, 2, 3}, rec.Positions[id])
}

func TestDatabaseUpdatePositionsSkipsUntriangulatedLandmarks(t *testing.T) {
	db := NewDatabase()
	id := types.LandmarkID{AgentID: 0, LocalID: 1}
	desc := types.VisualImageDescArray{
		DroneID: 0, FrameID: 1,
		Cameras: []types.CameraObservations{{CameraID: 0, Landmarks: []types.LandmarkObservationKeyed{{ID: id}}}},
	}
	db.Insert(desc)

	db.UpdatePositions(map[types.LandmarkID]types.Landmark{
		id: {Flag: types.Uninitialized, Position: [3]float64{1, 2, 3}},
	})

	rec := db.Find(0, 1)
	_, ok := rec.Positions[id]
	require.False(t, ok)
}

package estimator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

func frame(id int64) *types.Frame {
	return &types.Frame{FrameID: id, Stamp: float64(id), Pose: geo.Identity()}
}

func TestSlidingWindowAddFrameAppendsToTail(t *testing.T) {
	w := NewSlidingWindow(3)
	w.AddFrame(frame(1))
	w.AddFrame(frame(2))
	require.Equal(t, 2, w.Len())
	require.Equal(t, int64(1), w.Oldest().FrameID)
}

func TestSlidingWindowFullAfterExceedingBound(t *testing.T) {
	w := NewSlidingWindow(2)
	w.AddFrame(frame(1))
	w.AddFrame(frame(2))
	require.False(t, w.Full())
	w.AddFrame(frame(3))
	require.True(t, w.Full())
}

func TestSlidingWindowGaugeFixReturnsOldestFrameID(t *testing.T) {
	w := NewSlidingWindow(3)
	require.Equal(t, int64(-1), w.GaugeFix())
	w.AddFrame(frame(7))
	w.AddFrame(frame(8))
	require.Equal(t, int64(7), w.GaugeFix())
}

func TestSlidingWindowFindFrame(t *testing.T) {
	w := NewSlidingWindow(3)
	w.AddFrame(frame(1))
	w.AddFrame(frame(2))
	require.Equal(t, int64(2), w.FindFrame(2).FrameID)
	require.Nil(t, w.FindFrame(99))
}

func TestSlidingWindowSldWinStatusReturnsOrderedIDs(t *testing.T) {
	w := NewSlidingWindow(3)
	w.AddFrame(frame(5))
	w.AddFrame(frame(6))
	w.AddFrame(frame(7))
	require.Equal(t, []int64{5, 6, 7}, w.SldWinStatus())
}

func TestSlidingWindowMarginalizeOldestDropsHeadAndCallsBuildPrior(t *testing.T) {
	w := NewSlidingWindow(3)
	w.AddFrame(frame(1))
	w.AddFrame(frame(2))
	w.AddFrame(frame(3))

	var gotOldest, gotNext int64
	w.MarginalizeOldest(func(oldest, next *types.Frame) *PriorFactor {
		gotOldest = oldest.FrameID
		if next != nil {
			gotNext = next.FrameID
		}
		return &PriorFactor{AnchorFrameID: next.FrameID}
	})

	require.Equal(t, int64(1), gotOldest)
	require.Equal(t, int64(2), gotNext)
	require.Equal(t, 2, w.Len())
	require.Equal(t, int64(2), w.Oldest().FrameID)
	require.NotNil(t, w.Prior)
	require.Equal(t, int64(2), w.Prior.AnchorFrameID)
}

func TestSlidingWindowMarginalizeOldestReanchorsLandmark(t *testing.T) {
	w := NewSlidingWindow(3)
	w.AddFrame(frame(1))
	w.AddFrame(frame(2))

	id := types.LandmarkID{AgentID: 0, LocalID: 1}
	w.Landmarks[id] = &types.Landmark{
		ID: id,
		Track: []types.LandmarkObservation{
			{FrameID: 1, CameraID: 0},
			{FrameID: 2, CameraID: 0},
		},
	}

	w.MarginalizeOldest(func(oldest, next *types.Frame) *PriorFactor {
		return &PriorFactor{}
	})

	lm, ok := w.Landmarks[id]
	require.True(t, ok)
	require.Len(t, lm.Track, 1)
	require.Equal(t, int64(2), lm.Track[0].FrameID)
}

func TestSlidingWindowMarginalizeOldestDropsLandmarkWithNoRemainingObservations(t *testing.T) {
	w := NewSlidingWindow(3)
	w.AddFrame(frame(1))
	w.AddFrame(frame(2))

	id := types.LandmarkID{AgentID: 0, LocalID: 1}
	w.Landmarks[id] = &types.Landmark{
		ID:    id,
		Track: []types.LandmarkObservation{{FrameID: 1, CameraID: 0}},
	}

	w.MarginalizeOldest(func(oldest, next *types.Frame) *PriorFactor {
		return &PriorFactor{}
	})

	_, ok := w.Landmarks[id]
	require.False(t, ok)
}

func TestSlidingWindowSnapshotIsDecoupledFromLiveState(t *testing.T) {
	w := NewSlidingWindow(3)
	w.AddFrame(frame(1))
	snap := w.Snapshot()
	require.Len(t, snap.Frames, 1)

	w.AddFrame(frame(2))
	require.Len(t, snap.Frames, 1, "snapshot must not observe later mutations")
	require.Equal(t, 2, w.Len())
}

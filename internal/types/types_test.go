package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLandmarkFlagString(t *testing.T) {
	require.Equal(t, "UNINITIALIZED", Uninitialized.String())
	require.Equal(t, "TRIANGULATED", Triangulated.String())
	require.Equal(t, "INITIALIZED", Initialized.String())
	require.Equal(t, "OUTLIER", Outlier.String())
	require.Equal(t, "UNKNOWN", LandmarkFlag(99).String())
}

func TestAnchorFrameEmptyTrackIsNotOK(t *testing.T) {
	lm := &Landmark{}
	_, _, ok := lm.AnchorFrame()
	require.False(t, ok)
}

func TestAnchorFrameReturnsFirstObservation(t *testing.T) {
	lm := &Landmark{Track: []LandmarkObservation{
		{FrameID: 3, CameraID: 1},
		{FrameID: 4, CameraID: 0},
	}}
	frameID, cameraID, ok := lm.AnchorFrame()
	require.True(t, ok)
	require.Equal(t, int64(3), frameID)
	require.Equal(t, 1, cameraID)
}

package frontend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func texturedImage(w, h int) *Image {
	im := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			im.Pix[y*w+x] = uint8(50 + (x%7)*20 + (y%5)*15)
		}
	}
	return im
}

func TestCPUFlowTrackZeroMotionConverges(t *testing.T) {
	im := texturedImage(64, 64)
	flow := NewCPUFlow()
	seeds := []Point2D{{X: 32, Y: 32}, {X: 20, Y: 40}}
	tracked, ok := flow.Track(im, im, seeds)
	require.Len(t, tracked, 2)
	for i := range seeds {
		require.True(t, ok[i])
		require.InDelta(t, seeds[i].X, tracked[i].X, 1e-6)
		require.InDelta(t, seeds[i].Y, tracked[i].Y, 1e-6)
	}
}

func TestCPUFlowTrackRejectsSeedTooCloseToBoundary(t *testing.T) {
	im := texturedImage(64, 64)
	flow := NewCPUFlow()
	tracked, ok := flow.Track(im, im, []Point2D{{X: 2, Y: 2}})
	require.Len(t, tracked, 1)
	require.False(t, ok[0])
}

func TestDefaultFlowParamsMatchesSpec(t *testing.T) {
	p := DefaultFlowParams()
	require.Equal(t, 10, p.WinRadius)
	require.Equal(t, 3, p.Levels)
	require.Equal(t, 30, p.MaxIter)
	require.InDelta(t, 0.01, p.Epsilon, 1e-9)
}

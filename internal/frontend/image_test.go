package frontend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImageAtClampsToBounds(t *testing.T) {
	im := NewImage(4, 4)
	im.Pix[0] = 42
	require.Equal(t, uint8(42), im.At(-1, -1))
	require.Equal(t, uint8(42), im.At(0, 0))
}

func TestImageBilinearMatchesExactPixel(t *testing.T) {
	im := NewImage(4, 4)
	for i := range im.Pix {
		im.Pix[i] = uint8(i * 10)
	}
	require.InDelta(t, float64(im.At(1, 1)), im.Bilinear(1, 1), 1e-9)
}

func TestImageDownsampleHalvesDimensions(t *testing.T) {
	im := NewImage(8, 6)
	out := im.Downsample()
	require.Equal(t, 4, out.Width)
	require.Equal(t, 3, out.Height)
}

func TestPyramidBuildsRequestedLevels(t *testing.T) {
	im := NewImage(16, 16)
	pyr := Pyramid(im, 3)
	require.Len(t, pyr, 3)
	require.Equal(t, 16, pyr[0].Width)
	require.Equal(t, 8, pyr[1].Width)
	require.Equal(t, 4, pyr[2].Width)
}

func TestImageGradientsAreZeroOnFlatImage(t *testing.T) {
	im := NewImage(5, 5)
	for i := range im.Pix {
		im.Pix[i] = 100
	}
	require.InDelta(t, 0, im.GradX(2, 2), 1e-9)
	require.InDelta(t, 0, im.GradY(2, 2), 1e-9)
}

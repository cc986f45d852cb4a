package relpose

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/geo"
)

func TestSolveCentralPnPNotAttemptedBelowMinInliers(t *testing.T) {
	corr := []Correspondence{
		{Point3D: [3]float64{0, 0, 5}, Bearing: [3]float64{0, 0, 1}},
	}
	params := CentralPnPParams(460, 8)
	_, err := SolveCentralPnP(corr, geo.Identity(), params, rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrNotAttempted)
}

func TestSolveGP3PNotAttemptedBelowMinInliers(t *testing.T) {
	corr := []Correspondence{{Point3D: [3]float64{0, 0, 5}, Bearing: [3]float64{0, 0, 1}, CameraID: 0}}
	params := GP3PParams(460, 8)
	_, err := SolveGP3P(corr, map[int]geo.Pose{0: geo.Identity()}, params, rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, ErrNotAttempted)
}

func TestSolveGP3PErrorsOnMissingExtrinsic(t *testing.T) {
	corr := make([]Correspondence, 10)
	for i := range corr {
		corr[i] = Correspondence{Point3D: [3]float64{float64(i), 0, 5}, Bearing: [3]float64{0, 0, 1}, CameraID: 7}
	}
	params := GP3PParams(460, 8)
	_, err := SolveGP3P(corr, map[int]geo.Pose{0: geo.Identity()}, params, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}

func TestCentralPnPParamsMatchesSpecThresholds(t *testing.T) {
	p := CentralPnPParams(460, 8)
	require.Equal(t, 100, p.Iterations)
	require.InDelta(t, 0.99, p.Confidence, 1e-9)
	require.InDelta(t, 5.0/460, p.Threshold, 1e-12)
}

func TestGP3PParamsMatchesSpecThresholds(t *testing.T) {
	p := GP3PParams(460, 8)
	require.Equal(t, 50, p.Iterations)
	require.InDelta(t, 1.0/460, p.Threshold, 1e-12)
}

package estimator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/types"
)

func TestPreviousFrameIDReturnsMinusOneForFirstFrame(t *testing.T) {
	frames := []*types.Frame{{FrameID: 1}, {FrameID: 2}}
	require.Equal(t, int64(-1), previousFrameID(frames, 1))
	require.Equal(t, int64(1), previousFrameID(frames, 2))
	require.Equal(t, int64(-1), previousFrameID(frames, 99))
}

func TestBuildCostIsZeroWithNoFramesOrLandmarks(t *testing.T) {
	cfg := &config.Config{}
	l := &Layout{FrameOffset: map[int64]int{}, LandmarkOffset: map[types.LandmarkID]int{}}
	lin := &Linearization{}
	cost := buildCost(nil, nil, l, lin, cfg, [3]float64{0, 0, -9.8}, nil)
	require.Zero(t, cost(nil))
}

func TestSolveWithEmptyParameterVectorReturnsEmptyResult(t *testing.T) {
	cfg := &config.Config{}
	l := &Layout{Dim: 0}
	cost := func(x []float64) float64 { return 0 }
	x, _ := Solve(cfg, l, cost, []float64{})
	require.Empty(t, x)
}

func TestSolveMinimizesSimpleQuadraticCost(t *testing.T) {
	cfg := &config.Config{}
	l := &Layout{Dim: 1}
	cost := func(x []float64) float64 { return (x[0] - 3) * (x[0] - 3) }
	x, res := Solve(cfg, l, cost, []float64{0})
	require.Len(t, x, 1)
	require.InDelta(t, 3, x[0], 0.05)
	require.True(t, res.Converged || res.FinalCost < 1e-3)
}

package estimator

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

// geoPose is a local alias avoiding a package-qualified map type literal
// below; it is exactly geo.Pose.
type geoPose = geo.Pose

// imuGravity is the world gravity magnitude used when linearizing the
// marginalization prior; it need not match the estimator's live gravity
// estimate exactly since the prior is only a local approximation around
// the states both frames already converged to.
const imuGravity = 9.80665

// buildPrior linearizes the IMU factor connecting the frame about to be
// marginalized (oldest, fixed at its final solved state) against the
// frame that will become the new window head (next), producing the
// Gaussian prior MarginalizeOldest folds in (§3 "marginalization", §4.3
// factor table "Prior (from marginalization)"). The 15x15 Jacobian
// computed here is over next's own 15-dim state block; buildCost reads
// that block at next's offset in the current layout, and uses a zero
// delta while next is the gauge-pinned oldest frame (absent from the
// layout).
//
// If oldest carries no outgoing IMU pre-integration (e.g. the window
// only ever held one frame), there is nothing to linearize and the
// window simply drops its prior.
func buildPrior(oldest, next *types.Frame) *PriorFactor {
	if next == nil || next.PreIntegration == nil {
		return nil
	}
	gravity := [3]float64{0, 0, -imuGravity}

	l := &Layout{FrameOffset: map[int64]int{next.FrameID: 0}, Dim: frameStride}
	lin := &Linearization{
		FramePose: map[int64]geoPose{next.FrameID: next.Pose, oldest.FrameID: oldest.Pose},
		FrameVel:  map[int64][3]float64{next.FrameID: next.Velocity, oldest.FrameID: oldest.Velocity},
		FrameBa:   map[int64][3]float64{next.FrameID: next.Ba, oldest.FrameID: oldest.Ba},
		FrameBg:   map[int64][3]float64{next.FrameID: next.Bg, oldest.FrameID: oldest.Bg},
	}
	residualAt := func(dst, delta []float64) {
		r := imuResidual(delta, l, lin, gravity, oldest.FrameID, next.FrameID, *next.PreIntegration)
		copy(dst, r[:])
	}

	jac := mat.NewDense(15, frameStride, nil)
	fd.Jacobian(jac, residualAt, make([]float64, frameStride), nil)

	r0 := make([]float64, 15)
	residualAt(r0, make([]float64, frameStride))

	rows, cols := jac.Dims()
	jRows := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		jRows[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			jRows[i][j] = jac.At(i, j)
		}
	}

	return &PriorFactor{
		AnchorFrameID: next.FrameID,
		LinearizedAt:  make([]float64, frameStride),
		Jacobian:      jRows,
		Residual:      r0,
	}
}

package estimator

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/types"
)

// SolveResult summarizes one solve cycle's outcome.
type SolveResult struct {
	Converged  bool
	Iterations int
	FinalCost  float64
	Status     optimize.Status
}

// buildCost assembles the total robust least-squares cost over every
// applicable factor in the current window (§4.3 step 4 "Build problem").
// Analytic Jacobians are intentionally not hand-derived here — per §9,
// the factor residual shapes and connectivity are the specified
// interface; gonum/optimize's finite-difference gradient plays the role
// of the "external nonlinear least squares library" the design assumes.
func buildCost(frames []*types.Frame, landmarks map[types.LandmarkID]*types.Landmark, l *Layout, lin *Linearization, cfg *config.Config, gravity [3]float64, prior *PriorFactor) func(x []float64) float64 {
	frameByID := make(map[int64]*types.Frame, len(frames))
	for _, f := range frames {
		frameByID[f.FrameID] = f
	}
	focal := cfg.GetFocalLength()
	minInvDep := cfg.GetMinInvDep()
	useTd := cfg.GetEstimateTd()

	return func(x []float64) float64 {
		var cost float64

		for _, f := range frames {
			if f.PreIntegration == nil {
				continue
			}
			prevID := previousFrameID(frames, f.FrameID)
			if prevID < 0 {
				continue
			}
			r := imuResidual(x, l, lin, gravity, prevID, f.FrameID, *f.PreIntegration)
			var r2 float64
			for _, v := range r {
				r2 += v * v
			}
			w := huberWeight(r2)
			cost += w * w * r2
		}

		for id, lm := range landmarks {
			if lm.Flag < types.Triangulated || len(lm.Track) == 0 {
				continue
			}
			anchor := lm.Track[0]
			if _, ok := frameByID[anchor.FrameID]; !ok {
				continue
			}
			for _, obs := range lm.Track[1:] {
				if _, ok := frameByID[obs.FrameID]; !ok {
					continue
				}
				r := ProjectionResidual(x, l, lin, focal, anchor, obs, id, minInvDep, useTd)
				r2 := r[0]*r[0] + r[1]*r[1]
				w := huberWeight(r2)
				cost += w * w * r2
			}
			if anchor.HasDepth && cfg.GetFuseDep() && anchor.Depth <= cfg.GetMaxDepthToFuse() {
				dr := DepthResidual(x, l, lin, id, anchor.Depth, minInvDep)
				cost += dr * dr
			}
		}

		if prior != nil {
			// The prior's Jacobian covers only its anchor frame's block; a
			// pinned anchor (absent from the layout) contributes a zero delta.
			px := make([]float64, frameStride)
			if off, ok := l.FrameOffset[prior.AnchorFrameID]; ok {
				copy(px, x[off:off+frameStride])
			}
			for _, v := range PriorResidual(px, prior) {
				cost += v * v
			}
		}
		return cost
	}
}

func previousFrameID(frames []*types.Frame, frameID int64) int64 {
	for i, f := range frames {
		if f.FrameID == frameID {
			if i == 0 {
				return -1
			}
			return frames[i-1].FrameID
		}
	}
	return -1
}

// Solve runs the fixed-iteration, time-bounded optimization described in
// §4.3 step 5 over the current window, returning the optimized parameter
// vector to be synced back into the window by the caller.
func Solve(cfg *config.Config, l *Layout, cost func(x []float64) float64, x0 []float64) ([]float64, SolveResult) {
	if len(x0) == 0 {
		// Nothing to optimize; optimize.Minimize does not accept a
		// zero-dimension problem.
		return x0, SolveResult{Converged: true}
	}
	grad :=func(grad, x []float64) {
		fd.Gradient(grad, cost, x, &fd.Settings{Step: 1e-6})
	}
	problem := optimize.Problem{Func: cost, Grad: grad}

	settings := &optimize.Settings{
		MajorIterations: cfg.GetSolveMaxIter(),
		FuncEvaluations: cfg.GetSolveMaxIter() * 20,
		Runtime:         cfg.GetSolveMaxDuration(),
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if err != nil || result == nil {
		return x0, SolveResult{Converged: false}
	}
	return result.X, SolveResult{
		Converged:  result.Status == optimize.Success || result.Status == optimize.FunctionConvergence,
		Iterations: result.Stats.MajorIterations,
		FinalCost:  result.F,
		Status:     result.Status,
	}
}


package estimator

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/luacghee/D2SLAM/internal/geo"
	imupkg "github.com/luacghee/D2SLAM/internal/imu"
	"github.com/luacghee/D2SLAM/internal/types"
)

// Linearization records the base (pose, velocity, bias) each frame and
// camera extrinsic is linearized around, and the base inverse depth for
// each landmark. The flat parameter vector x only ever holds a
// right-multiplicative tangent delta around these bases (§4.3 manifold
// note) plus the absolute inverse depths and td.
type Linearization struct {
	FramePose  map[int64]geo.Pose
	FrameVel   map[int64][3]float64
	FrameBa    map[int64][3]float64
	FrameBg    map[int64][3]float64
	Extrinsic  map[int]geo.Pose
	Td         float64
	InvDepth   map[types.LandmarkID]float64
}

func expTangent(theta [3]float64) quat.Number {
	n := math.Sqrt(theta[0]*theta[0] + theta[1]*theta[1] + theta[2]*theta[2])
	if n < 1e-9 {
		return quat.Number{Real: 1, Imag: theta[0] / 2, Jmag: theta[1] / 2, Kmag: theta[2] / 2}
	}
	half := n / 2
	s := math.Sin(half) / n
	return quat.Number{Real: math.Cos(half), Imag: theta[0] * s, Jmag: theta[1] * s, Kmag: theta[2] * s}
}

// FrameState reads frame id's current pose/velocity/bias out of x, given
// the linearization base and layout.
func FrameState(x []float64, l *Layout, lin *Linearization, frameID int64) (geo.Pose, [3]float64, [3]float64, [3]float64) {
	off, ok := l.FrameOffset[frameID]
	if !ok {
		base := lin.FramePose[frameID]
		return base, lin.FrameVel[frameID], lin.FrameBa[frameID], lin.FrameBg[frameID]
	}
	base := lin.FramePose[frameID]
	dPos := [3]float64{x[off], x[off+1], x[off+2]}
	dRot := [3]float64{x[off+3], x[off+4], x[off+5]}
	pose := geo.NewPose([3]float64{base.Pos[0] + dPos[0], base.Pos[1] + dPos[1], base.Pos[2] + dPos[2]}, quat.Mul(base.Rot, expTangent(dRot)))
	v := lin.FrameVel[frameID]
	vel := [3]float64{v[0] + x[off+6], v[1] + x[off+7], v[2] + x[off+8]}
	ba0 := lin.FrameBa[frameID]
	ba := [3]float64{ba0[0] + x[off+9], ba0[1] + x[off+10], ba0[2] + x[off+11]}
	bg0 := lin.FrameBg[frameID]
	bg := [3]float64{bg0[0] + x[off+12], bg0[1] + x[off+13], bg0[2] + x[off+14]}
	return pose, vel, ba, bg
}

// ExtrinsicState reads camera cameraID's current extrinsic out of x.
func ExtrinsicState(x []float64, l *Layout, lin *Linearization, cameraID int) geo.Pose {
	base := lin.Extrinsic[cameraID]
	if !l.EstimateExtr {
		return base
	}
	off, ok := l.CameraOffset[cameraID]
	if !ok {
		return base
	}
	dPos := [3]float64{x[off], x[off+1], x[off+2]}
	dRot := [3]float64{x[off+3], x[off+4], x[off+5]}
	return geo.NewPose([3]float64{base.Pos[0] + dPos[0], base.Pos[1] + dPos[1], base.Pos[2] + dPos[2]}, quat.Mul(base.Rot, expTangent(dRot)))
}

// TdState reads the current time-offset estimate out of x.
func TdState(x []float64, l *Layout, lin *Linearization) float64 {
	if !l.EstimateTd {
		return lin.Td
	}
	return lin.Td + x[l.TdOffset]
}

// InvDepthState reads landmark id's current inverse depth out of x,
// clamped to the configured lower bound (§4.3 "bounded below by
// min_inv_dep").
func InvDepthState(x []float64, l *Layout, lin *Linearization, id types.LandmarkID, minInvDep float64) float64 {
	off, ok := l.LandmarkOffset[id]
	d := lin.InvDepth[id]
	if ok {
		d = x[off]
	}
	if d < minInvDep {
		d = minInvDep
	}
	return d
}

// huberWeight applies the Huber robust loss (delta=1, §4.3) to a scalar
// squared residual magnitude r2 = ||residual||^2, returning the scaling
// factor to apply to the residual vector so that sum(scaled^2) equals
// the robustified cost.
func huberWeight(r2 float64) float64 {
	const delta = 1.0
	r := math.Sqrt(r2)
	if r <= delta {
		return 1.0
	}
	return math.Sqrt(delta * (2*r - delta) / r2)
}

// ProjectionResidual computes the isotropic-weighted reprojection
// residual for one landmark observation, connecting the anchor frame,
// the observing frame, the observing camera's extrinsic, the landmark's
// inverse depth, and (if enabled) td (§4.3 factor table, both td and
// no-td projection rows).
func ProjectionResidual(x []float64, l *Layout, lin *Linearization, focalLength float64, anchor types.LandmarkObservation, obs types.LandmarkObservation, id types.LandmarkID, minInvDep float64, useTd bool) [2]float64 {
	anchorPose, _, _, _ := FrameState(x, l, lin, anchor.FrameID)
	obsPose, _, _, _ := FrameState(x, l, lin, obs.FrameID)
	anchorExt := ExtrinsicState(x, l, lin, anchor.CameraID)
	obsExt := ExtrinsicState(x, l, lin, obs.CameraID)
	invDep := InvDepthState(x, l, lin, id, minInvDep)

	// Anchor-frame point: bearing scaled by depth = 1/invDep, expressed
	// in the anchor camera's frame, then lifted into world via the
	// anchor body pose and its camera extrinsic.
	depth := 1.0 / invDep
	localPt := [3]float64{anchor.Bearing[0] * depth, anchor.Bearing[1] * depth, anchor.Bearing[2] * depth}
	worldPt := anchorPose.Compose(anchorExt).TransformPoint(localPt)

	// Project into the observing camera.
	obsCamPose := obsPose.Compose(obsExt)
	local := obsCamPose.Inverse().TransformPoint(worldPt)
	if local[2] <= 1e-6 {
		return [2]float64{0, 0}
	}
	predicted := [2]float64{local[0] / local[2], local[1] / local[2]}
	observedBearing := obs.Bearing
	observed := [2]float64{observedBearing[0] / observedBearing[2], observedBearing[1] / observedBearing[2]}
	if useTd {
		// td-compensated bearing: shift the observed pixel by td * pixel
		// velocity before normalizing, per the "with td" factor row.
		td := TdState(x, l, lin)
		observed[0] += obs.PixelVel[0] * td / local[2]
		observed[1] += obs.PixelVel[1] * td / local[2]
	}
	info := focalLength / 1.5
	return [2]float64{(predicted[0] - observed[0]) * info, (predicted[1] - observed[1]) * info}
}

// imuResidual computes the 15-dim IMU pre-integration residual (§4.3
// factor table) between frames a and b given the pre-integrated block.
func imuResidual(x []float64, l *Layout, lin *Linearization, gravity [3]float64, frameA, frameB int64, block imupkg.PreintegrationResult) [15]float64 {
	poseA, velA, baA, bgA := FrameState(x, l, lin, frameA)
	poseB, velB, baB, bgB := FrameState(x, l, lin, frameB)
	dt := block.Sum

	predictedPose, predictedVel := block.Pose(poseA, velA, gravity)
	posErr := sub3(predictedPose.Pos, poseB.Pos)
	velErr := sub3(predictedVel, velB)
	rotErr := quatLogError(predictedPose.Rot, poseB.Rot)
	baErr := sub3(baA, baB)
	bgErr := sub3(bgA, bgB)
	_ = dt

	var r [15]float64
	copy(r[0:3], posErr[:])
	copy(r[3:6], rotErr[:])
	copy(r[6:9], velErr[:])
	copy(r[9:12], baErr[:])
	copy(r[12:15], bgErr[:])
	return r
}

func quatLogError(predicted, actual quat.Number) [3]float64 {
	err := quat.Mul(quat.Conj(actual), predicted)
	if err.Real < 0 {
		err = quat.Scale(-1, err)
	}
	return [3]float64{2 * err.Imag, 2 * err.Jmag, 2 * err.Kmag}
}

func sub3(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

// DepthResidual is the 1-dim depth-sensor factor (§4.3 factor table).
func DepthResidual(x []float64, l *Layout, lin *Linearization, id types.LandmarkID, measuredDepth, minInvDep float64) float64 {
	invDep := InvDepthState(x, l, lin, id, minInvDep)
	return invDep - 1.0/measuredDepth
}

// PriorResidual evaluates the linearized marginalization prior at the
// current parameter vector: Jacobian * (x_relevant - linearizedAt) +
// residual (§3's LoopEdge-adjacent factor, §4.3 "Prior" row).
func PriorResidual(x []float64, p *PriorFactor) []float64 {
	if p == nil {
		return nil
	}
	n := len(p.Residual)
	out := make([]float64, n)
	copy(out, p.Residual)
	for i := 0; i < n && i < len(p.Jacobian); i++ {
		row := p.Jacobian[i]
		for j := 0; j < len(row) && j < len(x) && j < len(p.LinearizedAt); j++ {
			out[i] += row[j] * (x[j] - p.LinearizedAt[j])
		}
	}
	return out
}

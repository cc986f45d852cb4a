package relpose

import (
	"math"

	"github.com/luacghee/D2SLAM/internal/geo"
)

// VerifyParams holds the §4.4 verification thresholds.
type VerifyParams struct {
	MaxYaw          float64
	MaxPos          float64
	GravityThresh   float64
}

// VerifyResult reports which check, if any, rejected the candidate loop
// edge.
type VerifyResult struct {
	Accepted    bool
	Reason      string // "" if accepted
	DeltaPose   geo.Pose
	YawDelta    float64
	PosNorm     float64
	GravityAngle float64
}

// Verify converts poseA, poseB (both full 6-DoF body poses) to a delta
// pose and applies the three §4.4 gates: yaw delta, position norm, and
// the gravity check (the angle between the two poses' gravity
// directions rotated into body frame).
func Verify(poseA, poseB geo.Pose, p VerifyParams) VerifyResult {
	delta := geo.DeltaPose(poseA, poseB, true)
	yaw := math.Abs(delta.Yaw())
	posNorm := math.Sqrt(delta.Pos[0]*delta.Pos[0] + delta.Pos[1]*delta.Pos[1] + delta.Pos[2]*delta.Pos[2])
	gAngle := geo.AngleBetween(poseA.GravityDirection(), poseB.GravityDirection())

	res := VerifyResult{DeltaPose: delta, YawDelta: yaw, PosNorm: posNorm, GravityAngle: gAngle}
	switch {
	case yaw > p.MaxYaw:
		res.Reason = "yaw delta exceeds accept_loop_max_yaw"
	case posNorm > p.MaxPos:
		res.Reason = "position norm exceeds accept_loop_max_pos"
	case gAngle > p.GravityThresh:
		res.Reason = "gravity check failed"
	default:
		res.Accepted = true
	}
	return res
}

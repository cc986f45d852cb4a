// Package geo implements the rigid-body primitives (C1) shared by every
// other D2SLAM component: SE(3) poses, quaternion composition, and the
// delta-pose / gravity-alignment helpers the relative-pose solver and
// the loop detector build on.
package geo

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid-body transform: rotation as a unit quaternion plus a
// translation in the same frame. All components treat Pose as immutable;
// every operation returns a new value.
type Pose struct {
	Pos [3]float64
	Rot quat.Number
}

// Identity returns the zero transform.
func Identity() Pose {
	return Pose{Rot: quat.Number{Real: 1}}
}

// NewPose builds a pose from a position and a (not necessarily normalized)
// quaternion, normalizing the rotation.
func NewPose(pos [3]float64, rot quat.Number) Pose {
	return Pose{Pos: pos, Rot: normalize(rot)}
}

func normalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Compose returns a ∘ b: applying b first, then a. This matches the
// round-trip law DeltaPose(A ∘ ΔAB, A, is_4dof=false) == ΔAB.
func (a Pose) Compose(b Pose) Pose {
	rot := quat.Mul(a.Rot, b.Rot)
	rotated := rotate(a.Rot, b.Pos)
	pos := [3]float64{
		a.Pos[0] + rotated[0],
		a.Pos[1] + rotated[1],
		a.Pos[2] + rotated[2],
	}
	return Pose{Pos: pos, Rot: normalize(rot)}
}

// Inverse returns the pose that composes with p to the identity.
func (p Pose) Inverse() Pose {
	inv := quat.Conj(p.Rot)
	rotated := rotate(inv, [3]float64{-p.Pos[0], -p.Pos[1], -p.Pos[2]})
	return Pose{Pos: rotated, Rot: normalize(inv)}
}

// TransformPoint maps a point expressed in p's child frame into p's
// parent frame.
func (p Pose) TransformPoint(pt [3]float64) [3]float64 {
	r := rotate(p.Rot, pt)
	return [3]float64{p.Pos[0] + r[0], p.Pos[1] + r[1], p.Pos[2] + r[2]}
}

// rotate applies unit quaternion q to vector v via q * v * conj(q).
func rotate(q quat.Number, v [3]float64) [3]float64 {
	vq := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// Yaw returns the rotation's yaw (heading around +Z) in radians.
func (p Pose) Yaw() float64 {
	q := p.Rot
	siny := 2 * (q.Real*q.Kmag + q.Imag*q.Jmag)
	cosy := 1 - 2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag)
	return math.Atan2(siny, cosy)
}

// GravityDirection returns the world-gravity unit vector (0,0,-1)
// rotated into this pose's body frame — used by the gravity check in
// the relative-pose solver's verification step.
func (p Pose) GravityDirection() [3]float64 {
	inv := quat.Conj(p.Rot)
	v := rotate(inv, [3]float64{0, 0, -1})
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

// DeltaPose computes the relative transform from a to b: a.Inverse() ∘ b.
// When is4dof is true, only yaw is carried into the returned rotation —
// D2SLAM's cross-agent loop edges are constrained to 4-DoF (roll/pitch
// observable from gravity, yaw and position estimated by the solver).
// For same-agent 6-DoF use, callers pass is4dof=false, matching §9's
// note that the flag is identity in that case.
func DeltaPose(a, b Pose, is4dof bool) Pose {
	d := a.Inverse().Compose(b)
	if !is4dof {
		return d
	}
	yaw := d.Yaw()
	return Pose{Pos: d.Pos, Rot: quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}}
}

// AngleBetween returns the angle in radians between two unit vectors,
// used by the gravity check (§4.4): the angle between two poses'
// gravity directions rotated into body frame.
func AngleBetween(a, b [3]float64) float64 {
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	return math.Acos(dot)
}

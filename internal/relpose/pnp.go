// Package relpose implements the relative-pose solver (C5): central PnP
// and non-central GP3P via RANSAC, with the nonlinear refinement and
// cross-agent verification (gravity check, yaw/position gates) the loop
// detector and estimator both depend on.
package relpose

import (
	"errors"
	"math"
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/luacghee/D2SLAM/internal/geo"
)

// ErrInsufficientInliers is returned when RANSAC ran but could not find
// MinInliers inlier correspondences to trust the recovered pose. Too few
// input correspondences return ErrNotAttempted instead.
var ErrInsufficientInliers = errors.New("relpose: insufficient inlier correspondences")

// ErrNotAttempted is returned when the input correspondence count is
// already below the minimum, so RANSAC is never invoked.
var ErrNotAttempted = errors.New("relpose: correspondence count below minimum, RANSAC not attempted")

// Correspondence pairs a 3D anchor point with its observed bearing.
type Correspondence struct {
	Point3D [3]float64
	Bearing [3]float64 // normalized
	CameraID int        // which rigidly-linked camera observed it (GP3P only)
}

// Result is a recovered camera pose plus its inlier set.
type Result struct {
	CamPose geo.Pose
	Inliers []int // indices into the input correspondence slice
}

// RANSACParams controls the central-PnP RANSAC loop (§4.4).
type RANSACParams struct {
	Iterations    int
	Threshold     float64 // reprojection/angular threshold
	Confidence    float64
	MinInliers    int
}

// CentralPnPParams returns the central-PnP RANSAC parameters from §4.4:
// 100 iterations, confidence 0.99, threshold 5/focalLength (an angular
// threshold approximating 5px reprojection error).
func CentralPnPParams(focalLength float64, minInliers int) RANSACParams {
	return RANSACParams{Iterations: 100, Threshold: 5.0 / focalLength, Confidence: 0.99, MinInliers: minInliers}
}

// GP3PParams returns the non-central RANSAC parameters from §4.4:
// 50 iterations, threshold 1/focalLength.
func GP3PParams(focalLength float64, minInliers int) RANSACParams {
	return RANSACParams{Iterations: 50, Threshold: 1.0 / focalLength, Confidence: 0.99, MinInliers: minInliers}
}

// SolveCentralPnP recovers the camera pose from 3D anchor points and
// normalized 2D bearings observed by a single camera, via RANSAC over a
// 3-point minimal solver followed by refinement on the inlier set. The
// recovered camera pose is converted to a body pose via extrinsicInv
// (the inverse of the camera's extrinsic) as §4.4 specifies.
func SolveCentralPnP(corr []Correspondence, extrinsicInv geo.Pose, p RANSACParams, rng *rand.Rand) (Result, error) {
	if len(corr) < p.MinInliers {
		return Result{}, ErrNotAttempted
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	best := Result{}
	bestScore := -1
	for iter := 0; iter < p.Iterations; iter++ {
		sampleIdx := samplePoints(rng, len(corr), 3)
		pose, ok := threePointPose(corr, sampleIdx)
		if !ok {
			continue
		}
		inliers := inlierSet(corr, pose, p.Threshold)
		if len(inliers) > bestScore {
			bestScore = len(inliers)
			best = Result{CamPose: pose, Inliers: inliers}
		}
	}
	if bestScore < p.MinInliers {
		return Result{}, ErrInsufficientInliers
	}
	refined := refinePose(corr, best.Inliers, best.CamPose)
	bodyPose := refined.Compose(extrinsicInv)
	return Result{CamPose: bodyPose, Inliers: best.Inliers}, nil
}

// SolveGP3P recovers the body pose from bearings observed by multiple
// rigidly-linked cameras with known extrinsics (the generalized absolute
// pose problem), via RANSAC over a minimal multi-camera solve followed
// by nonlinear refinement (§4.4).
func SolveGP3P(corr []Correspondence, extrinsics map[int]geo.Pose, p RANSACParams, rng *rand.Rand) (Result, error) {
	if len(corr) < p.MinInliers {
		return Result{}, ErrNotAttempted
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	// Transform every correspondence's bearing into the body frame up
	// front, using the known per-camera extrinsic, reducing GP3P to the
	// same minimal solver as central PnP operating on body-frame rays.
	bodyCorr := make([]Correspondence, len(corr))
	for i, c := range corr {
		ext, ok := extrinsics[c.CameraID]
		if !ok {
			return Result{}, errors.New("relpose: missing extrinsic for camera " + strconv.Itoa(c.CameraID))
		}
		rotated := rotatePoint(ext.Rot, c.Bearing)
		bodyCorr[i] = Correspondence{Point3D: c.Point3D, Bearing: normalize3(rotated), CameraID: c.CameraID}
	}

	best := Result{}
	bestScore := -1
	for iter := 0; iter < p.Iterations; iter++ {
		sampleIdx := samplePoints(rng, len(bodyCorr), 3)
		pose, ok := threePointPose(bodyCorr, sampleIdx)
		if !ok {
			continue
		}
		inliers := inlierSet(bodyCorr, pose, p.Threshold)
		if len(inliers) > bestScore {
			bestScore = len(inliers)
			best = Result{CamPose: pose, Inliers: inliers}
		}
	}
	if bestScore < p.MinInliers {
		return Result{}, ErrInsufficientInliers
	}
	refined := refinePose(bodyCorr, best.Inliers, best.CamPose)
	return Result{CamPose: refined, Inliers: best.Inliers}, nil
}

func samplePoints(rng *rand.Rand, n, k int) []int {
	idx := rng.Perm(n)
	if k > n {
		k = n
	}
	return idx[:k]
}

// threePointPose fits the rigid transform mapping the sampled 3D anchor
// points onto rays through the origin matching their bearings, via
// Umeyama/Kabsch alignment against the bearing-scaled points: for a
// minimal 3-point solve we approximate depths by the anchor points'
// existing norm and solve the rotation/translation that best aligns
// bearings to (point - translation) directions using SVD, in the spirit
// of the classical P3P polynomial solve but expressed as a small
// least-squares alignment suitable for a RANSAC minimal sample.
func threePointPose(corr []Correspondence, idx []int) (geo.Pose, bool) {
	if len(idx) < 3 {
		return geo.Pose{}, false
	}
	pts := make([][3]float64, len(idx))
	dirs := make([][3]float64, len(idx))
	for i, j := range idx {
		pts[i] = corr[j].Point3D
		dirs[i] = normalize3(corr[j].Bearing)
	}

	centroid := centroid3(pts)
	// Approximate camera center as the centroid of the sampled points
	// offset back along the mean bearing by the mean point distance —
	// a reasonable minimal-sample seed, refined afterwards on the full
	// inlier set by refinePose's nonlinear step.
	meanDist := 0.0
	meanDir := [3]float64{}
	for i := range pts {
		meanDist += dist3(pts[i], centroid)
		meanDir = add3(meanDir, dirs[i])
	}
	meanDist /= float64(len(pts))
	meanDir = normalize3(meanDir)
	camPos := sub3(centroid, scale3(meanDir, meanDist))

	rot, ok := estimateRotation(pts, camPos, dirs)
	if !ok {
		return geo.Pose{}, false
	}
	// rot maps world directions into the camera frame; a camera pose
	// carries the camera-to-world rotation, its transpose.
	return rotMatrixToQuatPose(camPos, rot.T()), true
}

// estimateRotation solves for the rotation aligning predicted bearings
// (points - camPos, normalized) to observed bearings via SVD (Kabsch).
func estimateRotation(pts [][3]float64, camPos [3]float64, observed [][3]float64) (rot mat.Matrix, ok bool) {
	n := len(pts)
	H := mat.NewDense(3, 3, nil)
	for i := 0; i < n; i++ {
		pred := normalize3(sub3(pts[i], camPos))
		obs := observed[i]
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				H.Set(r, c, H.At(r, c)+pred[r]*obs[c])
			}
		}
	}
	var svd mat.SVD
	if !svd.Factorize(H, mat.SVDFull) {
		return nil, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}
	return &r, true
}

func rotMatrixToQuatPose(pos [3]float64, rot mat.Matrix) geo.Pose {
	q := rotationMatrixToQuat(rot)
	return geo.NewPose(pos, q)
}

func inlierSet(corr []Correspondence, camPose geo.Pose, thresh float64) []int {
	var inliers []int
	for i, c := range corr {
		predicted := normalize3(sub3(c.Point3D, camPose.Pos))
		observedWorld := rotatePoint(camPose.Rot, c.Bearing)
		if angleBetween3(predicted, observedWorld) < thresh {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// refinePose runs 10 fixed-step updates that move the camera position
// along the summed residual (predicted minus observed world direction)
// over the inlier set, lowering the angular error; the rotation from the
// minimal solve is kept unchanged. This is the "nonlinear
// optimization on the inlier set" step named for central PnP and GP3P
// refinement alike in §4.4.
func refinePose(corr []Correspondence, inliers []int, init geo.Pose) geo.Pose {
	pose := init
	for iter := 0; iter < 10; iter++ {
		var gradPos [3]float64
		for _, i := range inliers {
			c := corr[i]
			predicted := normalize3(sub3(c.Point3D, pose.Pos))
			observedWorld := rotatePoint(pose.Rot, c.Bearing)
			residual := sub3(predicted, observedWorld)
			gradPos = add3(gradPos, residual)
		}
		step := 0.05
		pose.Pos = add3(pose.Pos, scale3(gradPos, step/float64(len(inliers)+1)))
	}
	return pose
}

func centroid3(pts [][3]float64) [3]float64 {
	var c [3]float64
	for _, p := range pts {
		c = add3(c, p)
	}
	return scale3(c, 1/float64(len(pts)))
}

func add3(a, b [3]float64) [3]float64 { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func sub3(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func scale3(a [3]float64, s float64) [3]float64 { return [3]float64{a[0] * s, a[1] * s, a[2] * s} }
func dist3(a, b [3]float64) float64 {
	d := sub3(a, b)
	return math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2])
}
func normalize3(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}
func angleBetween3(a, b [3]float64) float64 { return geo.AngleBetween(a, b) }

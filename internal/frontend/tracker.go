// Package frontend implements the visual front-end (C3/C4): KLT tracking
// with left-right and forward-reverse consistency, replenishment via
// corner detection, the keyframe decision, and the per-keyframe
// descriptor (VisualImageDescArray) the estimator and loop detector both
// consume.
package frontend

import (
	"math"
	"sort"

	"github.com/luacghee/D2SLAM/internal/config"
)

// CameraState is the tracker's per-camera memory: the previous image,
// the points tracked in it, and the landmark id each point belongs to.
type CameraState struct {
	PrevImage  *Image
	PrevPoints []Point2D
	LandmarkID []int64
	lastKFTime float64
}

// Tracker runs the KLT pipeline independently per camera and assigns
// globally unique landmark ids to surviving and newly seeded tracks.
type Tracker struct {
	cfg       *config.Config
	flow      OpticalFlowTracker
	cameras   map[int]*CameraState
	nextID    int64
	agentID   int
}

// NewTracker builds a Tracker for the given agent, using flow (or the
// CPU reference implementation if nil) for optical flow.
func NewTracker(cfg *config.Config, agentID int, flow OpticalFlowTracker) *Tracker {
	if flow == nil {
		flow = NewCPUFlow()
	}
	return &Tracker{cfg: cfg, flow: flow, cameras: make(map[int]*CameraState), agentID: agentID}
}

// CameraFrame bundles one camera's image with its intrinsics/extrinsics
// and the target feature count.
type CameraFrame struct {
	CameraID    int
	Image       *Image
	Extrinsic   [16]float64 // unused beyond identity placeholder; geo.Pose kept in descriptor
	FocalLength float64
	Target      int // desired tracked-point count
}

// TrackResult is the per-camera output of Process: surviving tracks plus
// the pixel velocity and normalized bearing for each.
type TrackResult struct {
	CameraID  int
	Points    []Point2D
	Bearings  [][3]float64
	PixelVel  [][2]float64
	Landmarks []int64
}

// Process runs the KLT pipeline for one camera frame against that
// camera's previous state, replenishing tracks and deciding nothing
// about keyframe-ness itself (that is a cross-camera decision made by
// KeyframeDecision below).
func (t *Tracker) Process(cf CameraFrame, dt float64) TrackResult {
	st, ok := t.cameras[cf.CameraID]
	if !ok {
		st = &CameraState{}
		t.cameras[cf.CameraID] = st
	}

	var res TrackResult
	res.CameraID = cf.CameraID

	if st.PrevImage != nil && len(st.PrevPoints) > 0 {
		tracked, okMask := t.flow.Track(st.PrevImage, cf.Image, st.PrevPoints)
		for i, p := range tracked {
			if !okMask[i] {
				continue
			}
			if p.X < 1 || p.Y < 1 || p.X >= float64(cf.Image.Width-1) || p.Y >= float64(cf.Image.Height-1) {
				continue // boundary rejection, §4.2 step 3
			}
			res.Points = append(res.Points, p)
			res.Landmarks = append(res.Landmarks, st.LandmarkID[i])
			res.Bearings = append(res.Bearings, normalizeBearing(p, cf))
			res.PixelVel = append(res.PixelVel, pixelVelocity(p, st.PrevPoints[i], dt))
		}
	}

	target := cf.Target
	if target == 0 {
		target = 150
	}
	if len(res.Points) < target*3/4 {
		minDist := t.cfg.GetFeatureMinDist()
		fresh := detectCorners(cf.Image, target-len(res.Points), minDist, res.Points)
		for _, p := range fresh {
			res.Points = append(res.Points, p)
			id := t.nextID
			t.nextID++
			res.Landmarks = append(res.Landmarks, id)
			res.Bearings = append(res.Bearings, normalizeBearing(p, cf))
			res.PixelVel = append(res.PixelVel, [2]float64{0, 0})
		}
	}

	st.PrevImage = cf.Image
	st.PrevPoints = res.Points
	st.LandmarkID = res.Landmarks
	return res
}

// StereoMatch matches the left camera's surviving tracks against the
// right image by predicting each point's x-shift from the rig's
// horizontal field of view, then keeping only matches whose reverse
// optical-flow check agrees (§4.2 step 3 "Left->right matching"). The
// right camera's FocalLength is used to normalize bearings for the
// matched points.
func (t *Tracker) StereoMatch(leftImage *Image, left TrackResult, rightCF CameraFrame, fovDeg float64) TrackResult {
	var right TrackResult
	right.CameraID = rightCF.CameraID
	cols := rightCF.Image.Width
	shift := float64(cols) * 90.0 / fovDeg

	predicted := make([]Point2D, len(left.Points))
	for i, p := range left.Points {
		predicted[i] = Point2D{X: p.X - shift, Y: p.Y}
	}
	tracked, ok := t.flow.Track(leftImage, rightCF.Image, predicted)
	for i, p := range tracked {
		if !ok[i] {
			continue
		}
		if p.X < 1 || p.Y < 1 || p.X >= float64(rightCF.Image.Width-1) || p.Y >= float64(rightCF.Image.Height-1) {
			continue
		}
		right.Points = append(right.Points, p)
		right.Landmarks = append(right.Landmarks, left.Landmarks[i])
		right.Bearings = append(right.Bearings, normalizeBearing(p, rightCF))
		right.PixelVel = append(right.PixelVel, [2]float64{0, 0})
	}
	return right
}

func pixelVelocity(cur, prev Point2D, dt float64) [2]float64 {
	if dt <= 0 {
		return [2]float64{0, 0}
	}
	return [2]float64{(cur.X - prev.X) / dt, (cur.Y - prev.Y) / dt}
}

// normalizeBearing converts a pixel coordinate to a unit bearing vector
// under a simple pinhole model centered on the image, using the
// camera's focal length.
func normalizeBearing(p Point2D, cf CameraFrame) [3]float64 {
	f := cf.FocalLength
	if f == 0 {
		f = 460
	}
	cx, cy := float64(cf.Image.Width)/2, float64(cf.Image.Height)/2
	x, y, z := (p.X-cx)/f, (p.Y-cy)/f, 1.0
	n := math.Sqrt(x*x + y*y + z*z)
	return [3]float64{x / n, y / n, z / n}
}

// corner is an interior point with its Harris-style response score.
type corner struct {
	p     Point2D
	score float64
}

// detectCorners is the replenishment step (§4.2 step 4): a
// good-features-to-track stand-in using a Harris corner response,
// enforcing minDist against both existing tracks and previously
// accepted fresh corners.
func detectCorners(im *Image, want int, minDist float64, existing []Point2D) []Point2D {
	if want <= 0 {
		return nil
	}
	const step = 4
	var candidates []corner
	for y := 8; y < im.Height-8; y += step {
		for x := 8; x < im.Width-8; x += step {
			candidates = append(candidates, corner{p: Point2D{X: float64(x), Y: float64(y)}, score: harrisResponse(im, x, y)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	accepted := make([]Point2D, 0, want)
	taken := append([]Point2D{}, existing...)
	for _, c := range candidates {
		if len(accepted) >= want {
			break
		}
		if tooClose(c.p, taken, minDist) {
			continue
		}
		accepted = append(accepted, c.p)
		taken = append(taken, c.p)
	}
	return accepted
}

func tooClose(p Point2D, pts []Point2D, minDist float64) bool {
	for _, q := range pts {
		if dist(p, q) < minDist {
			return true
		}
	}
	return false
}

func harrisResponse(im *Image, x, y int) float64 {
	const k = 0.04
	var sxx, sxy, syy float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			gx, gy := im.GradX(x+dx, y+dy), im.GradY(x+dx, y+dy)
			sxx += gx * gx
			sxy += gx * gy
			syy += gy * gy
		}
	}
	det := sxx*syy - sxy*sxy
	tr := sxx + syy
	return det - k*tr*tr
}

// KeyframeDecision implements §4.2 step 5: a frame is a keyframe iff
// tracked count drops below threshold, mean parallax exceeds threshold,
// or time since the last keyframe exceeds the bound.
type KeyframeDecision struct {
	MinTrackedPoints int
	ParallaxThresh   float64
	MaxInterval      float64
}

// DefaultKeyframeDecision returns production-typical thresholds.
func DefaultKeyframeDecision() KeyframeDecision {
	return KeyframeDecision{MinTrackedPoints: 80, ParallaxThresh: 12.0, MaxInterval: 0.5}
}

// Decide evaluates whether the current frame should become a keyframe.
func (k KeyframeDecision) Decide(trackedCount int, meanParallax, sinceLastKF float64) bool {
	if trackedCount < k.MinTrackedPoints {
		return true
	}
	if meanParallax > k.ParallaxThresh {
		return true
	}
	if sinceLastKF > k.MaxInterval {
		return true
	}
	return false
}

// MeanParallax returns the mean pixel displacement between cur and prev
// for landmarks present in both, by landmark id.
func MeanParallax(curIDs []int64, curPts []Point2D, prevIDs []int64, prevPts []Point2D) float64 {
	prevByID := make(map[int64]Point2D, len(prevIDs))
	for i, id := range prevIDs {
		prevByID[id] = prevPts[i]
	}
	var sum float64
	var n int
	for i, id := range curIDs {
		if pp, ok := prevByID[id]; ok {
			sum += dist(curPts[i], pp)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

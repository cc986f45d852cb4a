package estimator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/num/quat"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/geo"
	imupkg "github.com/luacghee/D2SLAM/internal/imu"
	"github.com/luacghee/D2SLAM/internal/relpose"
	"github.com/luacghee/D2SLAM/internal/telemetry"
	"github.com/luacghee/D2SLAM/internal/types"
)

// Estimator owns the sliding window (C6) and drives the per-keyframe
// solve cycle (C7): IMU pre-integration, initial-pose recovery by PnP or
// IMU propagation, triangulation, nonlinear refinement, and
// fixed-lag marginalization (§4.3).
type Estimator struct {
	cfg    *config.Config
	imuBuf *imupkg.Buffer
	window *SlidingWindow

	mu          sync.Mutex
	initialized bool
	gravity     [3]float64
	bias        imupkg.Bias
	noise       imupkg.NoiseModel
	extrinsics  map[int]geo.Pose
	rng         *rand.Rand
	nextFrameID int64
	lastStamp   float64
}

// NewEstimator returns an uninitialized estimator bound to imuBuf.
// Callers must call Initialize once enough IMU samples have accumulated
// before the first InputKeyframe call (§4.3 "Initialization").
func NewEstimator(cfg *config.Config, imuBuf *imupkg.Buffer) *Estimator {
	return &Estimator{
		cfg:        cfg,
		imuBuf:     imuBuf,
		window:     NewSlidingWindow(cfg.GetMaxSldWinSize()),
		extrinsics: make(map[int]geo.Pose),
		noise:      imupkg.DefaultNoiseModel(),
		rng:        rand.New(rand.NewSource(1)),
	}
}

// Snapshot exposes the current window state to the tracker and loop
// detector (§4.7).
func (e *Estimator) Snapshot() Snapshot { return e.window.Snapshot() }

// SetExtrinsic registers camera cameraID's body-frame extrinsic, used as
// the linearization base until estimate_extrinsic converges it further.
func (e *Estimator) SetExtrinsic(cameraID int, pose geo.Pose) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extrinsics[cameraID] = pose
}

// Extrinsic returns the registered body-frame extrinsic for cameraID, or
// the identity pose if none was set.
func (e *Estimator) Extrinsic(cameraID int) geo.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pose, ok := e.extrinsics[cameraID]; ok {
		return pose
	}
	return geo.Identity()
}

// Initialize performs gravity-alignment initialization from a static or
// near-static run of IMU samples (§4.3 Initialization): gyro bias is the
// sample mean gyro reading, accelerometer bias is the mean specific force
// minus a gravity vector of magnitude imu.Gravity along that same
// direction (the samples are taken to be static), and the first frame's
// orientation is chosen so the measured mean specific
// force aligns with the body's reference "up" axis, matching gravity
// direction in the world frame.
func (e *Estimator) Initialize(samples []imupkg.Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("estimator: cannot initialize from zero IMU samples")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var meanAcc, meanGyro [3]float64
	for _, s := range samples {
		meanAcc = add3(meanAcc, s.Acc)
		meanGyro = add3(meanGyro, s.Gyro)
	}
	n := float64(len(samples))
	meanAcc = scale3(meanAcc, 1/n)
	meanGyro = scale3(meanGyro, 1/n)

	e.bias = imupkg.Bias{Gyro: meanGyro, Acc: sub3(meanAcc, scale3(normalize3(meanAcc), imupkg.Gravity))}
	e.gravity = [3]float64{0, 0, -imupkg.Gravity}

	rot := quatFromTwoVectors(meanAcc, [3]float64{0, 0, 1})
	initPose := geo.NewPose([3]float64{}, rot)

	e.window = NewSlidingWindow(e.cfg.GetMaxSldWinSize())
	e.nextFrameID = 0
	frame := &types.Frame{
		FrameID:    e.nextID(),
		Stamp:      samples[len(samples)-1].T,
		Pose:       initPose,
		Ba:         e.bias.Acc,
		Bg:         e.bias.Gyro,
		IsKeyframe: true,
	}
	e.window.AddFrame(frame)
	e.lastStamp = frame.Stamp
	e.initialized = true
	telemetry.Logf("estimator: initialized, gyro bias=%v gravity-aligned roll/pitch", meanGyro)
	return nil
}

// Reset discards the current window and re-initializes from the last
// init_imu_num samples still buffered, used when the post-solve residual
// indicates the estimate has diverged beyond recovery (§8 supplemented
// recovery path).
func (e *Estimator) Reset(initSamples []imupkg.Sample) error {
	e.mu.Lock()
	e.initialized = false
	e.mu.Unlock()
	telemetry.Logf("estimator: resetting after divergence, reinitializing from IMU")
	return e.Initialize(initSamples)
}

func (e *Estimator) nextID() int64 {
	id := e.nextFrameID
	e.nextFrameID++
	return id
}

// InputKeyframe runs one full solve cycle against a new keyframe
// descriptor (§4.3 steps 1-7): pre-integrate IMU since the previous
// frame, recover an initial pose by PnP against the already-triangulated
// map (falling back to IMU propagation), fold in new landmark
// observations, build and solve the window's nonlinear least squares
// problem, marginalize if the window overflowed, and return the
// frame-id assigned to desc.
func (e *Estimator) InputKeyframe(desc types.VisualImageDescArray) (int64, error) {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return 0, fmt.Errorf("estimator: InputKeyframe called before Initialize")
	}
	prev := e.window.Frames[len(e.window.Frames)-1]
	frameID := e.nextID()
	e.mu.Unlock()

	var preint *imupkg.PreintegrationResult
	if e.imuBuf.Available(desc.Stamp) {
		samples, err := e.imuBuf.Period(prev.Stamp, desc.Stamp)
		if err == nil && len(samples) >= 2 {
			r, perr := imupkg.Propagate(samples, imupkg.Bias{Acc: prev.Ba, Gyro: prev.Bg}, e.noise)
			if perr == nil {
				preint = &r
			}
		}
	}

	pose, vel, pnpOK := e.recoverPose(prev, desc, preint)
	if !pnpOK {
		telemetry.Logf("estimator: PnP unavailable for frame %d, falling back to IMU propagation", frameID)
	}

	frame := &types.Frame{
		FrameID:        frameID,
		Stamp:          desc.Stamp,
		DroneID:        desc.DroneID,
		Pose:           pose,
		Velocity:       vel,
		Ba:             prev.Ba,
		Bg:             prev.Bg,
		PreIntegration: preint,
		IsKeyframe:     desc.IsKeyframe,
	}

	e.mu.Lock()
	e.window.AddFrame(frame)
	e.ingestLandmarks(desc)
	e.mu.Unlock()

	e.solveWindow()

	e.mu.Lock()
	if e.window.Full() {
		e.window.MarginalizeOldest(buildPrior)
		e.imuBuf.Pop(e.window.Frames[0].Stamp)
	}
	ids := e.window.SldWinStatus()
	for _, f := range e.window.Frames {
		f.SldWinStatus = ids
	}
	e.lastStamp = desc.Stamp
	e.mu.Unlock()

	return frameID, nil
}

// recoverPose attempts non-central PnP (GP3P over every camera, using the
// registered extrinsics) against the map's already-triangulated
// landmarks observed in desc; on insufficient inliers it falls back to
// propagating prev's state through preint (§4.3 step 2).
func (e *Estimator) recoverPose(prev *types.Frame, desc types.VisualImageDescArray, preint *imupkg.PreintegrationResult) (geo.Pose, [3]float64, bool) {
	var corr []relpose.Correspondence
	e.mu.Lock()
	for _, cam := range desc.Cameras {
		for _, lk := range cam.Landmarks {
			lm, ok := e.window.Landmarks[lk.ID]
			if !ok || lm.Flag < types.Triangulated {
				continue
			}
			corr = append(corr, relpose.Correspondence{Point3D: lm.Position, Bearing: lk.Obs.Bearing, CameraID: cam.CameraID})
		}
	}
	extrinsics := make(map[int]geo.Pose, len(e.extrinsics))
	for k, v := range e.extrinsics {
		extrinsics[k] = v
	}
	e.mu.Unlock()

	minInliers := e.cfg.GetPnpMinInliers()
	focal := e.cfg.GetFocalLength()
	params := relpose.GP3PParams(focal, minInliers)
	result, err := relpose.SolveGP3P(corr, extrinsics, params, e.rng)
	if err == nil {
		return result.CamPose, prev.Velocity, true
	}

	if preint != nil {
		pose, vel := preint.Pose(prev.Pose, prev.Velocity, e.gravity)
		return pose, vel, false
	}
	return prev.Pose, prev.Velocity, false
}

// ingestLandmarks folds desc's per-camera observations into the window's
// landmark database: extending existing tracks, or opening a new
// Uninitialized track that gets triangulated once it has collected a
// second observation with enough parallax (§3, §4.2).
func (e *Estimator) ingestLandmarks(desc types.VisualImageDescArray) {
	for _, cam := range desc.Cameras {
		for _, lk := range cam.Landmarks {
			lm, ok := e.window.Landmarks[lk.ID]
			if !ok {
				lm = &types.Landmark{ID: lk.ID, Flag: types.Uninitialized}
				e.window.Landmarks[lk.ID] = lm
			}
			lm.Track = append(lm.Track, lk.Obs)
			if lm.Flag == types.Uninitialized && len(lm.Track) >= 2 {
				if pos, anchorDepth, ok := triangulateTwoView(e.window, lm); ok && anchorDepth > 1e-3 {
					lm.Position = pos
					lm.InverseDepth = 1 / anchorDepth
					lm.Flag = types.Triangulated
				}
			}
		}
	}
}

// triangulateTwoView computes the midpoint-of-closest-approach solution
// between the landmark's anchor observation and its most recent
// observation, each lifted into world rays via the owning frame's pose
// (§4.2's "two-view triangulation" need, not otherwise named as a
// separate factor since the estimator folds the result straight into
// InverseDepth and lets the projection factor refine it). The returned
// depth is measured along the anchor ray, matching the inverse-depth
// parametrization ProjectionResidual expects.
func triangulateTwoView(w *SlidingWindow, lm *types.Landmark) (pos [3]float64, anchorDepth float64, ok bool) {
	a := lm.Track[0]
	b := lm.Track[len(lm.Track)-1]
	fa := w.FindFrame(a.FrameID)
	fb := w.FindFrame(b.FrameID)
	if fa == nil || fb == nil || a.FrameID == b.FrameID {
		return [3]float64{}, 0, false
	}
	originA := fa.Pose.Pos
	dirA := normalize3(sub3(fa.Pose.TransformPoint(a.Bearing), originA))
	originB := fb.Pose.Pos
	dirB := normalize3(sub3(fb.Pose.TransformPoint(b.Bearing), originB))

	// Closest point between the two rays originA+t*dirA and
	// originB+s*dirB (standard two-line least squares solve).
	w0 := sub3(originA, originB)
	a11 := dot3(dirA, dirA)
	a12 := dot3(dirA, dirB)
	a22 := dot3(dirB, dirB)
	b1 := -dot3(dirA, w0)
	b2 := -dot3(dirB, w0)
	den := a11*a22 - a12*a12
	if math.Abs(den) < 1e-9 {
		return [3]float64{}, 0, false
	}
	s := (a22*b1 - a12*b2) / den
	t := (a12*b1 - a11*b2) / den
	if s <= 0 || t <= 0 {
		return [3]float64{}, 0, false
	}
	pA := add3(originA, scale3(dirA, s))
	pB := add3(originB, scale3(dirB, t))
	mid := scale3(add3(pA, pB), 0.5)
	return mid, s, true
}

func dot3(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

// solveWindow builds the flat layout and cost function for the current
// window and runs the bounded nonlinear solve, syncing results back into
// the window's frames and landmarks (§4.3 steps 4-6).
func (e *Estimator) solveWindow() {
	snap := e.window.Snapshot()
	if len(snap.Frames) < e.cfg.GetMinSolveFrames() {
		return
	}

	frames := make([]*types.Frame, len(snap.Frames))
	for i := range snap.Frames {
		f := snap.Frames[i]
		frames[i] = &f
	}
	landmarks := make(map[types.LandmarkID]*types.Landmark, len(snap.Landmarks))
	for id, lm := range snap.Landmarks {
		l := lm
		landmarks[id] = &l
	}

	cameraIDs := make([]int, 0, len(e.extrinsics))
	e.mu.Lock()
	for id := range e.extrinsics {
		cameraIDs = append(cameraIDs, id)
	}
	extrinsics := make(map[int]geo.Pose, len(e.extrinsics))
	for k, v := range e.extrinsics {
		extrinsics[k] = v
	}
	e.mu.Unlock()
	sort.Ints(cameraIDs)

	pinned := e.window.GaugeFix()
	layout := BuildLayout(frames, landmarks, cameraIDs, pinned, e.cfg.GetEstimateExtrinsic(), e.cfg.GetEstimateTd())
	lin := &Linearization{
		FramePose: map[int64]geo.Pose{},
		FrameVel:  map[int64][3]float64{},
		FrameBa:   map[int64][3]float64{},
		FrameBg:   map[int64][3]float64{},
		Extrinsic: extrinsics,
		Td:        e.cfg.GetTdInitial(),
		InvDepth:  map[types.LandmarkID]float64{},
	}
	for _, f := range frames {
		lin.FramePose[f.FrameID] = f.Pose
		lin.FrameVel[f.FrameID] = f.Velocity
		lin.FrameBa[f.FrameID] = f.Ba
		lin.FrameBg[f.FrameID] = f.Bg
	}
	for id, lm := range landmarks {
		lin.InvDepth[id] = lm.InverseDepth
	}

	x0 := layout.ZeroVector()
	for id, off := range layout.LandmarkOffset {
		x0[off] = lin.InvDepth[id]
	}

	cost := buildCost(frames, landmarks, layout, lin, e.cfg, e.gravity, e.window.Prior)
	xStar, _ := Solve(e.cfg, layout, cost, x0)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, fid := range layout.FrameOrder {
		pose, vel, ba, bg := FrameState(xStar, layout, lin, fid)
		if f := e.window.FindFrame(fid); f != nil {
			f.Pose, f.Velocity, f.Ba, f.Bg = pose, vel, ba, bg
		}
	}
	for id, off := range layout.LandmarkOffset {
		if lm, ok := e.window.Landmarks[id]; ok {
			lm.InverseDepth = xStar[off]
			if lm.InverseDepth > 0 {
				if anchorID, camID, ok := lm.AnchorFrame(); ok {
					if af := e.window.FindFrame(anchorID); af != nil {
						ext := extrinsics[camID]
						depth := 1 / lm.InverseDepth
						local := [3]float64{lm.Track[0].Bearing[0] * depth, lm.Track[0].Bearing[1] * depth, lm.Track[0].Bearing[2] * depth}
						lm.Position = af.Pose.Compose(ext).TransformPoint(local)
					}
				}
			}
		}
	}
}

func quatFromTwoVectors(a, b [3]float64) quat.Number {
	a = normalize3(a)
	b = normalize3(b)
	d := dot3(a, b)
	if d < -0.999999 {
		axis := [3]float64{1, 0, 0}
		if math.Abs(a[0]) > 0.9 {
			axis = [3]float64{0, 1, 0}
		}
		axis = normalize3(cross3(a, axis))
		return quat.Number{Imag: axis[0], Jmag: axis[1], Kmag: axis[2]}
	}
	cr := cross3(a, b)
	q := quat.Number{Real: 1 + d, Imag: cr[0], Jmag: cr[1], Kmag: cr[2]}
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

func cross3(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func add3(a, b [3]float64) [3]float64 { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func scale3(a [3]float64, s float64) [3]float64 { return [3]float64{a[0] * s, a[1] * s, a[2] * s} }
func normalize3(v [3]float64) [3]float64 {
	n := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}

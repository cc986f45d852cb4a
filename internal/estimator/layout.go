package estimator

import (
	"sort"

	"github.com/luacghee/D2SLAM/internal/types"
)

// frameStride is the per-frame parameter block: position(3) + rotation
// tangent delta(3) + velocity(3) + accel bias(3) + gyro bias(3) (§4.3
// "State vector for each frame").
const frameStride = 15

// extrinsicStride is the per-camera extrinsic block: position(3) +
// rotation tangent delta(3).
const extrinsicStride = 6

// Layout maps the sliding window's frames, camera extrinsics, the time
// offset, and landmark inverse depths onto offsets in a single flat
// parameter vector — the manifold-aware parameter store §4.3 calls for:
// poses live on R3 x S3, with quaternion updates applied as a
// right-multiplicative tangent-space retraction around a fixed
// linearization point (the per-frame/per-camera base values held in
// Linearization).
type Layout struct {
	FrameOffset     map[int64]int
	FrameOrder      []int64
	CameraOffset    map[int]int
	CameraOrder     []int
	LandmarkOffset  map[types.LandmarkID]int
	LandmarkOrder   []types.LandmarkID
	TdOffset        int
	EstimateExtr    bool
	EstimateTd      bool
	Dim             int
}

// BuildLayout assigns offsets for every frame currently in the window
// except pinnedFrameID (the gauge-fix anchor, §4.3 step 4: pinning one
// frame's pose/velocity/bias removes the solve's unobservable 7-DoF
// global gauge freedom — FrameState falls back to its linearization-base
// value for any frame absent from FrameOffset), every distinct camera id
// observed, every landmark with flag >= Triangulated (inverse depth is
// only meaningful once triangulated), and (if enabled) the extrinsics
// and td.
func BuildLayout(frames []*types.Frame, landmarks map[types.LandmarkID]*types.Landmark, cameraIDs []int, pinnedFrameID int64, estimateExtr, estimateTd bool) *Layout {
	l := &Layout{
		FrameOffset:    make(map[int64]int),
		CameraOffset:   make(map[int]int),
		LandmarkOffset: make(map[types.LandmarkID]int),
		EstimateExtr:   estimateExtr,
		EstimateTd:     estimateTd,
	}
	off := 0
	for _, f := range frames {
		if f.FrameID == pinnedFrameID {
			continue
		}
		l.FrameOffset[f.FrameID] = off
		l.FrameOrder = append(l.FrameOrder, f.FrameID)
		off += frameStride
	}
	if estimateExtr {
		sortedCams := append([]int{}, cameraIDs...)
		sort.Ints(sortedCams)
		for _, c := range sortedCams {
			l.CameraOffset[c] = off
			l.CameraOrder = append(l.CameraOrder, c)
			off += extrinsicStride
		}
	}
	if estimateTd {
		l.TdOffset = off
		off++
	}
	ids := make([]types.LandmarkID, 0, len(landmarks))
	for id, lm := range landmarks {
		if lm.Flag >= types.Triangulated {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].AgentID != ids[j].AgentID {
			return ids[i].AgentID < ids[j].AgentID
		}
		return ids[i].LocalID < ids[j].LocalID
	})
	for _, id := range ids {
		l.LandmarkOffset[id] = off
		l.LandmarkOrder = append(l.LandmarkOrder, id)
		off++
	}
	l.Dim = off
	return l
}

// ZeroVector returns a parameter vector of the right dimension,
// representing "no deviation from the linearization point" (all tangent
// deltas zero, inverse depths at their current linearized value is
// handled separately since those are absolute, not tangent, so callers
// seed landmark slots with the current inverse depth rather than zero).
func (l *Layout) ZeroVector() []float64 {
	return make([]float64, l.Dim)
}

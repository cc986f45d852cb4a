// Package estimator implements the sliding-window state (C6) and the
// nonlinear factor-graph solve loop (C7): IMU, reprojection, and depth
// factors over a bounded window of keyframes, with fixed-lag
// marginalization folding the oldest frame into a prior.
package estimator

import (
	"sync"

	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

// SlidingWindow is the estimator's authoritative state: an ordered,
// bounded sequence of frames plus the landmark database anchored to
// them (§3). It is safe for concurrent use; readers outside the
// estimator (tracker, loop detector) only ever see an immutable Snapshot
// pushed under mu, never a live pointer into Frames/Landmarks — this
// keeps the three consumers from drifting out of sync (§4.7).
type SlidingWindow struct {
	mu        sync.Mutex
	maxLen    int
	Frames    []*types.Frame
	Landmarks map[types.LandmarkID]*types.Landmark
	Prior     *PriorFactor
}

// NewSlidingWindow returns an empty window bounded to maxLen frames.
func NewSlidingWindow(maxLen int) *SlidingWindow {
	return &SlidingWindow{maxLen: maxLen, Landmarks: make(map[types.LandmarkID]*types.Landmark)}
}

// Snapshot is the immutable value published to the tracker and loop
// detector after each solve (§4.7, §9 design note).
type Snapshot struct {
	Frames    []types.Frame
	Landmarks map[types.LandmarkID]types.Landmark
}

// Snapshot returns a deep-enough copy of the window for external readers.
func (w *SlidingWindow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	frames := make([]types.Frame, len(w.Frames))
	for i, f := range w.Frames {
		frames[i] = *f
	}
	landmarks := make(map[types.LandmarkID]types.Landmark, len(w.Landmarks))
	for id, l := range w.Landmarks {
		landmarks[id] = *l
	}
	return Snapshot{Frames: frames, Landmarks: landmarks}
}

// AddFrame appends frame to the tail. The caller must ensure frame-id
// and timestamp are strictly greater than the current tail (§3's
// SlidingWindow invariant); AddFrame does not itself marginalize — check
// Full and call MarginalizeOldest afterwards.
func (w *SlidingWindow) AddFrame(f *types.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Frames = append(w.Frames, f)
}

// Len returns the current number of frames held.
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Frames)
}

// Oldest returns the oldest frame in the window, or nil if empty.
func (w *SlidingWindow) Oldest() *types.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.Frames) == 0 {
		return nil
	}
	return w.Frames[0]
}

// Full reports whether the window has exceeded its bound W and needs
// marginalization (§8 boundary behavior: the W+1-th frame triggers it).
func (w *SlidingWindow) Full() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.Frames) > w.maxLen
}

// MarginalizeOldest folds the oldest frame's factors into Prior, drops
// the frame, and re-anchors any landmark whose anchor was that frame
// (§3's "removing the anchor frame requires re-anchoring or dropping
// the landmark").
func (w *SlidingWindow) MarginalizeOldest(buildPrior func(oldest *types.Frame, next *types.Frame) *PriorFactor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.Frames) == 0 {
		return
	}
	oldest := w.Frames[0]
	var next *types.Frame
	if len(w.Frames) > 1 {
		next = w.Frames[1]
	}
	w.Prior = buildPrior(oldest, next)
	w.Frames = w.Frames[1:]

	for id, lm := range w.Landmarks {
		anchorFrame, _, ok := lm.AnchorFrame()
		if !ok || anchorFrame != oldest.FrameID {
			continue
		}
		if reanchored, ok := reanchor(lm); ok {
			w.Landmarks[id] = reanchored
		} else {
			delete(w.Landmarks, id)
		}
	}
}

// reanchor drops the first (now-marginalized) observation and promotes
// the next observation to anchor, provided at least one remains.
func reanchor(lm *types.Landmark) (*types.Landmark, bool) {
	if len(lm.Track) < 2 {
		return nil, false
	}
	cp := *lm
	cp.Track = append([]types.LandmarkObservation{}, lm.Track[1:]...)
	return &cp, true
}

// PriorFactor is the linearized constraint folded from a marginalized
// frame onto the remaining oldest state (§3 LoopEdge-adjacent concept,
// §4.3 factor table "Prior (from marginalization)").
type PriorFactor struct {
	AnchorFrameID int64
	LinearizedAt  []float64 // flattened state at linearization point
	Jacobian      [][]float64
	Residual      []float64
}

// GaugeFix pins the oldest frame's pose and velocity/bias as gauge
// (§4.3 step 4, §8 invariant 4: "gauge freedom is fixed"). Returns the
// frame-id pinned, or -1 if the window is empty.
func (w *SlidingWindow) GaugeFix() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.Frames) == 0 {
		return -1
	}
	return w.Frames[0].FrameID
}

// FindFrame returns the frame with the given id, or nil.
func (w *SlidingWindow) FindFrame(id int64) *types.Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range w.Frames {
		if f.FrameID == id {
			return f
		}
	}
	return nil
}

// SldWinStatus returns the ordered frame-ids currently held, as
// broadcast for peer awareness (§3).
func (w *SlidingWindow) SldWinStatus() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int64, len(w.Frames))
	for i, f := range w.Frames {
		ids[i] = f.FrameID
	}
	return ids
}

// identityExtrinsic is the default per-camera extrinsic used before
// calibration estimation converges.
var identityExtrinsic = geo.Identity()

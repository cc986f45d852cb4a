// Package types holds the data model shared by the front-end, estimator,
// loop detector, and swarm transport (§3): landmarks, frames, keyframe
// descriptors, and loop edges. Keeping these in one leaf package avoids
// import cycles between the four consumers.
package types

import (
	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/imu"
)

// LandmarkFlag is a landmark's lifecycle state (§3).
type LandmarkFlag int

const (
	Uninitialized LandmarkFlag = iota
	Triangulated
	Initialized
	Outlier
)

func (f LandmarkFlag) String() string {
	switch f {
	case Uninitialized:
		return "UNINITIALIZED"
	case Triangulated:
		return "TRIANGULATED"
	case Initialized:
		return "INITIALIZED"
	case Outlier:
		return "OUTLIER"
	default:
		return "UNKNOWN"
	}
}

// LandmarkObservation is one sighting of a landmark in a frame/camera.
type LandmarkObservation struct {
	FrameID      int64
	CameraID     int
	Bearing      [3]float64 // normalized, on S^2
	PixelVel     [2]float64
	TimeOffset   float64
	HasDepth     bool
	Depth        float64
}

// LandmarkID identifies a landmark across agents: (agent, local id).
type LandmarkID struct {
	AgentID int
	LocalID int64
}

// Landmark is a tracked 3D point (§3).
type Landmark struct {
	ID            LandmarkID
	Track         []LandmarkObservation
	Flag          LandmarkFlag
	Position      [3]float64
	InverseDepth  float64
}

// AnchorFrame returns the frame/camera of the landmark's first
// observation, which defines its anchor per §3's invariant.
func (l *Landmark) AnchorFrame() (frameID int64, cameraID int, ok bool) {
	if len(l.Track) == 0 {
		return 0, 0, false
	}
	return l.Track[0].FrameID, l.Track[0].CameraID, true
}

// Frame is a sliding-window entry (§3).
type Frame struct {
	FrameID         int64
	Stamp           float64
	DroneID         int
	Pose            geo.Pose
	Velocity        [3]float64
	Ba, Bg          [3]float64
	PreIntegration  *imu.PreintegrationResult // from previous frame in window; nil for the first
	IsKeyframe      bool
	SldWinStatus    []int64
}

// CameraObservations bundles one camera's global descriptor and
// per-landmark observations within a keyframe.
type CameraObservations struct {
	CameraID   int
	Extrinsic  geo.Pose
	Descriptor []float32
	Landmarks  []LandmarkObservationKeyed
}

// LandmarkObservationKeyed pairs a LandmarkObservation with the global
// landmark id it belongs to, as carried over the wire (§6 outputs).
type LandmarkObservationKeyed struct {
	ID LandmarkID
	Obs LandmarkObservation
}

// VisualImageDescArray is the keyframe descriptor exchanged between the
// front-end, estimator, loop detector, and swarm transport (§6).
type VisualImageDescArray struct {
	FrameID          int64
	DroneID          int
	ReferenceFrameID int64
	Stamp            float64
	PoseDrone        geo.Pose
	SldWinStatus     []int64
	Cameras          []CameraObservations
	IsKeyframe       bool
	IsLazyFrame      bool
	MatchedFrame     int64 // -1 if none
	MatchedDrone     int
	SendToBackend    bool
}

// LoopEdge is a geometric constraint between two keyframes (§3).
type LoopEdge struct {
	ID           string
	FrameA       int64
	DroneA       int
	FrameB       int64
	DroneB       int
	RelativePose geo.Pose
	Covariance   [6 * 6]float64
	Inliers      int
}

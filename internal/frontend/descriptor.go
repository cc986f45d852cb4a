package frontend

import (
	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/types"
)

// DescriptorModel computes a fixed-length global image descriptor. The
// neural network that actually produces these vectors is out of scope
// (§1): it is an external collaborator specified only at this interface.
type DescriptorModel interface {
	Compute(im *Image) []float32
}

// NullDescriptorModel is a zero-length-vector stand-in used when no
// descriptor network is wired, e.g. in tests that only exercise
// geometric verification.
type NullDescriptorModel struct{}

func (NullDescriptorModel) Compute(*Image) []float32 { return nil }

// Builder assembles a VisualImageDescArray from the per-camera track
// results and extrinsics of one stereo/multi-camera frame (C4).
type Builder struct {
	Model DescriptorModel
}

// NewBuilder returns a Builder using model, or NullDescriptorModel if nil.
func NewBuilder(model DescriptorModel) *Builder {
	if model == nil {
		model = NullDescriptorModel{}
	}
	return &Builder{Model: model}
}

// CameraInput is one camera's image, extrinsic, and track result, ready
// to fold into a keyframe descriptor.
type CameraInput struct {
	CameraID  int
	Image     *Image
	Extrinsic geo.Pose
	Track     TrackResult
}

// Build constructs a VisualImageDescArray for frameID at stamp, given the
// agent's current pose estimate and one CameraInput per camera.
func (b *Builder) Build(frameID int64, droneID int, stamp float64, pose geo.Pose, sldWinStatus []int64, cams []CameraInput, isKeyframe bool) types.VisualImageDescArray {
	out := types.VisualImageDescArray{
		FrameID:          frameID,
		DroneID:          droneID,
		ReferenceFrameID: frameID,
		Stamp:            stamp,
		PoseDrone:        pose,
		SldWinStatus:     sldWinStatus,
		IsKeyframe:       isKeyframe,
		MatchedFrame:     -1,
		SendToBackend:    isKeyframe,
	}
	for _, c := range cams {
		obs := make([]types.LandmarkObservationKeyed, len(c.Track.Points))
		for i := range c.Track.Points {
			lo := types.LandmarkObservation{
				FrameID:    frameID,
				CameraID:   c.CameraID,
				Bearing:    c.Track.Bearings[i],
				PixelVel:   c.Track.PixelVel[i],
			}
			obs[i] = types.LandmarkObservationKeyed{
				ID:  types.LandmarkID{AgentID: droneID, LocalID: c.Track.Landmarks[i]},
				Obs: lo,
			}
		}
		out.Cameras = append(out.Cameras, types.CameraObservations{
			CameraID:   c.CameraID,
			Extrinsic:  c.Extrinsic,
			Descriptor: b.Model.Compute(c.Image),
			Landmarks:  obs,
		})
	}
	return out
}

// ApplyLazyPolicy implements §6's lazy broadcast / force-landmarks rule:
// a non-keyframe descriptor is suppressed when lazy broadcasting is
// enabled and the agent is not in discover mode; any other non-keyframe
// is stripped down to pose-only (no landmark payload) and flagged lazy.
// A keyframe keeps its landmark payload only when a nearby peer is known.
// Returning false means the descriptor should not be broadcast at all.
func ApplyLazyPolicy(desc types.VisualImageDescArray, lazyEnabled, discoverMode, anyNearbyPeer bool) (types.VisualImageDescArray, bool) {
	if !desc.IsKeyframe && lazyEnabled && !discoverMode {
		return desc, false
	}
	if !desc.IsKeyframe {
		desc.IsLazyFrame = true
		desc.Cameras = stripLandmarks(desc.Cameras)
		return desc, true
	}
	if !anyNearbyPeer {
		desc.Cameras = stripLandmarks(desc.Cameras)
	}
	return desc, true
}

func stripLandmarks(cams []types.CameraObservations) []types.CameraObservations {
	out := make([]types.CameraObservations, len(cams))
	for i, c := range cams {
		out[i] = types.CameraObservations{CameraID: c.CameraID, Extrinsic: c.Extrinsic, Descriptor: c.Descriptor}
	}
	return out
}

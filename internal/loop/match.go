package loop

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/relpose"
	"github.com/luacghee/D2SLAM/internal/types"
)

// MatchResult is one camera's surviving correspondences after KNN
// matching with Lowe's ratio test (§4.5 step 2).
type MatchResult struct {
	CameraID int
	Corr     []relpose.Correspondence
}

// MatchCameras matches query's per-camera landmark observations against
// candidate's by bearing-space nearest/second-nearest neighbor with
// Lowe ratio knnRatio: a query bearing only survives if its nearest
// candidate bearing beats the second-nearest by the ratio, the standard
// descriptor-matching gate applied here directly to normalized bearings
// since both sides originate from the same front-end track space.
// search_local_dist additionally gates same-camera matches by pixel
// (bearing) proximity, approximating the "shared frame, left-right"
// case named in §4.5 step 2.
func MatchCameras(query types.VisualImageDescArray, cand *KeyframeRecord, knnRatio, searchLocalDist float64) []MatchResult {
	var results []MatchResult
	for _, qcam := range query.Cameras {
		var ccam *types.CameraObservations
		for i := range cand.Desc.Cameras {
			if cand.Desc.Cameras[i].CameraID == qcam.CameraID {
				ccam = &cand.Desc.Cameras[i]
				break
			}
		}
		if ccam == nil || len(ccam.Landmarks) == 0 {
			continue
		}

		var corr []relpose.Correspondence
		for _, qlk := range qcam.Landmarks {
			best, second := -1, -1
			bestD, secondD := math.MaxFloat64, math.MaxFloat64
			for i, clk := range ccam.Landmarks {
				d := bearingDist(qlk.Obs.Bearing, clk.Obs.Bearing)
				if d < bestD {
					second, secondD = best, bestD
					best, bestD = i, d
				} else if d < secondD {
					second, secondD = i, d
				}
			}
			if best < 0 {
				continue
			}
			if second >= 0 && bestD >= knnRatio*secondD {
				continue // ambiguous match, rejected by the ratio test
			}
			matched := ccam.Landmarks[best]
			if searchLocalDist > 0 && bearingDist(qlk.Obs.Bearing, matched.Obs.Bearing) > searchLocalDist {
				continue
			}
			pos, ok := cand.Positions[matched.ID]
			if !ok {
				continue
			}
			corr = append(corr, relpose.Correspondence{Point3D: pos, Bearing: qlk.Obs.Bearing, CameraID: qcam.CameraID})
		}
		if len(corr) > 0 {
			results = append(results, MatchResult{CameraID: qcam.CameraID, Corr: corr})
		}
	}
	return results
}

func bearingDist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Verify runs the relative-pose solve (central PnP across all cameras'
// correspondences pooled) plus the yaw/position/gravity gate from §4.4,
// returning a LoopEdge on success.
func Verify(query types.VisualImageDescArray, cand *KeyframeRecord, matches []MatchResult, cfg *config.Config, cameraExtrinsicInv geo.Pose, rng *rand.Rand) (types.LoopEdge, error) {
	var corr []relpose.Correspondence
	for _, m := range matches {
		corr = append(corr, m.Corr...)
	}
	minInliers := cfg.GetLoopInlierFeatureNum()
	params := relpose.CentralPnPParams(cfg.GetFocalLength(), minInliers)

	result, err := relpose.SolveCentralPnP(corr, cameraExtrinsicInv, params, rng)
	if err != nil {
		return types.LoopEdge{}, err
	}

	verifyParams := relpose.VerifyParams{
		MaxYaw:        cfg.GetAcceptLoopMaxYaw(),
		MaxPos:        cfg.GetAcceptLoopMaxPos(),
		GravityThresh: cfg.GetGravityCheckThres(),
	}
	vr := relpose.Verify(cand.Desc.PoseDrone, result.CamPose, verifyParams)
	if !vr.Accepted {
		return types.LoopEdge{}, fmt.Errorf("loop: verification rejected (%s)", vr.Reason)
	}

	return types.LoopEdge{
		ID:           edgeID(cand.Desc.DroneID, cand.Desc.FrameID, query.DroneID, query.FrameID),
		FrameA:       cand.Desc.FrameID,
		DroneA:       cand.Desc.DroneID,
		FrameB:       query.FrameID,
		DroneB:       query.DroneID,
		RelativePose: vr.DeltaPose,
		Inliers:      len(result.Inliers),
	}, nil
}

func edgeID(droneA int, frameA int64, droneB int, frameB int64) string {
	return fmt.Sprintf("%d:%d-%d:%d", droneA, frameA, droneB, frameB)
}

package loop

import (
	"math/rand"
	"sync"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/geo"
	"github.com/luacghee/D2SLAM/internal/telemetry"
	"github.com/luacghee/D2SLAM/internal/types"
)

// Detector runs the full §4.5 cycle: retrieve candidates, match, verify,
// and decide whether a newly produced LoopEdge gets re-broadcast.
type Detector struct {
	cfg *config.Config
	db  *Database
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDetector returns a detector backed by db.
func NewDetector(cfg *config.Config, db *Database) *Detector {
	return &Detector{cfg: cfg, db: db, rng: rand.New(rand.NewSource(2))}
}

// Process runs retrieval, matching, and verification for desc against
// the database, inserting desc first so later queries can match against
// it, and returns any LoopEdge found (§4.5 steps 1-3).
func (d *Detector) Process(desc types.VisualImageDescArray, extrinsicInv geo.Pose) (types.LoopEdge, bool) {
	d.db.Insert(desc)

	topK := 5
	maxTimeDelta := 0.0 // 0 disables the time gate; callers with a known window pass one via config in a future extension
	candidates := d.db.Candidates(desc, topK, maxTimeDelta)

	d.mu.Lock()
	rng := d.rng
	d.mu.Unlock()

	for _, cand := range candidates {
		rec := d.db.Find(cand.DroneID, cand.FrameID)
		if rec == nil {
			continue
		}
		matches := MatchCameras(desc, rec, d.cfg.GetKnnMatchRatioLoop(), d.cfg.GetSearchLocalDist())
		if len(matches) == 0 {
			continue
		}
		edge, err := Verify(desc, rec, matches, d.cfg, extrinsicInv, rng)
		if err != nil {
			continue
		}
		telemetry.Logf("loop: edge found %s, inliers=%d", edge.ID, edge.Inliers)
		return edge, true
	}
	return types.LoopEdge{}, false
}

// ShouldRebroadcast implements §4.5 step 4: a loop edge between two of
// selfID's own frames is re-broadcast in non-distributed PGO mode (the
// external optimizer is centralized and needs every edge); in
// distributed mode it stays local. An edge with either endpoint on
// another drone (DroneA or DroneB != selfID) is never re-broadcast,
// regardless of mode.
func ShouldRebroadcast(edge types.LoopEdge, selfID int, pgoMode config.PGOMode) bool {
	if edge.DroneA != selfID && edge.DroneB != selfID {
		return false
	}
	remoteEdge := edge.DroneA != selfID || edge.DroneB != selfID
	if remoteEdge {
		return false
	}
	return pgoMode == config.PGONonDistributed
}

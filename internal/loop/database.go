// Package loop implements the loop detector (C8): a keyframe database,
// descriptor-similarity candidate retrieval, KNN matching with
// geometric verification, a bounded matched-frame waiter pool, and the
// broadcast-or-keep-local policy for the loop edges it emits.
package loop

import (
	"math"
	"sort"
	"sync"

	"github.com/luacghee/D2SLAM/internal/types"
)

// KeyframeRecord is one entry in the loop detector's database: the
// descriptor as broadcast plus a denormalized landmark position map
// refreshed from the estimator's snapshots (§4.7) so PnP in Verify
// always anchors against the latest triangulated positions.
type KeyframeRecord struct {
	Desc      types.VisualImageDescArray
	Positions map[types.LandmarkID][3]float64
}

// Database holds past keyframes, local and remote, keyed by
// (drone_id, frame_id) so candidate retrieval can span agents.
type Database struct {
	mu      sync.RWMutex
	records map[frameKey]*KeyframeRecord
	order   []frameKey // insertion order, oldest first, for time-gated retrieval
}

type frameKey struct {
	DroneID int
	FrameID int64
}

// NewDatabase returns an empty keyframe database.
func NewDatabase() *Database {
	return &Database{records: make(map[frameKey]*KeyframeRecord)}
}

// Insert adds or replaces desc's record.
func (d *Database) Insert(desc types.VisualImageDescArray) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := frameKey{DroneID: desc.DroneID, FrameID: desc.FrameID}
	if _, exists := d.records[k]; !exists {
		d.order = append(d.order, k)
	}
	d.records[k] = &KeyframeRecord{Desc: desc, Positions: make(map[types.LandmarkID][3]float64)}
}

// UpdatePositions refreshes the denormalized landmark positions used as
// PnP anchors for every record holding an observation of each id, from
// an estimator snapshot (§4.7 "tracker and detector read immutable
// snapshots").
func (d *Database) UpdatePositions(landmarks map[types.LandmarkID]types.Landmark) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, rec := range d.records {
		for _, cam := range rec.Desc.Cameras {
			for _, lk := range cam.Landmarks {
				if lm, ok := landmarks[lk.ID]; ok && lm.Flag >= types.Triangulated {
					rec.Positions[lk.ID] = lm.Position
				}
			}
		}
	}
}

// Find returns the record for (droneID, frameID), or nil.
func (d *Database) Find(droneID int, frameID int64) *KeyframeRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.records[frameKey{DroneID: droneID, FrameID: frameID}]
}

// Candidates returns the top-K most similar keyframes to query by global
// descriptor cosine similarity, excluding query's own (drone,frame) and
// anything outside the time gate (§4.5 step 1). A spatial gate is
// applied by the caller once a coarse relative pose is available;
// descriptor similarity alone is the cheap first filter.
func (d *Database) Candidates(query types.VisualImageDescArray, k int, maxTimeDelta float64) []types.VisualImageDescArray {
	d.mu.RLock()
	defer d.mu.RUnlock()

	queryDesc := concatDescriptors(query.Cameras)
	if len(queryDesc) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		desc  types.VisualImageDescArray
		score float64
	}
	var candidates []scored
	for _, key := range d.order {
		if key.DroneID == query.DroneID && key.FrameID == query.FrameID {
			continue
		}
		rec := d.records[key]
		if maxTimeDelta > 0 && absFloat(rec.Desc.Stamp-query.Stamp) > maxTimeDelta {
			continue
		}
		other := concatDescriptors(rec.Desc.Cameras)
		if len(other) != len(queryDesc) || len(other) == 0 {
			continue
		}
		candidates = append(candidates, scored{desc: rec.Desc, score: cosineSimilarity(queryDesc, other)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]types.VisualImageDescArray, len(candidates))
	for i, c := range candidates {
		out[i] = c.desc
	}
	return out
}

func concatDescriptors(cams []types.CameraObservations) []float32 {
	var out []float32
	for _, c := range cams {
		out = append(out, c.Descriptor...)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

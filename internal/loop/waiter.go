package loop

import (
	"context"
	"sync"
	"time"

	"github.com/luacghee/D2SLAM/internal/telemetry"
	"github.com/luacghee/D2SLAM/internal/types"
)

// pendingKey identifies the local frame a remote descriptor references.
type pendingKey struct {
	DroneID int
	FrameID int64
}

// WaiterPool implements the §9 design-note replacement for "a new thread
// per matched-frame wait": a single bounded goroutine polls a map of
// pending remote frames at a fixed tick, dispatching to onReady as soon
// as the referenced local frame is admitted to the database (or
// dropping the entry once it exceeds its deadline, per §4.5 "poll the
// DB for up to 1 second at 1 kHz; ... otherwise drop it").
type WaiterPool struct {
	db       *Database
	interval time.Duration
	deadline time.Duration

	mu      sync.Mutex
	pending map[pendingKey][]waitEntry
}

type waitEntry struct {
	desc     types.VisualImageDescArray
	deadline time.Time
}

// NewWaiterPool returns a pool polling db every interval, dropping
// entries older than deadline.
func NewWaiterPool(db *Database, interval, deadline time.Duration) *WaiterPool {
	return &WaiterPool{db: db, interval: interval, deadline: deadline, pending: make(map[pendingKey][]waitEntry)}
}

// Wait registers desc as waiting on (droneID, matchedFrameID) to appear
// in the database.
func (p *WaiterPool) Wait(droneID int, matchedFrameID int64, desc types.VisualImageDescArray) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := pendingKey{DroneID: droneID, FrameID: matchedFrameID}
	p.pending[k] = append(p.pending[k], waitEntry{desc: desc, deadline: timeNow().Add(p.deadline)})
}

// Run polls pending entries at interval until ctx is cancelled,
// delivering ready descriptors to onReady (§5 "Matched-frame wait
// threads ... bounded to 1 s", replaced here by one pooled goroutine).
func (p *WaiterPool) Run(ctx context.Context, onReady func(types.VisualImageDescArray)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(onReady)
		}
	}
}

func (p *WaiterPool) tick(onReady func(types.VisualImageDescArray)) {
	p.mu.Lock()
	now := timeNow()
	var ready []types.VisualImageDescArray
	for k, entries := range p.pending {
		if p.db.Find(k.DroneID, k.FrameID) == nil {
			var kept []waitEntry
			for _, e := range entries {
				if now.After(e.deadline) {
					telemetry.Logf("loop: dropping remote frame waiting on drone=%d frame=%d, deadline exceeded", k.DroneID, k.FrameID)
					continue
				}
				kept = append(kept, e)
			}
			if len(kept) == 0 {
				delete(p.pending, k)
			} else {
				p.pending[k] = kept
			}
			continue
		}
		for _, e := range entries {
			ready = append(ready, e.desc)
		}
		delete(p.pending, k)
	}
	p.mu.Unlock()

	for _, desc := range ready {
		onReady(desc)
	}
}

// Pending reports the number of frame-ids currently being waited on, for
// the §5 "warns if queue > 10" style monitoring hook.
func (p *WaiterPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// timeNow is a seam so tests can control the clock; production always
// uses the wall clock.
var timeNow = time.Now

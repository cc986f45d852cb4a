// Command agent runs one D2SLAM swarm participant: the sliding-window
// estimator, the loop detector, and the swarm broadcast transport,
// wired together the way the teacher's cmd/lidar wires its UDP listener,
// database, and HTTP status server around a shared context.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/estimator"
	imupkg "github.com/luacghee/D2SLAM/internal/imu"
	"github.com/luacghee/D2SLAM/internal/loop"
	"github.com/luacghee/D2SLAM/internal/storage/sqlite"
	"github.com/luacghee/D2SLAM/internal/swarm"
	"github.com/luacghee/D2SLAM/internal/telemetry"
	"github.com/luacghee/D2SLAM/internal/types"
)

var (
	configPath  = flag.String("config", "", "path to a JSON config file (default: config/defaults.json)")
	dbOverride  = flag.String("db", "", "override keyframe_db_path from config")
	warnPending = flag.Int("warn-pending-frames", 5, "log a warning once the keyframe queue backs up past this depth (§5)")
)

// minInitSamples is the init_imu_num sample count gravity-alignment
// initialization waits for before running (§4.3 Initialization).
const minInitSamples = 200

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("agent: config: %v", err)
	}

	dbPath := cfg.GetKeyframeDBPath()
	if *dbOverride != "" {
		dbPath = *dbOverride
	}
	store, err := sqlite.Open(dbPath)
	if err != nil {
		log.Fatalf("agent: keyframe database: %v", err)
	}
	defer store.Close()

	imuBuf := imupkg.NewBuffer()
	est := estimator.NewEstimator(cfg, imuBuf)

	db := loop.NewDatabase()
	detector := loop.NewDetector(cfg, db)
	waiters := loop.NewWaiterPool(db, time.Millisecond, time.Second)

	peers := swarm.NewPeerTable()
	policy := swarm.NewPolicy(cfg, peers)

	transport, err := swarm.NewTransport(swarm.RealSocketFactory{}, cfg)
	if err != nil {
		log.Fatalf("agent: swarm transport: %v", err)
	}

	sessionID := uuid.New()
	log.Printf("agent: starting self_id=%d session=%s pgo_mode=%s estimation_mode=%s",
		cfg.GetSelfID(), sessionID, cfg.GetPGOMode(), cfg.GetEstimationMode())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// viokf_queue receives keyframe descriptors already assembled by the
	// front-end (§5). Tying a real camera driver to internal/frontend's
	// OpticalFlowTracker is outside this pack's dependency surface (no
	// example repo ships image capture); InputKeyframe is the boundary a
	// sensor bridge feeds across.
	viokfQueue := make(chan types.VisualImageDescArray, 64)
	loopQueue := make(chan types.VisualImageDescArray, 64)

	var wg sync.WaitGroup

	// IMU ingestion thread (§5): appends to the pre-integration buffer
	// under the buffer's own mutex; non-blocking from the estimator's
	// perspective. Grounded on the teacher's go.bug.st/serial sensor
	// source pattern (internal/imu/serialsource.go).
	if port := cfg.GetImuSerialPort(); port != "" {
		src, err := imupkg.OpenSerialSource(port, cfg.GetImuSerialBaud())
		if err != nil {
			log.Fatalf("agent: imu serial source: %v", err)
		}
		defer src.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.Run(ctx, imuBuf); err != nil && err != context.Canceled {
				telemetry.Logf("agent: imu source stopped: %v", err)
			}
		}()

		for imuBuf.Len() < minInitSamples {
			select {
			case <-ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		if err := est.Initialize(imuBuf.Snapshot()); err != nil {
			log.Fatalf("agent: estimator initialization: %v", err)
		}
	}

	// Network thread (§5): receives remote descriptors/edges, persists
	// and forwards them for loop detection; rebroadcasts local loop
	// edges per the non-distributed-PGO policy.
	transport.OnDescriptor = func(desc types.VisualImageDescArray) {
		peers.Heard(desc.DroneID)
		if err := store.InsertKeyframe(desc); err != nil {
			telemetry.Logf("agent: store remote keyframe: %v", err)
		}
		select {
		case loopQueue <- desc:
		default:
			telemetry.Logf("agent: loop_queue full, dropping remote frame drone=%d frame=%d", desc.DroneID, desc.FrameID)
		}
	}
	transport.OnLoopEdge = func(edge types.LoopEdge) {
		if err := store.InsertLoopEdge(edge); err != nil {
			telemetry.Logf("agent: store remote loop edge: %v", err)
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := transport.Run(ctx); err != nil && err != context.Canceled {
			telemetry.Logf("agent: swarm transport stopped: %v", err)
		}
	}()

	// Matched-frame wait pool (§5, §9 design note): bounded single
	// goroutine rather than one thread per pending remote frame.
	wg.Add(1)
	go func() {
		defer wg.Done()
		waiters.Run(ctx, func(desc types.VisualImageDescArray) {
			select {
			case loopQueue <- desc:
			default:
				telemetry.Logf("agent: loop_queue full, dropping matched remote frame")
			}
		})
	}()

	// Loop-detection thread (§5): dequeues from loop_queue, runs
	// retrieval + verification, warns if the queue backs up.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case desc := <-loopQueue:
				if len(loopQueue) > 10 {
					telemetry.Logf("agent: loop_queue depth %d exceeds warning threshold", len(loopQueue))
				}
				if desc.MatchedFrame >= 0 && db.Find(cfg.GetSelfID(), desc.MatchedFrame) == nil {
					waiters.Wait(cfg.GetSelfID(), desc.MatchedFrame, desc)
					continue
				}
				edge, ok := detector.Process(desc, est.Extrinsic(0).Inverse())
				if !ok {
					continue
				}
				if err := store.InsertLoopEdge(edge); err != nil {
					telemetry.Logf("agent: persist loop edge: %v", err)
				}
				if loop.ShouldRebroadcast(edge, cfg.GetSelfID(), cfg.GetPGOMode()) {
					if err := transport.BroadcastLoopEdge(edge); err != nil {
						telemetry.Logf("agent: broadcast loop edge: %v", err)
					}
				}
			}
		}
	}()

	// Estimator thread (§5): dequeues keyframes from viokf_queue, runs
	// InputKeyframe (pre-integrate, solve, marginalize), persists and
	// broadcasts the result per the lazy-broadcast / force-landmarks
	// policy, and pushes the descriptor on for local loop detection.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case desc := <-viokfQueue:
				if len(viokfQueue) > *warnPending {
					telemetry.Logf("agent: viokf_queue depth %d exceeds warn_pending_frames=%d", len(viokfQueue), *warnPending)
				}
				frameID, err := est.InputKeyframe(desc)
				if err != nil {
					telemetry.Logf("agent: input keyframe: %v", err)
					continue
				}
				snap := est.Snapshot()
				db.UpdatePositions(snap.Landmarks)

				out := desc
				out.FrameID = frameID
				out.SldWinStatus = snapshotWindowIDs(snap)
				if !policy.ShouldBroadcast(out) {
					continue
				}
				out = policy.ApplyPayloadPolicy(out, snap.Frames[len(snap.Frames)-1].Pose.Pos)
				if err := store.InsertKeyframe(out); err != nil {
					telemetry.Logf("agent: persist keyframe: %v", err)
				}
				if err := transport.BroadcastDescriptor(out); err != nil {
					telemetry.Logf("agent: broadcast keyframe: %v", err)
				}
				select {
				case loopQueue <- out:
				default:
					telemetry.Logf("agent: loop_queue full, dropping local frame %d", frameID)
				}
			}
		}
	}()

	<-ctx.Done()
	log.Print("agent: shutting down")
	wg.Wait()
}

func snapshotWindowIDs(snap estimator.Snapshot) []int64 {
	ids := make([]int64, len(snap.Frames))
	for i, f := range snap.Frames {
		ids[i] = f.FrameID
	}
	return ids
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		return config.LoadConfig(*configPath)
	}
	if cfg, err := config.LoadConfig(config.DefaultConfigPath); err == nil {
		return cfg, nil
	}
	return config.MustLoadDefaultConfig(), nil
}

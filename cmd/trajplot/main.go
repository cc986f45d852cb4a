// Command trajplot is an offline development tool: it reads a keyframe
// database written by cmd/agent and renders each drone's trajectory as a
// PNG, the way the teacher's internal/lidar/monitor package renders grid
// cell time series with gonum.org/v1/plot.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/luacghee/D2SLAM/internal/storage/sqlite"
	"github.com/luacghee/D2SLAM/internal/types"
)

var (
	dbPath    = flag.String("db", "", "path to the keyframe sqlite database (required)")
	outDir    = flag.String("out", "plots", "directory to write trajectory PNGs to")
	sinceTime = flag.Float64("since", 0, "only plot keyframes with stamp >= this value")
)

func main() {
	flag.Parse()
	if *dbPath == "" {
		log.Fatal("trajplot: -db is required")
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("trajplot: open %s: %v", *dbPath, err)
	}
	defer store.Close()

	descs, err := store.ListKeyframesSince(*sinceTime)
	if err != nil {
		log.Fatalf("trajplot: list keyframes: %v", err)
	}
	if len(descs) == 0 {
		log.Print("trajplot: no keyframes found, nothing to plot")
		return
	}

	byDrone := groupByDrone(descs)
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("trajplot: create output dir: %v", err)
	}

	droneIDs := make([]int, 0, len(byDrone))
	for id := range byDrone {
		droneIDs = append(droneIDs, id)
	}
	sort.Ints(droneIDs)

	for _, id := range droneIDs {
		path, err := plotTrajectory(id, byDrone[id], *outDir)
		if err != nil {
			log.Fatalf("trajplot: drone %d: %v", id, err)
		}
		log.Printf("trajplot: wrote %s (%d keyframes)", path, len(byDrone[id]))
	}
}

func groupByDrone(descs []types.VisualImageDescArray) map[int][]types.VisualImageDescArray {
	byDrone := make(map[int][]types.VisualImageDescArray)
	for _, d := range descs {
		byDrone[d.DroneID] = append(byDrone[d.DroneID], d)
	}
	for id := range byDrone {
		sort.Slice(byDrone[id], func(i, j int) bool {
			return byDrone[id][i].Stamp < byDrone[id][j].Stamp
		})
	}
	return byDrone
}

// plotTrajectory renders the drone's x/y ground-track and writes a PNG to
// outDir, returning the file path.
func plotTrajectory(droneID int, descs []types.VisualImageDescArray, outDir string) (string, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Drone %d trajectory (%d keyframes)", droneID, len(descs))
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	pts := make(plotter.XYs, len(descs))
	for i, d := range descs {
		pts[i].X = d.PoseDrone.Pos[0]
		pts[i].Y = d.PoseDrone.Pos[1]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return "", fmt.Errorf("build trajectory line: %w", err)
	}
	line.Width = vg.Points(1.2)
	p.Add(line)

	scatter, err := plotter.NewScatter(keyframeOnly(descs))
	if err == nil && scatter != nil {
		scatter.Radius = vg.Points(1.5)
		p.Add(scatter)
	}

	path := filepath.Join(outDir, fmt.Sprintf("drone_%02d_trajectory.png", droneID))
	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return "", fmt.Errorf("save plot: %w", err)
	}
	return path, nil
}

// keyframeOnly returns the XY points of descriptors marked IsKeyframe, so
// the scatter overlay highlights which samples triggered a full solve
// versus a tracked-only frame.
func keyframeOnly(descs []types.VisualImageDescArray) plotter.XYs {
	var pts plotter.XYs
	for _, d := range descs {
		if d.IsKeyframe {
			pts = append(pts, plotter.XY{X: d.PoseDrone.Pos[0], Y: d.PoseDrone.Pos[1]})
		}
	}
	return pts
}

package frontend

import "math"

// Point2D is a pixel-space coordinate.
type Point2D struct{ X, Y float64 }

// FlowParams fixes the KLT tuning named in §4.2: 21x21 window, 3-level
// pyramid, 30 iterations, epsilon 0.01.
type FlowParams struct {
	WinRadius  int
	Levels     int
	MaxIter    int
	Epsilon    float64
}

// DefaultFlowParams matches the values specified in §4.2.
func DefaultFlowParams() FlowParams {
	return FlowParams{WinRadius: 10, Levels: 3, MaxIter: 30, Epsilon: 0.01}
}

// OpticalFlowTracker is the contract §9's design note asks for: given two
// images and a seed set of points, return the subset surviving
// forward-reverse consistency at <= 0.5 px. CPU and GPU implementations
// both satisfy this interface; CPUFlow below is the CPU one.
type OpticalFlowTracker interface {
	Track(prev, cur *Image, seeds []Point2D) (tracked []Point2D, ok []bool)
}

// CPUFlow is the reference pyramidal Lucas-Kanade implementation.
type CPUFlow struct {
	Params FlowParams
}

// NewCPUFlow returns a CPUFlow with the §4.2 default parameters.
func NewCPUFlow() *CPUFlow { return &CPUFlow{Params: DefaultFlowParams()} }

// Track runs forward pyramidal LK from prev to cur for every seed point,
// then a reverse pass from cur back to prev; a point survives only if
// its reverse-projected position lands within 0.5 px of the original
// seed (§4.2 step 2).
func (f *CPUFlow) Track(prev, cur *Image, seeds []Point2D) ([]Point2D, []bool) {
	prevPyr := Pyramid(prev, f.Params.Levels)
	curPyr := Pyramid(cur, f.Params.Levels)

	forward := make([]Point2D, len(seeds))
	fwOK := make([]bool, len(seeds))
	for i, s := range seeds {
		p, ok := f.trackPyramid(prevPyr, curPyr, s)
		forward[i], fwOK[i] = p, ok
	}

	ok := make([]bool, len(seeds))
	for i := range seeds {
		if !fwOK[i] {
			continue
		}
		back, backOK := f.trackPyramid(curPyr, prevPyr, forward[i])
		if !backOK {
			continue
		}
		if dist(back, seeds[i]) <= 0.5 {
			ok[i] = true
		}
	}
	return forward, ok
}

func dist(a, b Point2D) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// trackPyramid runs coarse-to-fine LK refinement starting from seed's
// position at the finest level, scaled down to seed the coarsest level.
// A coarse level whose LK solve fails (e.g. the window does not fit in
// the smaller image) passes its guess down unrefined; only a failure at
// the finest level rejects the point.
func (f *CPUFlow) trackPyramid(prevPyr, curPyr []*Image, seed Point2D) (Point2D, bool) {
	levels := len(prevPyr)
	scale := math.Pow(2, float64(levels-1))
	guess := Point2D{X: seed.X / scale, Y: seed.Y / scale}

	for lvl := levels - 1; lvl >= 0; lvl-- {
		levelSeed := Point2D{X: seed.X / math.Pow(2, float64(lvl)), Y: seed.Y / math.Pow(2, float64(lvl))}
		refined, ok := f.lucasKanade(prevPyr[lvl], curPyr[lvl], levelSeed, guess)
		if !ok {
			if lvl == 0 {
				return Point2D{}, false
			}
			refined = guess
		}
		guess = refined
		if lvl > 0 {
			guess = Point2D{X: guess.X * 2, Y: guess.Y * 2}
		}
	}
	return guess, true
}

// lucasKanade refines an initial guess at a single pyramid level via the
// standard iterative LK normal-equations solve over a (2*WinRadius+1)^2
// window.
func (f *CPUFlow) lucasKanade(prev, cur *Image, p0, guess Point2D) (Point2D, bool) {
	r := f.Params.WinRadius
	x0, y0 := int(math.Round(p0.X)), int(math.Round(p0.Y))
	if x0-r < 1 || y0-r < 1 || x0+r >= prev.Width-1 || y0+r >= prev.Height-1 {
		return Point2D{}, false
	}

	g := guess
	for iter := 0; iter < f.Params.MaxIter; iter++ {
		var gxx, gxy, gyy, bx, by float64
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				ix, iy := x0+dx, y0+dy
				gx, gy := prev.GradX(ix, iy), prev.GradY(ix, iy)
				gxx += gx * gx
				gxy += gx * gy
				gyy += gy * gy

				cx, cy := g.X+float64(dx), g.Y+float64(dy)
				if cx < 0 || cy < 0 || cx >= float64(cur.Width-1) || cy >= float64(cur.Height-1) {
					return Point2D{}, false
				}
				diff := float64(prev.At(ix, iy)) - cur.Bilinear(cx, cy)
				bx += gx * diff
				by += gy * diff
			}
		}
		det := gxx*gyy - gxy*gxy
		if math.Abs(det) < 1e-6 {
			return Point2D{}, false
		}
		dx := (gyy*bx - gxy*by) / det
		dy := (gxx*by - gxy*bx) / det
		g.X += dx
		g.Y += dy
		if math.Hypot(dx, dy) < f.Params.Epsilon {
			break
		}
	}
	return g, true
}

// Package imu implements the IMU pre-integration buffer (C2): a
// time-sorted deque of inertial samples plus the pre-integration
// operator the estimator uses to bridge two keyframes.
package imu

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/num/quat"

	"github.com/luacghee/D2SLAM/internal/geo"
)

// ErrIntervalUnavailable is returned by Period when the buffer does not
// yet hold samples covering the requested interval. Per §4.1 this is a
// precondition violation: callers must busy-wait on Available.
var ErrIntervalUnavailable = errors.New("imu: requested interval not yet available")

// ErrNonMonotonic is returned by Add when a sample arrives out of order.
var ErrNonMonotonic = errors.New("imu: sample timestamp not after buffer tail")

// Sample is a single inertial reading.
type Sample struct {
	T    float64 // seconds, monotonic clock shared with images
	Acc  [3]float64
	Gyro [3]float64
}

// Buffer is a time-sorted deque of Samples, safe for concurrent use: the
// IMU ingestion thread appends under an internal mutex while the
// estimator thread reads ranges.
type Buffer struct {
	mu      sync.Mutex
	samples []Sample
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Add appends a sample. It is rejected (ErrNonMonotonic) if its timestamp
// does not strictly follow the current tail.
func (b *Buffer) Add(s Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.samples); n > 0 && s.T <= b.samples[n-1].T {
		return fmt.Errorf("%w: got t=%v, tail t=%v", ErrNonMonotonic, s.T, b.samples[n-1].T)
	}
	b.samples = append(b.samples, s)
	return nil
}

// Available reports whether the buffer's tail has reached t.
func (b *Buffer) Available(t float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.samples)
	return n > 0 && b.samples[n-1].T >= t
}

// Pop discards samples strictly before t, bounding buffer memory. Per the
// sliding-window invariant (§8.3) this is called whenever the oldest
// frame in the window advances.
func (b *Buffer) Pop(t float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := 0
	for i < len(b.samples) && b.samples[i].T < t {
		i++
	}
	b.samples = b.samples[i:]
}

// Len reports the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Snapshot returns a copy of every buffered sample, oldest first. Used
// during the one-shot gravity-alignment initialization (§4.3), where the
// caller has no prior frame timestamp to bound a Period query by.
func (b *Buffer) Snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Period returns the samples in [t0, t1], linearly interpolating the
// boundary samples so the endpoints land exactly at t0 and t1. It is a
// precondition violation (ErrIntervalUnavailable) to call this before
// Available(t1) is true.
func (b *Buffer) Period(t0, t1 float64) ([]Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.samples)
	if n == 0 || b.samples[n-1].T < t1 {
		return nil, ErrIntervalUnavailable
	}
	// Find the first sample with T >= t0, interpolating the lower boundary
	// against the sample immediately preceding it (if any).
	lo := 0
	for lo < n && b.samples[lo].T < t0 {
		lo++
	}
	var out []Sample
	if lo > 0 && lo < n && b.samples[lo].T > t0 {
		out = append(out, lerp(b.samples[lo-1], b.samples[lo], t0))
	} else if lo < n && b.samples[lo].T == t0 {
		out = append(out, b.samples[lo])
		lo++
	}
	for i := lo; i < n && b.samples[i].T <= t1; i++ {
		out = append(out, b.samples[i])
	}
	// Upper boundary: interpolate against the first sample after t1.
	hi := len(out)
	if hi > 0 && out[hi-1].T < t1 {
		for i := 0; i < n; i++ {
			if b.samples[i].T > t1 {
				prevIdx := i - 1
				if prevIdx >= 0 {
					out = append(out, lerp(b.samples[prevIdx], b.samples[i], t1))
				}
				break
			}
		}
	}
	return out, nil
}

func lerp(a, b Sample, t float64) Sample {
	if b.T == a.T {
		return a
	}
	f := (t - a.T) / (b.T - a.T)
	return Sample{
		T:    t,
		Acc:  lerp3(a.Acc, b.Acc, f),
		Gyro: lerp3(a.Gyro, b.Gyro, f),
	}
}

func lerp3(a, b [3]float64, f float64) [3]float64 {
	return [3]float64{
		a[0] + (b[0]-a[0])*f,
		a[1] + (b[1]-a[1])*f,
		a[2] + (b[2]-a[2])*f,
	}
}

// MeanAcc returns the mean accelerometer reading across all buffered
// samples. Used once during gravity-alignment initialization.
func (b *Buffer) MeanAcc() [3]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return mean(b.samples, func(s Sample) [3]float64 { return s.Acc })
}

// MeanGyro returns the mean gyroscope reading across all buffered
// samples. Used once during initial gyro-bias estimation.
func (b *Buffer) MeanGyro() [3]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return mean(b.samples, func(s Sample) [3]float64 { return s.Gyro })
}

func mean(samples []Sample, f func(Sample) [3]float64) [3]float64 {
	var sum [3]float64
	if len(samples) == 0 {
		return sum
	}
	for _, s := range samples {
		v := f(s)
		sum[0] += v[0]
		sum[1] += v[1]
		sum[2] += v[2]
	}
	n := float64(len(samples))
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

// Gravity is Earth gravity in m/s², used to de-bias the initial
// accelerometer reading during alignment (§4.3 Initialization).
const Gravity = 9.80665

// Bias holds the accelerometer and gyro bias estimates carried between
// frames in the sliding window.
type Bias struct {
	Acc  [3]float64
	Gyro [3]float64
}

// PreintegrationResult is the bias-independent increment produced by
// Propagate, along with the 15x15 covariance accumulated under the
// midpoint noise model. The covariance is stored densely (flattened
// row-major); the estimator's IMU factor does not read it, so the IMU
// residual is unweighted.
type PreintegrationResult struct {
	Dp     [3]float64   // position delta
	Dq     quat.Number  // rotation delta
	Dv     [3]float64   // velocity delta
	Cov    [15 * 15]float64
	Sum    float64 // total integrated duration, seconds
	Linear Bias    // bias the block was linearized at
}

// NoiseModel parameterizes the midpoint IMU noise covariance Q_imu (§4.1).
type NoiseModel struct {
	AccNoise      float64
	GyroNoise     float64
	AccRandomWalk float64
	GyroRandomWalk float64
}

// DefaultNoiseModel returns noise parameters typical of a MEMS IMU,
// matching the magnitudes used by the reference implementation.
func DefaultNoiseModel() NoiseModel {
	return NoiseModel{
		AccNoise:       0.08,
		GyroNoise:      0.004,
		AccRandomWalk:  0.00004,
		GyroRandomWalk: 2.0e-6,
	}
}

// Propagate pre-integrates the given samples (already endpoint-aligned by
// Period) with the supplied bias estimate removed, using the standard IMU
// midpoint integration scheme. The deltas start from zero; the previous
// frame's velocity and gravity are applied afterwards by Pose.
// samples must be non-empty and time-ordered; the covariance is
// accumulated under noise (§4.1).
//
// The split-equivalence invariant (§8.5) holds because each midpoint step
// only depends on the two samples bracketing it: concatenating
// Propagate(samples[:k]) followed by Propagate(samples[k:]) (re-anchored
// at the first block's output bias/orientation) reproduces
// Propagate(samples) to numerical tolerance.
func Propagate(samples []Sample, bias Bias, noise NoiseModel) (PreintegrationResult, error) {
	if len(samples) < 2 {
		return PreintegrationResult{}, fmt.Errorf("imu: propagate needs >= 2 samples, got %d", len(samples))
	}
	dq := quat.Number{Real: 1}
	var dp, dv [3]float64
	var totalDt float64

	for i := 1; i < len(samples); i++ {
		dt := samples[i].T - samples[i-1].T
		if dt <= 0 {
			continue
		}
		totalDt += dt

		gyro0 := sub(samples[i-1].Gyro, bias.Gyro)
		gyro1 := sub(samples[i].Gyro, bias.Gyro)
		gyroMid := scale(add(gyro0, gyro1), 0.5)

		dqStep := smallAngleQuat(scale(gyroMid, dt))
		dqNext := quat.Mul(dq, dqStep)

		acc0 := rotate(dq, sub(samples[i-1].Acc, bias.Acc))
		acc1 := rotate(dqNext, sub(samples[i].Acc, bias.Acc))
		accMid := scale(add(acc0, acc1), 0.5)

		dp = add(dp, add(scale(dv, dt), scale(accMid, 0.5*dt*dt)))
		dv = add(dv, scale(accMid, dt))
		dq = normalizeQuat(dqNext)
	}

	cov := accumulateCovariance(noise, totalDt)
	return PreintegrationResult{Dp: dp, Dq: dq, Dv: dv, Cov: cov, Sum: totalDt, Linear: bias}, nil
}

func smallAngleQuat(theta [3]float64) quat.Number {
	// First-order approximation of exp(theta/2), adequate between
	// consecutive IMU samples at typical 200-1000 Hz rates.
	return normalizeQuat(quat.Number{Real: 1, Imag: theta[0] / 2, Jmag: theta[1] / 2, Kmag: theta[2] / 2})
}

func normalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

func rotate(q quat.Number, v [3]float64) [3]float64 {
	vq := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(q, vq), quat.Conj(q))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

func add(a, b [3]float64) [3]float64 { return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func scale(a [3]float64, s float64) [3]float64 {
	return [3]float64{a[0] * s, a[1] * s, a[2] * s}
}

// accumulateCovariance approximates the 15x15 pre-integration covariance
// growth as diagonal, scaled by elapsed time — a deliberate simplification
// of the full discrete-time error-state propagation. The estimator's IMU
// factor does not consume this covariance.
func accumulateCovariance(noise NoiseModel, dt float64) [15 * 15]float64 {
	var cov [15 * 15]float64
	diag := func(block, n int, v float64) {
		for i := 0; i < n; i++ {
			idx := (block+i)*15 + (block + i)
			cov[idx] = v
		}
	}
	diag(0, 3, noise.AccNoise*noise.AccNoise*dt)
	diag(3, 3, noise.GyroNoise*noise.GyroNoise*dt)
	diag(6, 3, noise.AccNoise*noise.AccNoise*dt*dt)
	diag(9, 3, noise.AccRandomWalk*noise.AccRandomWalk*dt)
	diag(12, 3, noise.GyroRandomWalk*noise.GyroRandomWalk*dt)
	return cov
}

// Pose applies this pre-integration result on top of the previous
// frame's pose/velocity to produce a propagated initial guess for the
// next frame — used by the estimator when PnP does not converge
// (§4.3 step 2, the IMU-propagation fallback).
func (r PreintegrationResult) Pose(prev geo.Pose, prevVel [3]float64, gravity [3]float64) (geo.Pose, [3]float64) {
	rotDp := rotate(prev.Rot, r.Dp)
	rotDv := rotate(prev.Rot, r.Dv)
	dt := r.Sum
	pos := add(prev.Pos, add(scale(prevVel, dt), add(rotDp, scale(gravity, 0.5*dt*dt))))
	vel := add(prevVel, add(rotDv, scale(gravity, dt)))
	rot := quat.Mul(prev.Rot, r.Dq)
	return geo.NewPose(pos, rot), vel
}

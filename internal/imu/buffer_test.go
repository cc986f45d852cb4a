package imu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sample(t float64) Sample {
	return Sample{T: t, Acc: [3]float64{0, 0, Gravity}, Gyro: [3]float64{0.01, 0, 0}}
}

func TestBufferAddRejectsNonMonotonic(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Add(sample(1.0)))
	require.ErrorIs(t, b.Add(sample(1.0)), ErrNonMonotonic)
	require.ErrorIs(t, b.Add(sample(0.5)), ErrNonMonotonic)
}

func TestBufferAvailableAndLen(t *testing.T) {
	b := NewBuffer()
	require.False(t, b.Available(1.0))
	require.NoError(t, b.Add(sample(0.5)))
	require.NoError(t, b.Add(sample(1.5)))
	require.Equal(t, 2, b.Len())
	require.True(t, b.Available(1.0))
	require.False(t, b.Available(2.0))
}

func TestBufferSnapshotIsACopy(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Add(sample(0.1)))
	require.NoError(t, b.Add(sample(0.2)))
	snap := b.Snapshot()
	require.Len(t, snap, 2)
	snap[0].T = 99
	require.NotEqual(t, 99.0, b.Snapshot()[0].T)
}

func TestBufferPeriodInterpolatesBoundaries(t *testing.T) {
	b := NewBuffer()
	for _, ts := range []float64{0, 1, 2, 3} {
		require.NoError(t, b.Add(sample(ts)))
	}
	_, err := b.Period(0.5, 4)
	require.ErrorIs(t, err, ErrIntervalUnavailable)

	out, err := b.Period(0.5, 2.5)
	require.NoError(t, err)
	require.InDelta(t, 0.5, out[0].T, 1e-9)
	require.InDelta(t, 2.5, out[len(out)-1].T, 1e-9)
}

func TestBufferPopDiscardsBeforeT(t *testing.T) {
	b := NewBuffer()
	for _, ts := range []float64{0, 1, 2, 3} {
		require.NoError(t, b.Add(sample(ts)))
	}
	b.Pop(2)
	require.Equal(t, 2, b.Len())
}

func TestPropagateRequiresAtLeastTwoSamples(t *testing.T) {
	_, err := Propagate([]Sample{sample(0)}, Bias{}, DefaultNoiseModel())
	require.Error(t, err)
}

func TestPropagateStationaryHasNoVelocityChange(t *testing.T) {
	samples := []Sample{
		{T: 0, Acc: [3]float64{0, 0, 0}, Gyro: [3]float64{}},
		{T: 0.1, Acc: [3]float64{0, 0, 0}, Gyro: [3]float64{}},
	}
	r, err := Propagate(samples, Bias{}, DefaultNoiseModel())
	require.NoError(t, err)
	require.InDelta(t, 0, r.Dv[0], 1e-9)
	require.InDelta(t, 0, r.Dv[1], 1e-9)
	require.InDelta(t, 0, r.Dv[2], 1e-9)
	require.InDelta(t, 0.1, r.Sum, 1e-9)
}

func TestMeanAccAndMeanGyro(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Add(Sample{T: 0, Acc: [3]float64{1, 0, 0}, Gyro: [3]float64{0, 1, 0}}))
	require.NoError(t, b.Add(Sample{T: 1, Acc: [3]float64{3, 0, 0}, Gyro: [3]float64{0, 3, 0}}))
	acc := b.MeanAcc()
	gyro := b.MeanGyro()
	require.InDelta(t, 2, acc[0], 1e-9)
	require.InDelta(t, 2, gyro[1], 1e-9)
}

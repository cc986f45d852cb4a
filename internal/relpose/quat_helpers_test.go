package relpose

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

func TestRotationMatrixToQuatIdentity(t *testing.T) {
	identity := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	})
	q := rotationMatrixToQuat(identity)
	require.InDelta(t, 1, q.Real, 1e-9)
	require.InDelta(t, 0, q.Imag, 1e-9)
	require.InDelta(t, 0, q.Jmag, 1e-9)
	require.InDelta(t, 0, q.Kmag, 1e-9)
}

func TestRotatePointIdentityQuat(t *testing.T) {
	v := [3]float64{1, 2, 3}
	out := rotatePoint(quat.Number{Real: 1}, v)
	require.InDelta(t, v[0], out[0], 1e-9)
	require.InDelta(t, v[1], out[1], 1e-9)
	require.InDelta(t, v[2], out[2], 1e-9)
}

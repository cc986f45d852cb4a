package relpose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"

	"github.com/luacghee/D2SLAM/internal/geo"
)

func yawPose(yawRad float64, pos [3]float64) geo.Pose {
	return geo.NewPose(pos, quat.Number{Real: math.Cos(yawRad / 2), Kmag: math.Sin(yawRad / 2)})
}

func TestVerifyAcceptsWithinAllThresholds(t *testing.T) {
	a := yawPose(0, [3]float64{})
	b := yawPose(0.05, [3]float64{0.5, 0, 0})
	res := Verify(a, b, VerifyParams{MaxYaw: 0.2, MaxPos: 2, GravityThresh: 0.1})
	require.True(t, res.Accepted)
	require.Empty(t, res.Reason)
}

func TestVerifyRejectsOnYaw(t *testing.T) {
	a := yawPose(0, [3]float64{})
	b := yawPose(1.0, [3]float64{})
	res := Verify(a, b, VerifyParams{MaxYaw: 0.2, MaxPos: 2, GravityThresh: 0.1})
	require.False(t, res.Accepted)
	require.Contains(t, res.Reason, "yaw")
}

func TestVerifyRejectsOnPosition(t *testing.T) {
	a := yawPose(0, [3]float64{})
	b := yawPose(0, [3]float64{10, 0, 0})
	res := Verify(a, b, VerifyParams{MaxYaw: 0.2, MaxPos: 2, GravityThresh: 0.1})
	require.False(t, res.Accepted)
	require.Contains(t, res.Reason, "pos")
}

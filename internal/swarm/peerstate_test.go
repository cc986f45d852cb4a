package swarm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/config"
	"github.com/luacghee/D2SLAM/internal/types"
)

func TestPeerTableDiscoverMode(t *testing.T) {
	pt := NewPeerTable()
	require.False(t, pt.InDiscoverMode(3))

	pt.Heard(3)
	require.True(t, pt.InDiscoverMode(3))
	require.True(t, pt.AnyDiscovering())

	pt.SetFusedPose(3, [3]float64{1, 0, 0})
	require.False(t, pt.InDiscoverMode(3))
	require.False(t, pt.AnyDiscovering())
}

func TestPeerTableNearbyFused(t *testing.T) {
	pt := NewPeerTable()
	pt.SetFusedPose(3, [3]float64{10, 0, 0})
	require.True(t, pt.NearbyFused([3]float64{0, 0, 0}, 50))
	require.False(t, pt.NearbyFused([3]float64{0, 0, 0}, 5))
}

func TestPolicyShouldBroadcastLazySuppressesNonKeyframe(t *testing.T) {
	lazy := true
	cfg := &config.Config{LazyBroadcastKeyframe: &lazy}
	pt := NewPeerTable()
	p := NewPolicy(cfg, pt)

	desc := types.VisualImageDescArray{IsKeyframe: false}
	require.False(t, p.ShouldBroadcast(desc))

	desc.IsKeyframe = true
	require.True(t, p.ShouldBroadcast(desc))

	desc.IsKeyframe = false
	pt.Heard(9) // a peer appears but has no fused pose: discover mode forces broadcast
	require.True(t, p.ShouldBroadcast(desc))
}

func TestPolicyApplyPayloadPolicyStripsLandmarksWhenNoNearbyPeer(t *testing.T) {
	cfg := &config.Config{}
	pt := NewPeerTable()
	p := NewPolicy(cfg, pt)

	desc := sampleDescriptor()
	desc.IsLazyFrame = false
	out := p.ApplyPayloadPolicy(desc, [3]float64{0, 0, 0})

	require.True(t, out.IsLazyFrame)
	for _, c := range out.Cameras {
		require.Empty(t, c.Landmarks)
	}
}

func TestPolicyApplyPayloadPolicyKeepsLandmarksWhenPeerNearby(t *testing.T) {
	cfg := &config.Config{}
	pt := NewPeerTable()
	pt.SetFusedPose(2, [3]float64{1, 1, 1})
	p := NewPolicy(cfg, pt)

	desc := sampleDescriptor()
	out := p.ApplyPayloadPolicy(desc, [3]float64{0, 0, 0})

	require.Equal(t, desc.Cameras[0].Landmarks, out.Cameras[0].Landmarks)
}

package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luacghee/D2SLAM/internal/types"
)

func withFixedClock(t *testing.T, now time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })
}

func TestWaiterPoolPendingCountsRegisteredWaits(t *testing.T) {
	base := time.Unix(0, 0)
	withFixedClock(t, base)

	pool := NewWaiterPool(NewDatabase(), time.Millisecond, time.Second)
	pool.Wait(1, 10, types.VisualImageDescArray{FrameID: 99})
	require.Equal(t, 1, pool.Pending())
}

func TestWaiterPoolTickDeliversOnceFrameAppearsInDatabase(t *testing.T) {
	base := time.Unix(0, 0)
	withFixedClock(t, base)

	db := NewDatabase()
	pool := NewWaiterPool(db, time.Millisecond, time.Second)
	pool.Wait(1, 10, types.VisualImageDescArray{DroneID: 2, FrameID: 99})

	var delivered []types.VisualImageDescArray
	pool.tick(func(d types.VisualImageDescArray) { delivered = append(delivered, d) })
	require.Empty(t, delivered, "should not deliver before the referenced frame is inserted")

	db.Insert(types.VisualImageDescArray{DroneID: 1, FrameID: 10})
	pool.tick(func(d types.VisualImageDescArray) { delivered = append(delivered, d) })
	require.Len(t, delivered, 1)
	require.Equal(t, int64(99), delivered[0].FrameID)
	require.Zero(t, pool.Pending())
}

func TestWaiterPoolTickDropsEntriesPastDeadline(t *testing.T) {
	base := time.Unix(0, 0)
	withFixedClock(t, base)

	pool := NewWaiterPool(NewDatabase(), time.Millisecond, 10*time.Millisecond)
	pool.Wait(1, 10, types.VisualImageDescArray{FrameID: 99})

	withFixedClock(t, base.Add(time.Second))
	var delivered []types.VisualImageDescArray
	pool.tick(func(d types.VisualImageDescArray) { delivered = append(delivered, d) })

	require.Empty(t, delivered)
	require.Zero(t, pool.Pending())
}

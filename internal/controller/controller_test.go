package controller

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/metrics"
	"github.com/r3e-network/micasa/internal/scheduler"
	"github.com/r3e-network/micasa/internal/settings"
	"github.com/r3e-network/micasa/internal/store"
	"github.com/r3e-network/micasa/pkg/logger"
)

func newTestController(t *testing.T) (*Controller, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	pool := scheduler.NewPool(m, logger.NewDefault("test"))
	t.Cleanup(pool.Shutdown)

	c := New(st, pool, m, logger.NewDefault("test"), nil, nil)
	return c, st
}

func TestStartLoadsPluginTreeAndStartsParents(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	parentID, err := st.InsertPlugin(ctx, nil, "hub1", "virtual", true)
	require.NoError(t, err)
	_, err = st.InsertPlugin(ctx, &parentID, "hub1.node5", "virtual-node", true)
	require.NoError(t, err)

	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { c.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		p, ok := c.plugins["hub1"]
		return ok && p.State().AtLeastReady()
	}, time.Second, 5*time.Millisecond, "an enabled parent plugin must reach READY after Start")

	_, ok := c.plugins["hub1.node5"]
	assert.True(t, ok, "a child plugin row must be loaded into the tree even though only parents are auto-started")
}

func TestApplyOwnerDelegatesToOwningPlugin(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub2", "virtual", true)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { c.Stop(context.Background()) })
	require.Eventually(t, func() bool {
		p, ok := c.byID[pluginID]
		return ok && p.State().AtLeastReady()
	}, time.Second, 5*time.Millisecond)

	p := c.byID[pluginID]
	dev, err := p.DeclareDevice(ctx, "relay1", "Relay", device.KindSwitch, nil)
	require.NoError(t, err)

	accept, apply, err := c.ApplyOwner(ctx, dev, device.SourceAPI, "On")
	require.NoError(t, err)
	assert.True(t, accept)
	assert.True(t, apply)
}

func TestApplyObserversExcludesTheOwner(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	ownerID, err := st.InsertPlugin(ctx, nil, "owner-hub", "virtual", true)
	require.NoError(t, err)
	_, err = st.InsertPlugin(ctx, nil, "observer-hub", "virtual", true)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { c.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		o, ok1 := c.byID[ownerID]
		return ok1 && o.State().AtLeastReady() && len(c.plugins) == 2
	}, time.Second, 5*time.Millisecond)

	owner := c.byID[ownerID]
	dev, err := owner.DeclareDevice(ctx, "relay1", "Relay", device.KindSwitch, nil)
	require.NoError(t, err)

	accept, err := c.ApplyObservers(ctx, dev, device.SourceAPI, "On")
	require.NoError(t, err)
	assert.True(t, accept, "the passthrough handler always accepts, and the owner must not be asked twice")
}

// TestScheduleRateLimitedAccumulatesMean exercises scenario 4: three
// Level updates inside one rate_limit window fold into their arithmetic
// mean, applied once after the window elapses.
func TestScheduleRateLimitedAccumulatesMean(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "sensors", "virtual", true)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { c.Stop(context.Background()) })
	require.Eventually(t, func() bool {
		p, ok := c.byID[pluginID]
		return ok && p.State().AtLeastReady()
	}, time.Second, 5*time.Millisecond)

	p := c.byID[pluginID]
	dev, err := p.DeclareDevice(ctx, "temp1", "Thermostat", device.KindLevel, nil)
	require.NoError(t, err)

	c.ScheduleRateLimited(dev, 50*time.Millisecond, device.SourcePlugin, "10", true)
	c.ScheduleRateLimited(dev, 50*time.Millisecond, device.SourcePlugin, "20", true)
	c.ScheduleRateLimited(dev, 50*time.Millisecond, device.SourcePlugin, "30", true)

	require.Eventually(t, func() bool {
		row, err := st.GetDevice(ctx, dev.ID)
		return err == nil && row.Value == "20"
	}, time.Second, 5*time.Millisecond, "the mean of 10, 20 and 30 must be committed as 20")
}

func TestScheduleRateLimitedKeepsLatestForNonAccumulatingKinds(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "switches", "virtual", true)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { c.Stop(context.Background()) })
	require.Eventually(t, func() bool {
		p, ok := c.byID[pluginID]
		return ok && p.State().AtLeastReady()
	}, time.Second, 5*time.Millisecond)

	p := c.byID[pluginID]
	dev, err := p.DeclareDevice(ctx, "relay1", "Relay", device.KindSwitch, nil)
	require.NoError(t, err)

	c.ScheduleRateLimited(dev, 50*time.Millisecond, device.SourcePlugin, "On", false)
	c.ScheduleRateLimited(dev, 50*time.Millisecond, device.SourcePlugin, "Off", false)

	require.Eventually(t, func() bool {
		row, err := st.GetDevice(ctx, dev.ID)
		return err == nil && row.Value == "Off"
	}, time.Second, 5*time.Millisecond, "the latest raw value must win for non-accumulating kinds")
}

func TestRunRetentionDeletesHistoryBeforeCutoff(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "meters", "virtual", true)
	require.NoError(t, err)
	devID, err := st.InsertDevice(ctx, pluginID, "meter1", "Meter", int(device.KindCounter), true)
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -200).Unix()
	recent := time.Now().Unix()
	require.NoError(t, st.InsertCounterHistory(ctx, devID, 1, old))
	require.NoError(t, st.InsertCounterHistory(ctx, devID, 2, recent))

	dev := &device.Device{ID: devID, Kind: device.KindCounter, Settings: settings.New(st, "device", devID)}
	require.NoError(t, c.runRetention(ctx, dev))

	points, err := st.CounterHistoryInRange(ctx, devID, 0, time.Now().Unix()+1)
	require.NoError(t, err)
	require.Len(t, points, 1, "the default 90-day retention must drop the 200-day-old sample but keep the recent one")
	assert.Equal(t, 2.0, points[0].Value)
}

func TestIsScheduledSeesControllerOwnedAutoRevert(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub3", "virtual", true)
	require.NoError(t, err)
	devID, err := st.InsertDevice(ctx, pluginID, "relay1", "Relay", int(device.KindSwitch), true)
	require.NoError(t, err)

	assert.False(t, c.IsScheduled(devID))

	dev := &device.Device{ID: devID, Kind: device.KindSwitch}
	c.ScheduleAutoRevert(dev)
	assert.True(t, c.IsScheduled(devID), "a pending auto-revert must be visible through IsScheduled")
}

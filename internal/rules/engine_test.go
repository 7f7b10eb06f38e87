package rules

import (
	"context"
	"sync"
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

// fakeLookup is a minimal DeviceLookup over an in-memory id index, kept
// independent of plugin/controller per the engine's import-cycle design.
type fakeLookup struct {
	mu      sync.Mutex
	devices map[int]*device.Device
}

func newFakeLookup(devs ...*device.Device) *fakeLookup {
	f := &fakeLookup{devices: make(map[int]*device.Device)}
	for _, d := range devs {
		f.devices[d.ID] = d
	}
	return f
}

func (f *fakeLookup) DeviceByID(id int) (*device.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	return d, ok
}
func (f *fakeLookup) DeviceByName(name string) (*device.Device, bool)  { return nil, false }
func (f *fakeLookup) DeviceByLabel(label string) (*device.Device, bool) { return nil, false }

// applyRecorder is the ApplyFunc under test's observation point: it
// records every value driven through it instead of running the real
// device pipeline, since the pipeline itself is covered in package device.
type applyRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *applyRecorder) apply(ctx context.Context, dev *device.Device, source device.UpdateSource, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, value)
	dev.Value = value
	return nil
}

func (r *applyRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTestEngine(t *testing.T, lookup DeviceLookup) (*Engine, *store.Store, *applyRecorder) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	pool := scheduler.NewPool(m, logger.NewDefault("test"))
	t.Cleanup(pool.Shutdown)

	planner := NewPlanner(pool)
	rec := &applyRecorder{}
	e := NewEngine(st, lookup, planner, rec.apply, m, logger.NewDefault("test"))
	return e, st, rec
}

// TestDispatchLinksDrivesTargetWithZeroAfter exercises scenario 2: a link
// S -> T with after=0 fires immediately with source=LINK.
func TestDispatchLinksDrivesTargetWithZeroAfter(t *testing.T) {
	target := &device.Device{ID: 2, Kind: device.KindSwitch, Value: "On", Settings: settings.New(nil, "", 0)}
	lookup := newFakeLookup(target)
	e, st, rec := newTestEngine(t, lookup)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub", "virtual", true)
	require.NoError(t, err)
	srcID, err := st.InsertDevice(ctx, pluginID, "switch.src", "Source", int(device.KindSwitch), true)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO devices (id, plugin_id, reference, label, type) VALUES (?, ?, 'switch.dst', 'Target', ?)`,
		target.ID, pluginID, int(device.KindSwitch))
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO links (device_id, target_device_id, value, target_value, after, "for", clear, enabled)
		VALUES (?, ?, 'On', 'Off', 0, 0, 0, 1)`, srcID, target.ID)
	require.NoError(t, err)

	src := &device.Device{ID: srcID, Kind: device.KindSwitch, Value: "On"}
	e.dispatchLinks(ctx, src)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Off", rec.snapshot()[0])
}

// TestDispatchLinksRevertsAfterForSeconds exercises spec §8 scenario 2 in
// full: a link with after=0 and for>0 must drive the target immediately
// and then revert it once "for" seconds elapse, even with the default
// (positive, single-shot) repeat count - the case that used to be
// silently skipped by the planner.
func TestDispatchLinksRevertsAfterForSeconds(t *testing.T) {
	target := &device.Device{ID: 2, Kind: device.KindSwitch, Value: "On", Settings: settings.New(nil, "", 0)}
	lookup := newFakeLookup(target)
	e, st, rec := newTestEngine(t, lookup)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub", "virtual", true)
	require.NoError(t, err)
	srcID, err := st.InsertDevice(ctx, pluginID, "switch.src", "Source", int(device.KindSwitch), true)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO devices (id, plugin_id, reference, label, type) VALUES (?, ?, 'switch.dst', 'Target', ?)`,
		target.ID, pluginID, int(device.KindSwitch))
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO links (device_id, target_device_id, value, target_value, after, "for", clear, enabled)
		VALUES (?, ?, 'On', 'Off', 0, 0.1, 0, 1)`, srcID, target.ID)
	require.NoError(t, err)

	src := &device.Device{ID: srcID, Kind: device.KindSwitch, Value: "On"}
	e.dispatchLinks(ctx, src)

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	calls := rec.snapshot()
	assert.Equal(t, "Off", calls[0], "link must drive the target to its configured value first")
	assert.Equal(t, "On", calls[1], "link must revert the target to its previous value once \"for\" elapses")
}

func TestDispatchLinksIgnoresNonMatchingValue(t *testing.T) {
	target := &device.Device{ID: 2, Kind: device.KindSwitch, Settings: settings.New(nil, "", 0)}
	lookup := newFakeLookup(target)
	e, st, rec := newTestEngine(t, lookup)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub", "virtual", true)
	require.NoError(t, err)
	srcID, err := st.InsertDevice(ctx, pluginID, "switch.src", "Source", int(device.KindSwitch), true)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO devices (id, plugin_id, reference, label, type) VALUES (?, ?, 'switch.dst', 'Target', ?)`,
		target.ID, pluginID, int(device.KindSwitch))
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO links (device_id, target_device_id, value, target_value, after, "for", clear, enabled)
		VALUES (?, ?, 'On', 'Off', 0, 0, 0, 1)`, srcID, target.ID)
	require.NoError(t, err)

	src := &device.Device{ID: srcID, Kind: device.KindSwitch, Value: "Off"}
	e.dispatchLinks(ctx, src)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.snapshot(), "a link whose configured value does not match must not fire")
}

// TestRunTimerScanDrivesBoundDeviceAtMatchingMinute exercises scenario 3's
// device half: a timer matching `now` drives its bound device with
// source=TIMER.
func TestRunTimerScanDrivesBoundDeviceAtMatchingMinute(t *testing.T) {
	target := &device.Device{ID: 5, Kind: device.KindCounter, Settings: settings.New(nil, "", 0)}
	lookup := newFakeLookup(target)
	e, st, rec := newTestEngine(t, lookup)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub", "virtual", true)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO devices (id, plugin_id, reference, label, type) VALUES (?, ?, 'counter.c', 'Counter', ?)`,
		target.ID, pluginID, int(device.KindCounter))
	require.NoError(t, err)

	res, err := st.DB().ExecContext(ctx, `INSERT INTO timers (name, cron, enabled) VALUES (?, ?, 1)`, "every-minute", "*/1 * * * *")
	require.NoError(t, err)
	timerID, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, `INSERT INTO x_timer_devices (timer_id, device_id, value) VALUES (?, ?, '7')`, timerID, target.ID)
	require.NoError(t, err)

	e.RunTimerScan(ctx, time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "7", rec.snapshot()[0])
}

func TestRunTimerScanDisablesTimerWithInvalidCron(t *testing.T) {
	e, st, rec := newTestEngine(t, newFakeLookup())
	ctx := context.Background()

	res, err := st.DB().ExecContext(ctx, `INSERT INTO timers (name, cron, enabled) VALUES (?, ?, 1)`, "broken", "not a cron")
	require.NoError(t, err)
	timerID, err := res.LastInsertId()
	require.NoError(t, err)

	e.RunTimerScan(ctx, time.Now())
	_ = timerID

	timers, err := st.ListEnabledTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, timers, "a timer with an unparseable cron must be disabled")
	assert.Empty(t, rec.snapshot())
}

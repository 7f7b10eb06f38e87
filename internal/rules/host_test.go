package rules

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/metrics"
	"github.com/r3e-network/micasa/internal/scheduler"
	"github.com/r3e-network/micasa/internal/store"
	"github.com/r3e-network/micasa/pkg/logger"
)

func newTestHostEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	pool := scheduler.NewPool(m, logger.NewDefault("test"))
	t.Cleanup(pool.Shutdown)

	planner := NewPlanner(pool)
	noop := func(ctx context.Context, dev *device.Device, source device.UpdateSource, value string) error { return nil }
	return NewEngine(st, newFakeLookup(), planner, noop, m, logger.NewDefault("test"))
}

// TestUserdataPersistsAcrossBatches exercises scenario 5: a script
// increments userdata.count on every trigger, and the committed value
// must survive into the next RunBatch invocation.
func TestUserdataPersistsAcrossBatches(t *testing.T) {
	e := newTestHostEngine(t)
	ctx := context.Background()

	script := store.ScriptRow{ID: 1, Name: "counter", Code: `
if (!userdata.count) { userdata.count = 0; }
userdata.count = userdata.count + 1;
log(userdata.count);
`, Enabled: true}

	require.NoError(t, e.host.RunBatch(ctx, "event", map[string]any{}, []store.ScriptRow{script}))
	raw := e.userdata.Get(ctx, "userdata")
	assert.Contains(t, raw, `"count":1`)

	require.NoError(t, e.host.RunBatch(ctx, "event", map[string]any{}, []store.ScriptRow{script}))
	raw = e.userdata.Get(ctx, "userdata")
	assert.Contains(t, raw, `"count":2`, "userdata must persist and accumulate across independent RunBatch calls")
}

func TestScriptSyntaxErrorDisablesScript(t *testing.T) {
	e := newTestHostEngine(t)
	ctx := context.Background()

	id, err := e.store.DB().ExecContext(ctx, `INSERT INTO scripts (name, code, enabled) VALUES (?, ?, 1)`, "broken", "this is not valid javascript {{{")
	require.NoError(t, err)
	scriptID, err := id.LastInsertId()
	require.NoError(t, err)

	script := store.ScriptRow{ID: int(scriptID), Name: "broken", Code: "this is not valid javascript {{{", Enabled: true}
	require.NoError(t, e.host.RunBatch(ctx, "event", nil, []store.ScriptRow{script}))

	got, err := e.store.GetScript(ctx, int(scriptID))
	require.NoError(t, err)
	assert.False(t, got.Enabled, "a script with a syntax error must be auto-disabled")
}

func TestScriptUserThrowDoesNotDisableScript(t *testing.T) {
	e := newTestHostEngine(t)
	ctx := context.Background()

	id, err := e.store.DB().ExecContext(ctx, `INSERT INTO scripts (name, code, enabled) VALUES (?, ?, 1)`, "throws", "throw 'boom';")
	require.NoError(t, err)
	scriptID, err := id.LastInsertId()
	require.NoError(t, err)

	script := store.ScriptRow{ID: int(scriptID), Name: "throws", Code: "throw 'boom';", Enabled: true}
	require.NoError(t, e.host.RunBatch(ctx, "event", nil, []store.ScriptRow{script}))

	got, err := e.store.GetScript(ctx, int(scriptID))
	require.NoError(t, err)
	assert.True(t, got.Enabled, "a user-level throw must not disable the script, only a syntax/internal error does")
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/micasa/internal/controller"
	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/metrics"
	"github.com/r3e-network/micasa/internal/scheduler"
	"github.com/r3e-network/micasa/internal/store"
	"github.com/r3e-network/micasa/pkg/logger"
)

// newTestStore opens an in-memory store for seeding rows before the
// controller boots; Start() only loads plugins/devices that already
// exist in the store at call time.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// startTestRouter boots a Controller against the already-seeded st and
// wraps it in a Router, the same wiring main.go assembles, so these
// tests exercise the adapter surface end to end rather than against a
// hand-rolled stub.
func startTestRouter(t *testing.T, st *store.Store) (*Router, *controller.Controller) {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	pool := scheduler.NewPool(m, logger.NewDefault("test"))
	t.Cleanup(pool.Shutdown)

	ctl := controller.New(st, pool, m, logger.NewDefault("test"), nil, nil)
	require.NoError(t, ctl.Start(context.Background()))
	t.Cleanup(func() { ctl.Stop(context.Background()) })

	svc := NewService(ctl, st)
	r := NewRouter(svc, m, nil)
	return r, ctl
}

func TestListAndGetDevice(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub1", "virtual", true)
	require.NoError(t, err)
	_, err = st.InsertDevice(ctx, pluginID, "lamp", "Kitchen Lamp", int(device.KindSwitch), true)
	require.NoError(t, err)

	r, _ := startTestRouter(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload []DevicePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload, 1)
	assert.Equal(t, "lamp", payload[0].Reference)

	id := payload[0].ID
	req = httptest.NewRequest(http.MethodGet, "/api/devices/"+strconv.Itoa(id), nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetUnknownDeviceReturnsNotFound(t *testing.T) {
	r, _ := startTestRouter(t, newTestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/api/devices/999", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateDeviceValueReturnsAccepted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub2", "virtual", true)
	require.NoError(t, err)
	devID, err := st.InsertDevice(ctx, pluginID, "relay1", "Relay", int(device.KindSwitch), true)
	require.NoError(t, err)

	r, _ := startTestRouter(t, st)

	body, err := json.Marshal(updateValueRequest{Value: "On"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/devices/"+strconv.Itoa(devID)+"/value", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSetScriptEnabledTogglesRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.DB().ExecContext(ctx, `INSERT INTO scripts (name, code, enabled) VALUES (?, ?, 1)`, "greet", "log('hi')")
	require.NoError(t, err)
	scripts, err := st.ListScripts(ctx)
	require.NoError(t, err)
	require.Len(t, scripts, 1)

	r, _ := startTestRouter(t, st)

	body, err := json.Marshal(enabledRequest{Enabled: false})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/scripts/"+strconv.Itoa(scripts[0].ID)+"/enabled", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, err := st.GetScript(ctx, scripts[0].ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
}

func TestDeviceHistoryRejectsTextDevices(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pluginID, err := st.InsertPlugin(ctx, nil, "hub3", "virtual", true)
	require.NoError(t, err)
	devID, err := st.InsertDevice(ctx, pluginID, "label1", "Label", int(device.KindText), true)
	require.NoError(t, err)

	r, _ := startTestRouter(t, st)

	req := httptest.NewRequest(http.MethodGet, "/api/devices/"+strconv.Itoa(devID)+"/history?interval=day", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

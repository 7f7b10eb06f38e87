// Package api implements the narrow server-side adapter surface of §6's
// EXTERNAL INTERFACES and a thin gorilla/mux router that exercises it.
// The HTTP transport and JSON codec themselves are an external
// collaborator (Non-goals); this package only owns the interface the
// (out-of-scope) full HTTP layer would call into, plus enough of a
// router to prove the interface is wired end to end. Grounded on the
// teacher's infrastructure/service/runner.go route-registration style.
package api

import (
	"context"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/store"
)

// DevicePayload is the public JSON shape of a device.
type DevicePayload struct {
	ID            int    `json:"id"`
	PluginID      int    `json:"plugin_id"`
	Reference     string `json:"reference"`
	Label         string `json:"label"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Enabled       bool   `json:"enabled"`
	Value         string `json:"value"`
	PreviousValue string `json:"previous_value"`
	LastUpdate    int64  `json:"last_update"`
	LastSource    int    `json:"last_source"`
}

// ToDevicePayload renders a device.Device to its public shape.
func ToDevicePayload(dev *device.Device) DevicePayload {
	return DevicePayload{
		ID: dev.ID, PluginID: dev.PluginID, Reference: dev.Reference, Label: dev.Label,
		Name: dev.Name(), Type: dev.Kind.String(), Enabled: dev.Enabled,
		Value: dev.Value, PreviousValue: dev.PreviousValue,
		LastUpdate: dev.LastUpdate.Unix(), LastSource: int(dev.LastSource),
	}
}

// Adapter is the interface the HTTP layer calls into: every operation is
// in terms of ids/selectors and plain Go values, never raw *http.Request.
type Adapter interface {
	// Devices.
	ListDevices(ctx context.Context) ([]DevicePayload, error)
	GetDevice(ctx context.Context, id int) (*DevicePayload, error)
	UpdateDeviceValue(ctx context.Context, id int, value, optionsString string) error
	DeviceHistory(ctx context.Context, id int, interval device.Interval) ([]store.DataPoint, error)

	// Plugins.
	ListPlugins(ctx context.Context) ([]store.PluginRow, error)

	// Scripts.
	ListScripts(ctx context.Context) ([]store.ScriptRow, error)
	GetScript(ctx context.Context, id int) (*store.ScriptRow, error)
	SetScriptEnabled(ctx context.Context, id int, enabled bool) error

	// Timers.
	ListTimers(ctx context.Context) ([]store.TimerRow, error)
	SetTimerEnabled(ctx context.Context, id int, enabled bool) error

	// Links.
	ListLinksForDevice(ctx context.Context, deviceID int) ([]store.LinkRow, error)
}

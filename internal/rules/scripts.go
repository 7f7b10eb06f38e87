package rules

import (
	"context"
	"encoding/json"

	"github.com/r3e-network/micasa/internal/device"
)

// devicePayload is the JSON shape handed to scripts and to getDevice().
type devicePayload struct {
	ID            int    `json:"id"`
	Reference     string `json:"reference"`
	Label         string `json:"label"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Enabled       bool   `json:"enabled"`
	Value         string `json:"value"`
	PreviousValue string `json:"previous_value"`
}

func toDevicePayload(dev *device.Device) devicePayload {
	return devicePayload{
		ID: dev.ID, Reference: dev.Reference, Label: dev.Label, Name: dev.Name(),
		Type: dev.Kind.String(), Enabled: dev.Enabled, Value: dev.Value, PreviousValue: dev.PreviousValue,
	}
}

// dispatchDeviceScripts implements the script half of Controller.newEvent:
// enabled scripts bound to dev are run with an "event" payload of
// {value, previous_value, source_name, device}, where device is the
// device's JSON object.
func (e *Engine) dispatchDeviceScripts(ctx context.Context, dev *device.Device, source device.UpdateSource) {
	scripts, err := e.store.ScriptsForDevice(ctx, dev.ID)
	if err != nil {
		e.log.WithError(err).Warn("load scripts for device")
		return
	}
	if len(scripts) == 0 {
		return
	}

	devJSON, _ := json.Marshal(toDevicePayload(dev))
	payload := map[string]any{
		"value":          dev.Value,
		"previous_value": dev.PreviousValue,
		"source_name":    sourceName(source),
		"device":         json.RawMessage(devJSON),
	}
	if err := e.host.RunBatch(ctx, "event", payload, scripts); err != nil {
		e.log.WithError(err).Warn("run event scripts")
	}
}

// runTimerScripts runs the scripts bound to a timer with a "timer"
// payload of {id, cron, name}, per §4.7.1 step 5a.
func (e *Engine) runTimerScripts(ctx context.Context, timerID int, cron, name string) {
	scripts, err := e.store.ScriptsForTimer(ctx, timerID)
	if err != nil {
		e.log.WithError(err).Warn("load scripts for timer")
		return
	}
	if len(scripts) == 0 {
		return
	}
	payload := map[string]any{"id": timerID, "cron": cron, "name": name}
	if err := e.host.RunBatch(ctx, "timer", payload, scripts); err != nil {
		e.log.WithError(err).Warn("run timer scripts")
	}
}

func sourceName(s device.UpdateSource) string {
	switch {
	case s.Has(device.SourcePlugin):
		return "plugin"
	case s.Has(device.SourceTimer):
		return "timer"
	case s.Has(device.SourceScript):
		return "script"
	case s.Has(device.SourceAPI):
		return "api"
	case s.Has(device.SourceLink):
		return "link"
	case s.Has(device.SourceSystem):
		return "system"
	default:
		return "unknown"
	}
}

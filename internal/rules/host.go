package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/store"
)

// ScriptHost runs scripts one at a time on a single goja.Runtime, the
// "dedicated serialized worker" of §4.7.5 and §5: only one script runs
// at any time, preserving userdata consistency. Treated as an opaque
// black-box interpreter per the design notes' script-host contract.
type ScriptHost struct {
	mu  sync.Mutex
	vm  *goja.Runtime
	eng *Engine
}

// NewScriptHost builds a host bound to eng for device/script lookups.
func NewScriptHost(eng *Engine) *ScriptHost {
	h := &ScriptHost{vm: goja.New(), eng: eng}
	h.installBuiltins()
	return h
}

func (h *ScriptHost) installBuiltins() {
	h.vm.Set("updateDevice", h.jsUpdateDevice)
	h.vm.Set("getDevice", h.jsGetDevice)
	h.vm.Set("include", h.jsInclude)
	h.vm.Set("log", h.jsLog)
}

// RunBatch implements the per-invocation protocol of §4.7.5: load
// userdata, bind the trigger payload under key, run every script, unbind,
// persist userdata.
func (h *ScriptHost) RunBatch(ctx context.Context, key string, payload map[string]any, scripts []store.ScriptRow) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	runID := uuid.NewString()
	log := h.eng.log.WithField("run", runID).WithField("trigger", key)

	raw := h.eng.userdata.Get(ctx, "userdata")
	var userdata any
	if raw == "" || json.Unmarshal([]byte(raw), &userdata) != nil {
		userdata = map[string]any{}
	}
	h.vm.Set("userdata", userdata)
	h.vm.Set(key, payload)

	for _, script := range scripts {
		if h.eng.metrics != nil {
			h.eng.metrics.ScriptRuns.WithLabelValues(key).Inc()
		}
		_, err := h.vm.RunString(script.Code)
		if err == nil {
			continue
		}
		if _, userThrow := err.(*goja.Exception); userThrow {
			log.WithField("script", script.Name).WithError(err).Warn("script threw")
			if h.eng.metrics != nil {
				h.eng.metrics.ScriptErrors.WithLabelValues("user").Inc()
			}
			continue
		}
		log.WithField("script", script.Name).WithError(err).Warn("script syntax/internal error, disabling")
		if h.eng.metrics != nil {
			h.eng.metrics.ScriptErrors.WithLabelValues("internal").Inc()
		}
		if err := h.eng.store.SetScriptEnabled(ctx, script.ID, false); err != nil {
			log.WithError(err).Warn("disable failing script")
		}
	}

	h.vm.Set(key, goja.Undefined())
	result := h.vm.Get("userdata").Export()
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize userdata: %w", err)
	}
	h.eng.userdata.Put(ctx, "userdata", string(out))
	return h.eng.userdata.Commit(ctx)
}

func (h *ScriptHost) jsLog(x goja.Value) {
	h.eng.log.WithField("level", "SCRIPT").Info(jsonifyForLog(x))
}

func jsonifyForLog(v goja.Value) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v.Export())
	if err != nil {
		return fmt.Sprintf("%v", v.Export())
	}
	return string(b)
}

// jsUpdateDevice implements updateDevice(selector, value, optionsString).
func (h *ScriptHost) jsUpdateDevice(selector string, value string, optionsString string) {
	dev, ok := h.resolveSelector(selector)
	if !ok {
		panic(h.vm.ToValue(fmt.Sprintf("updateDevice: unknown device %q", selector)))
	}
	opts := ParseOptionsString(optionsString)
	h.eng.planner.Plan(context.Background(), dev, value, opts, device.SourceScript, h.eng.apply)
}

// jsGetDevice implements getDevice(selector) -> device JSON object.
func (h *ScriptHost) jsGetDevice(selector string) goja.Value {
	dev, ok := h.resolveSelector(selector)
	if !ok {
		panic(h.vm.ToValue(fmt.Sprintf("getDevice: unknown device %q", selector)))
	}
	return h.vm.ToValue(toDevicePayload(dev))
}

// jsInclude implements include(name): load and execute another enabled
// script by name.
func (h *ScriptHost) jsInclude(name string) {
	script, err := h.eng.store.GetScriptByName(context.Background(), name)
	if err != nil || !script.Enabled {
		panic(h.vm.ToValue(fmt.Sprintf("include: script %q not found or disabled", name)))
	}
	if _, err := h.vm.RunString(script.Code); err != nil {
		panic(h.vm.ToValue(fmt.Sprintf("include %q failed: %v", name, err)))
	}
}

func (h *ScriptHost) resolveSelector(selector string) (*device.Device, bool) {
	if dev, ok := h.eng.devices.DeviceByName(selector); ok {
		return dev, true
	}
	if dev, ok := h.eng.devices.DeviceByLabel(selector); ok {
		return dev, true
	}
	var id int
	if _, err := fmt.Sscanf(selector, "%d", &id); err == nil {
		if dev, ok := h.eng.devices.DeviceByID(id); ok {
			return dev, true
		}
	}
	return nil, false
}

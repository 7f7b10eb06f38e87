package rules

import (
	"context"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/metrics"
	"github.com/r3e-network/micasa/internal/settings"
	"github.com/r3e-network/micasa/internal/store"
	"github.com/r3e-network/micasa/pkg/logger"
)

// DeviceLookup resolves devices by the identifiers the rule engine needs
// (id, name or label for script selectors; id for links/timers). Kept as
// an interface so this package never imports plugin/controller.
type DeviceLookup interface {
	DeviceByID(id int) (*device.Device, bool)
	DeviceByName(name string) (*device.Device, bool)
	DeviceByLabel(label string) (*device.Device, bool)
}

// Engine ties the cron timer matcher, link dispatcher, task-options
// planner and script runner together, grounded on §4.7's rule engine and
// the teacher's services/automation package shape.
type Engine struct {
	store    *store.Store
	devices  DeviceLookup
	planner  *Planner
	apply    ApplyFunc
	host     *ScriptHost
	userdata *settings.Settings
	metrics  *metrics.Metrics
	log      *logger.Entry
}

// NewEngine constructs a rule Engine. apply is the controller's device
// update entry point (device.UpdateValue wired to the live Hooks impl).
func NewEngine(st *store.Store, devices DeviceLookup, planner *Planner, apply ApplyFunc, m *metrics.Metrics, log *logger.Logger) *Engine {
	e := &Engine{
		store:    st,
		devices:  devices,
		planner:  planner,
		apply:    apply,
		userdata: settings.New(st, "", 0),
		metrics:  m,
		log:      log.WithComponent("rules"),
	}
	e.host = NewScriptHost(e)
	return e
}

// FireEvent implements the device-change half of Controller.newEvent:
// link dispatch (if source lacks LINK) and script dispatch (if source
// lacks SCRIPT), per §4.6.
func (e *Engine) FireEvent(ctx context.Context, dev *device.Device, source device.UpdateSource) {
	if !source.Has(device.SourceLink) && dev.Kind == device.KindSwitch {
		e.dispatchLinks(ctx, dev)
	}
	if !source.Has(device.SourceScript) {
		e.dispatchDeviceScripts(ctx, dev, source)
	}
}

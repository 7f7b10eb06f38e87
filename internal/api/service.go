package api

import (
	"context"
	"strconv"
	"time"

	"github.com/r3e-network/micasa/internal/controller"
	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/merr"
	"github.com/r3e-network/micasa/internal/rules"
	"github.com/r3e-network/micasa/internal/store"
)

// Service is the default Adapter, backed by a live Controller and Store.
type Service struct {
	ctl *controller.Controller
	st  *store.Store
}

// NewService builds an Adapter bound to ctl/st.
func NewService(ctl *controller.Controller, st *store.Store) *Service {
	return &Service{ctl: ctl, st: st}
}

func (s *Service) ListDevices(ctx context.Context) ([]DevicePayload, error) {
	devs := s.ctl.AllDevices()
	out := make([]DevicePayload, 0, len(devs))
	for _, d := range devs {
		out = append(out, ToDevicePayload(d))
	}
	return out, nil
}

func (s *Service) GetDevice(ctx context.Context, id int) (*DevicePayload, error) {
	d, ok := s.ctl.DeviceByID(id)
	if !ok {
		return nil, merr.NotFound("device", strconv.Itoa(id))
	}
	p := ToDevicePayload(d)
	return &p, nil
}

// UpdateDeviceValue drives a value change from the API, source=API, per
// §4.7.3/§4.7.4: an empty options string still goes through the planner,
// which applies it with zero delay/repeat=1 - equivalent to an immediate
// update but uniform with the scripted path.
func (s *Service) UpdateDeviceValue(ctx context.Context, id int, value, optionsString string) error {
	d, ok := s.ctl.DeviceByID(id)
	if !ok {
		return merr.NotFound("device", strconv.Itoa(id))
	}
	opts := rules.ParseOptionsString(optionsString)
	s.ctl.PlanDeviceUpdate(ctx, d, value, opts, device.SourceAPI)
	return nil
}

func (s *Service) DeviceHistory(ctx context.Context, id int, interval device.Interval) ([]store.DataPoint, error) {
	d, ok := s.ctl.DeviceByID(id)
	if !ok {
		return nil, merr.NotFound("device", strconv.Itoa(id))
	}
	from, to := interval.Range(time.Now())
	switch d.Kind {
	case device.KindLevel:
		return s.st.LevelHistoryInRange(ctx, id, from.Unix(), to.Unix())
	case device.KindCounter:
		return s.st.CounterHistoryInRange(ctx, id, from.Unix(), to.Unix())
	default:
		return nil, merr.Wrap(merr.CodeInvalid, 400, "history not available for this device kind", nil)
	}
}

func (s *Service) ListPlugins(ctx context.Context) ([]store.PluginRow, error) {
	return s.st.ListPlugins(ctx)
}

func (s *Service) ListScripts(ctx context.Context) ([]store.ScriptRow, error) {
	return s.st.ListScripts(ctx)
}

func (s *Service) GetScript(ctx context.Context, id int) (*store.ScriptRow, error) {
	return s.st.GetScript(ctx, id)
}

func (s *Service) SetScriptEnabled(ctx context.Context, id int, enabled bool) error {
	return s.st.SetScriptEnabled(ctx, id, enabled)
}

func (s *Service) ListTimers(ctx context.Context) ([]store.TimerRow, error) {
	return s.st.ListTimers(ctx)
}

func (s *Service) SetTimerEnabled(ctx context.Context, id int, enabled bool) error {
	return s.st.SetTimerEnabled(ctx, id, enabled)
}

func (s *Service) ListLinksForDevice(ctx context.Context, deviceID int) ([]store.LinkRow, error) {
	return s.st.LinksForSourceDevice(ctx, deviceID)
}


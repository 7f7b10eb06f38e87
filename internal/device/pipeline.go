package device

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Hooks is everything the update pipeline needs from the rest of the
// system (plugin calls, persistence, eventing), kept as a narrow
// interface here so this package never imports plugin/controller/store -
// those packages implement Hooks and call Device.UpdateValue.
type Hooks interface {
	// ApplyOwner invokes the owning plugin's updateDevice(source, self,
	// owned=true). accept is the plugin's accept/reject vote; apply is
	// its in/out decision on whether to actually commit the value.
	ApplyOwner(ctx context.Context, dev *Device, source UpdateSource, value string) (accept bool, apply bool, err error)
	// ApplyObservers invokes updateDevice(source, self, owned=false) on
	// every other plugin; called for Switch devices only.
	ApplyObservers(ctx context.Context, dev *Device, source UpdateSource, value string) (accept bool, err error)
	// WriteHistory persists one accepted sample per the per-kind bucketing
	// rule (5-min Level bucket, raw Counter/Switch/Text row).
	WriteHistory(ctx context.Context, dev *Device, value string, at time.Time) error
	// CommitValue persists value/previous_value/last_update/last_source.
	CommitValue(ctx context.Context, dev *Device, value, previous string, at time.Time, source UpdateSource) error
	// FireEvent runs Controller.newEvent for a successfully applied update.
	FireEvent(ctx context.Context, dev *Device, source UpdateSource)
	// ScheduleAutoRevert arranges an ACTIVATE->IDLE revert ~5s later.
	ScheduleAutoRevert(dev *Device)
	// ScheduleRateLimited arranges for the trailing rate-limited value to
	// be processed once window elapses. The first call in a window schedules
	// that processing; later calls for the same device within the window
	// fold into it rather than scheduling another. accumulate means fold raw into a running average
	// (Level); otherwise the latest raw value wins (Switch/Text/Counter).
	ScheduleRateLimited(dev *Device, window time.Duration, source UpdateSource, raw string, accumulate bool)
	// RejectUpdate records a dropped update for observability (metrics).
	RejectUpdate(dev *Device, gate string)
	// LogDrop logs a dropped update at debug level.
	LogDrop(dev *Device, source UpdateSource, gate string, detail string)
	// PluginReady reports whether the owning plugin's state is >= READY,
	// gating the duplicate and rate-limit rules per §4.4 steps 3 and 5.
	PluginReady(dev *Device) bool
}

// UpdateValue is the single entry point for a device value change,
// running gates 1-5 of §4.4 before handing off to ProcessValue (gate 6).
func (d *Device) UpdateValue(ctx context.Context, hooks Hooks, source UpdateSource, raw string) error {
	// 1. Enable gate.
	if !d.Enabled && source != SourcePlugin {
		hooks.RejectUpdate(d, "enable")
		hooks.LogDrop(d, source, "enable", "device disabled")
		return nil
	}

	// 2. Source gate.
	allowed := d.AllowedSources(ctx)
	if !source.Any(allowed) {
		hooks.RejectUpdate(d, "source")
		hooks.LogDrop(d, source, "source", fmt.Sprintf("source %d not in allowed %d", source, allowed))
		return nil
	}

	// Normalize/validate per kind before duplicate/range gates.
	value, err := d.normalize(raw)
	if err != nil {
		hooks.RejectUpdate(d, "invalid")
		hooks.LogDrop(d, source, "invalid", err.Error())
		return nil
	}

	pluginReady := hooks.PluginReady(d)

	// 3. Duplicate gate.
	if d.IgnoreDuplicates(ctx) && value == d.Value && pluginReady {
		hooks.RejectUpdate(d, "duplicate")
		return nil
	}

	// 4. Range gate (Level only).
	if d.Kind == KindLevel {
		adjusted := d.applyDividerOffset(value)
		if d.Level.HasRange && (adjusted < d.Level.Minimum || adjusted > d.Level.Maximum) {
			hooks.RejectUpdate(d, "range")
			hooks.LogDrop(d, source, "range", fmt.Sprintf("%v outside [%v,%v]", adjusted, d.Level.Minimum, d.Level.Maximum))
			return nil
		}
		value = strconv.FormatFloat(adjusted, 'f', -1, 64)
	}

	// 5. Rate limit: only defer when the window hasn't elapsed yet since
	// the last update; an update arriving after the window is due fires
	// immediately, same as an unlimited device.
	if window := d.RateLimit(ctx); window > 0 && pluginReady {
		if time.Since(d.LastUpdate) < window {
			hooks.ScheduleRateLimited(d, window, source, value, d.Kind == KindLevel)
			return nil
		}
	}

	return d.ProcessValue(ctx, hooks, source, value)
}

// ProcessValue is step 6 of §4.4: stage the value, ask the owner (and,
// for Switch, every observer) to accept it, then persist/commit/fire.
func (d *Device) ProcessValue(ctx context.Context, hooks Hooks, source UpdateSource, value string) error {
	accept, apply, err := hooks.ApplyOwner(ctx, d, source, value)
	if err != nil {
		return err
	}
	if accept && d.Kind == KindSwitch {
		obsAccept, err := hooks.ApplyObservers(ctx, d, source, value)
		if err != nil {
			return err
		}
		accept = accept && obsAccept
	}
	if !accept {
		// revert to previous_value and stop.
		return nil
	}
	if !apply {
		return nil
	}

	now := time.Now()
	previous := d.Value
	if err := hooks.WriteHistory(ctx, d, value, now); err != nil {
		return err
	}
	if err := hooks.CommitValue(ctx, d, value, previous, now, source); err != nil {
		return err
	}
	d.PreviousValue = previous
	d.Value = value
	d.LastUpdate = now
	d.LastSource = source

	fireable := source.StripInternal()
	isAction := d.Kind == KindSwitch && d.Switch.SubType == SubTypeAction
	if hooks.PluginReady(d) && (d.Enabled || isAction) {
		hooks.FireEvent(ctx, d, fireable)
	}

	if d.Kind == KindSwitch && value == string(SwitchActivate) {
		hooks.ScheduleAutoRevert(d)
	}
	return nil
}

// normalize validates/canonicalizes a raw value per device kind.
func (d *Device) normalize(raw string) (string, error) {
	switch d.Kind {
	case KindSwitch:
		opt, ok := ParseSwitchOption(raw)
		if !ok {
			return "", fmt.Errorf("invalid switch option %q", raw)
		}
		return string(opt), nil
	case KindLevel:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("invalid level value %q", raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case KindCounter:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("invalid counter value %q", raw)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case KindText:
		return raw, nil
	default:
		return raw, nil
	}
}

func (d *Device) applyDividerOffset(value string) float64 {
	f, _ := strconv.ParseFloat(value, 64)
	divider := d.Level.Divider
	if divider == 0 {
		divider = 1
	}
	return (f + d.Level.Offset) / divider
}

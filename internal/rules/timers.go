package rules

import (
	"context"
	"time"

	"github.com/r3e-network/micasa/internal/device"
)

// RunTimerScan implements §4.7.1: evaluated once per wall-clock minute
// by the controller's timer-scan task.
func (e *Engine) RunTimerScan(ctx context.Context, now time.Time) {
	timers, err := e.store.ListEnabledTimers(ctx)
	if err != nil {
		e.log.WithError(err).Warn("load timers")
		return
	}

	for _, timer := range timers {
		spec, err := ParseCron(timer.Cron)
		if err != nil {
			e.log.WithField("timer_id", timer.ID).WithError(err).Warn("disabling timer with invalid cron")
			if err := e.store.SetTimerEnabled(ctx, timer.ID, false); err != nil {
				e.log.WithError(err).Warn("disable invalid timer")
			}
			continue
		}
		if !spec.Matches(now) {
			continue
		}

		e.runTimerScripts(ctx, timer.ID, timer.Cron, timer.Name)

		targets, err := e.store.TimerDeviceTargets(ctx, timer.ID)
		if err != nil {
			e.log.WithError(err).Warn("load timer device targets")
			continue
		}
		for deviceID, targetValue := range targets {
			dev, ok := e.devices.DeviceByID(deviceID)
			if !ok {
				continue
			}
			if err := e.apply(ctx, dev, device.SourceTimer, targetValue); err != nil {
				e.log.WithError(err).Warn("timer-driven device update failed")
			}
		}
	}
}

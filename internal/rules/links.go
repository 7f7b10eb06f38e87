package rules

import (
	"context"

	"github.com/r3e-network/micasa/internal/device"
)

// dispatchLinks implements §4.7.2: for a Switch source device whose new
// value matches an enabled link's configured value, schedule the target
// device's drive via the task-options planner with source=LINK.
func (e *Engine) dispatchLinks(ctx context.Context, dev *device.Device) {
	links, err := e.store.LinksForSourceDevice(ctx, dev.ID)
	if err != nil {
		e.log.WithError(err).Warn("load links for device")
		return
	}
	for _, link := range links {
		if link.Value != dev.Value {
			continue
		}
		target, ok := e.devices.DeviceByID(link.TargetDeviceID)
		if !ok {
			e.log.WithField("link_id", link.ID).Warn("link target device not found")
			continue
		}
		opts := FromLinkRow(link.After, link.For, link.Clear)
		e.planner.Plan(ctx, target, link.TargetValue, opts, device.SourceLink, e.apply)
	}
}

package controller

import (
	"context"
	"strconv"
	"time"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/plugin"
	"github.com/r3e-network/micasa/internal/scheduler"
)

// ApplyOwner implements device.Hooks: delegate to the owning plugin.
func (c *Controller) ApplyOwner(ctx context.Context, dev *device.Device, source device.UpdateSource, value string) (bool, bool, error) {
	p, ok := c.ownerOf(dev)
	if !ok {
		return false, false, nil
	}
	return p.UpdateDevice(ctx, dev, source, value)
}

// ApplyObservers implements device.Hooks: every other plugin gets to
// vote accept/reject on a Switch device change it does not own; apply
// votes are ignored (only the owner decides whether to commit).
func (c *Controller) ApplyObservers(ctx context.Context, dev *device.Device, source device.UpdateSource, value string) (bool, error) {
	c.mu.RLock()
	owner, _ := c.byID[dev.PluginID]
	observers := make([]*plugin.Plugin, 0, len(c.plugins))
	for _, p := range c.plugins {
		if p != owner {
			observers = append(observers, p)
		}
	}
	c.mu.RUnlock()

	accept := true
	for _, p := range observers {
		a, _, err := p.UpdateDevice(ctx, dev, source, value)
		if err != nil {
			return false, err
		}
		accept = accept && a
	}
	return accept, nil
}

// WriteHistory implements device.Hooks per §4.4/§4.8: skip disabled
// devices, otherwise branch on kind to the matching store table.
func (c *Controller) WriteHistory(ctx context.Context, dev *device.Device, value string, at time.Time) error {
	if !dev.Enabled {
		return nil
	}
	switch dev.Kind {
	case device.KindLevel:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil
		}
		return c.store.UpsertLevelHistory(ctx, dev.ID, device.Level5MinBucket(at).Unix(), f)
	case device.KindCounter:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil
		}
		return c.store.InsertCounterHistory(ctx, dev.ID, f, at.Unix())
	case device.KindSwitch:
		return c.store.InsertSwitchHistory(ctx, dev.ID, value, at.Unix())
	case device.KindText:
		return c.store.InsertTextHistory(ctx, dev.ID, value, at.Unix())
	default:
		return nil
	}
}

// CommitValue implements device.Hooks: persist value/previous/last_update
// /last_source to the devices row.
func (c *Controller) CommitValue(ctx context.Context, dev *device.Device, value, previous string, at time.Time, source device.UpdateSource) error {
	return c.store.UpdateDeviceValue(ctx, dev.ID, value, previous, at.Unix(), int(source))
}

// FireEvent implements device.Hooks by delegating to the rule engine.
func (c *Controller) FireEvent(ctx context.Context, dev *device.Device, source device.UpdateSource) {
	c.engine.FireEvent(ctx, dev, source)
}

// ScheduleAutoRevert implements device.Hooks: a Switch driven to ACTIVATE
// reverts to IDLE ~5s later, tagged SYSTEM|INTERNAL so the revert itself
// does not re-trigger auto-revert or count as a user source.
func (c *Controller) ScheduleAutoRevert(dev *device.Device) {
	source := device.SourceSystem | device.SourceInternal
	scheduler.Schedule[struct{}](c.sched, 5*time.Second, 0, 1, dev.ID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Apply(ctx, dev, source, string(device.SwitchIdle))
	})
}

// RejectUpdate implements device.Hooks via the updates-rejected counter.
func (c *Controller) RejectUpdate(dev *device.Device, gate string) {
	if c.metrics != nil {
		c.metrics.UpdatesRejected.WithLabelValues(dev.Kind.String(), gate).Inc()
	}
}

// LogDrop implements device.Hooks at debug level.
func (c *Controller) LogDrop(dev *device.Device, source device.UpdateSource, gate string, detail string) {
	c.log.WithField("device", dev.ID).WithField("gate", gate).WithField("source", int(source)).Debug(detail)
}

// PluginReady implements device.Hooks: the owning plugin must be at
// least READY.
func (c *Controller) PluginReady(dev *device.Device) bool {
	p, ok := c.ownerOf(dev)
	if !ok {
		return false
	}
	return p.State().AtLeastReady()
}

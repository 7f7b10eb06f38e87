package controller

import (
	"context"
	"math/rand"
	"time"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/scheduler"
)

func scheduleOnceHourly(sched *scheduler.Scheduler, initialDelay time.Duration, payload any, fn func(ctx context.Context) (struct{}, error)) {
	scheduler.Schedule[struct{}](sched, initialDelay, time.Hour, scheduler.RepeatInfinite, payload, fn)
}

// scheduleRetention implements §4.4/§4.8's retention task: one hourly
// job per device, staggered with a random initial offset so every device
// does not wake its history cleanup in the same instant.
func (c *Controller) scheduleRetention(dev *device.Device) {
	initial := time.Duration(rand.Intn(int(time.Hour))) + time.Second
	scheduleOnceHourly(c.sched, initial, dev.ID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.runRetention(ctx, dev)
	})
}

func (c *Controller) runRetention(ctx context.Context, dev *device.Device) error {
	days := dev.HistoryRetention(ctx, 90)
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	if err := c.store.DeleteHistoryBefore(ctx, dev.ID, cutoff); err != nil {
		return err
	}
	if dev.Kind == device.KindLevel {
		months := dev.TrendsRetention(ctx, 24)
		trendCutoff := time.Now().AddDate(0, -months, 0).Unix()
		if err := c.store.DeleteLevelTrendsBefore(ctx, dev.ID, trendCutoff); err != nil {
			return err
		}
	}
	return nil
}

package controller

import (
	"context"
	"strconv"
	"time"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/scheduler"
)

// rateLimitState accumulates updates arriving faster than a device's
// rate_limit window, per §4.4 step 5. Level devices fold into a running
// mean; every other kind keeps only the latest raw value.
type rateLimitState struct {
	sum        float64
	count      int
	latest     string
	source     device.UpdateSource
	accumulate bool
	open       bool
}

// ScheduleRateLimited implements device.Hooks: the first update in a
// window schedules a single firing task window later; every subsequent
// update within the same window just folds into the state, without
// scheduling a second task.
func (c *Controller) ScheduleRateLimited(dev *device.Device, window time.Duration, source device.UpdateSource, raw string, accumulate bool) {
	c.rateMu.Lock()
	st, ok := c.rateLimits[dev.ID]
	if !ok {
		st = &rateLimitState{accumulate: accumulate}
		c.rateLimits[dev.ID] = st
	}
	st.source = source
	st.latest = raw
	if accumulate {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			st.sum += f
			st.count++
		}
	}
	alreadyOpen := st.open
	st.open = true
	c.rateMu.Unlock()

	if alreadyOpen {
		return
	}

	scheduler.Schedule[struct{}](c.sched, window, 0, 1, dev.ID, func(ctx context.Context) (struct{}, error) {
		c.rateMu.Lock()
		st, ok := c.rateLimits[dev.ID]
		if ok {
			delete(c.rateLimits, dev.ID)
		}
		c.rateMu.Unlock()
		if !ok {
			return struct{}{}, nil
		}

		value := st.latest
		if st.accumulate && st.count > 0 {
			value = strconv.FormatFloat(st.sum/float64(st.count), 'f', -1, 64)
		}
		return struct{}{}, dev.ProcessValue(ctx, c, st.source, value)
	})
}

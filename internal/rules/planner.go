package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/scheduler"
)

// ApplyFunc drives a single update through the device pipeline; the
// planner never touches the pipeline directly, keeping this package
// free of a dependency on controller.
type ApplyFunc func(ctx context.Context, dev *device.Device, source device.UpdateSource, value string) error

// Planner implements the task-options planner of §4.7.3, shared by link
// dispatch and script-driven updates. Scheduled tasks are owned by the
// target device's id so that `clear` can erase exactly that device's
// pending drives without touching any other device's tasks.
type Planner struct {
	pool *scheduler.Pool

	mu        sync.Mutex
	perDevice map[int]*scheduler.Scheduler
}

// NewPlanner creates a Planner backed by the shared scheduler pool.
func NewPlanner(pool *scheduler.Pool) *Planner {
	return &Planner{pool: pool, perDevice: make(map[int]*scheduler.Scheduler)}
}

func (p *Planner) schedulerFor(deviceID int) *scheduler.Scheduler {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.perDevice[deviceID]; ok {
		return s
	}
	s := scheduler.New(p.pool, fmt.Sprintf("device:%d", deviceID))
	p.perDevice[deviceID] = s
	return s
}

// Plan schedules the target's value changes per opts, using apply to
// actually drive each change through the device's update pipeline.
func (p *Planner) Plan(ctx context.Context, target *device.Device, targetValue string, opts TaskOptions, source device.UpdateSource, apply ApplyFunc) {
	sched := p.schedulerFor(target.ID)

	if opts.Clear {
		sched.EraseAll()
	}

	effectiveSource := source
	if opts.Recur {
		effectiveSource = source &^ (device.SourceScript | device.SourceTimer | device.SourceLink)
	}

	repeat := opts.Repeat
	if repeat == 0 {
		repeat = 1
	}
	count := repeat
	if count < 0 {
		count = -count
	}

	currentValue := target.Value
	revertValue := currentValue
	if target.Kind == device.KindSwitch {
		if opt, ok := device.Opposite(device.SwitchOption(targetValue)); ok {
			revertValue = string(opt)
		}
	}

	for i := 0; i < count; i++ {
		at := opts.AfterSec + float64(i)*(opts.ForSec+opts.RepeatSec)
		delay := time.Duration(at * float64(time.Second))
		scheduleOnce(sched, delay, target.ID, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, apply(ctx, target, effectiveSource, targetValue)
		})

		// A positive repeat reverts on every iteration, including the
		// last; a negative repeat skips the revert only on its final
		// iteration, per the original's `repeat > 0 || i < abs(repeat)-1`.
		shouldRevert := repeat > 0 || i < count-1
		if opts.ForSec > 0.05 && shouldRevert {
			revertAt := at + opts.ForSec
			revertDelay := time.Duration(revertAt * float64(time.Second))
			scheduleOnce(sched, revertDelay, target.ID, func(ctx context.Context) (struct{}, error) {
				return struct{}{}, apply(ctx, target, effectiveSource, revertValue)
			})
		}
	}
}

func scheduleOnce(sched *scheduler.Scheduler, delay time.Duration, payload any, fn func(ctx context.Context) (struct{}, error)) {
	scheduler.Schedule[struct{}](sched, delay, 0, 1, payload, fn)
}

// IsScheduled reports whether the target device (by id) has any pending
// or active planner-owned task, implementing Controller.isScheduled's
// planner-side half.
func (p *Planner) IsScheduled(deviceID int) bool {
	p.mu.Lock()
	s, ok := p.perDevice[deviceID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	return s.IsScheduled(deviceID)
}

// Package controller implements the Controller entity of §4.6: it owns
// the plugin tree, bootstraps it from the database, drives startup/
// shutdown, runs the once-a-minute timer scan, and implements the
// device.Hooks contract that wires the update pipeline to plugins, the
// store and the rule engine. Grounded on
// original_source/src/Controller.h's plugin-map + recursive-mutex design
// and newEvent/_runScripts/_runTimers/_runLinks dispatch.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/micasa/internal/device"
	"github.com/r3e-network/micasa/internal/metrics"
	"github.com/r3e-network/micasa/internal/pending"
	"github.com/r3e-network/micasa/internal/plugin"
	"github.com/r3e-network/micasa/internal/rules"
	"github.com/r3e-network/micasa/internal/scheduler"
	"github.com/r3e-network/micasa/internal/store"
	"github.com/r3e-network/micasa/pkg/logger"
)

// HandlerFactory constructs the integration-specific Handler for a
// plugin row's type tag. Hardware-specific handlers are out of scope
// (§9 open questions / Non-goals); the default factory always returns
// plugin.PassthroughHandler{}.
type HandlerFactory func(pluginType string) plugin.Handler

// HotPlugMonitor is the optional capability of §4.6 step 4: a serial
// device hot-plug watcher running its own thread, not the scheduler
// pool, because sub-second polling overhead is unsuitable for scheduler
// tasks. Absence must not break the core - Controller only calls it
// through this interface, guarded by a nil check.
type HotPlugMonitor interface {
	Start(onEvent func(reference string, connected bool)) error
	Stop()
}

// Controller owns the plugin tree and every cross-plugin orchestration
// task.
type Controller struct {
	mu      sync.RWMutex
	plugins map[string]*plugin.Plugin
	byID    map[int]*plugin.Plugin

	store   *store.Store
	pool    *scheduler.Pool
	sched   *scheduler.Scheduler
	planner *rules.Planner
	engine  *rules.Engine
	pending *pending.Table
	metrics *metrics.Metrics
	log     *logger.Entry
	rootLog *logger.Logger

	handlerFactory HandlerFactory
	hotPlug        HotPlugMonitor

	rateMu     sync.Mutex
	rateLimits map[int]*rateLimitState
}

// New constructs a Controller. handlerFactory may be nil, in which case
// every plugin gets plugin.PassthroughHandler{}. hotPlug may be nil.
func New(st *store.Store, pool *scheduler.Pool, m *metrics.Metrics, log *logger.Logger, handlerFactory HandlerFactory, hotPlug HotPlugMonitor) *Controller {
	if handlerFactory == nil {
		handlerFactory = func(string) plugin.Handler { return plugin.PassthroughHandler{} }
	}
	c := &Controller{
		plugins:        make(map[string]*plugin.Plugin),
		byID:           make(map[int]*plugin.Plugin),
		store:          st,
		pool:           pool,
		metrics:        m,
		log:            log.WithComponent("controller"),
		rootLog:        log,
		handlerFactory: handlerFactory,
		hotPlug:        hotPlug,
		rateLimits:     make(map[int]*rateLimitState),
	}
	c.sched = scheduler.New(pool, "controller")
	c.pending = pending.New(c.sched)
	c.planner = rules.NewPlanner(pool)
	c.engine = rules.NewEngine(st, c, c.planner, c.Apply, m, log)
	return c
}

// Start implements §4.6's startup sequence: load the plugin tree parents
// first, start enabled parent plugins in parallel, start the timer scan
// task, and optionally the hot-plug monitor.
func (c *Controller) Start(ctx context.Context) error {
	rows, err := c.store.ListPlugins(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, row := range rows {
		p := plugin.New(row, c.handlerFactory(row.Type), c.store, c.rootLog)
		c.plugins[row.Reference] = p
		c.byID[row.ID] = p
	}
	for _, row := range rows {
		if !row.ParentID.Valid {
			continue
		}
		child := c.byID[row.ID]
		parent := c.byID[int(row.ParentID.Int64)]
		if child == nil || parent == nil {
			continue
		}
		child.Parent = parent
		parent.Children = append(parent.Children, child)
	}
	toStart := make([]*plugin.Plugin, 0, len(rows))
	for _, row := range rows {
		if row.ParentID.Valid || !row.Enabled {
			continue
		}
		toStart = append(toStart, c.byID[row.ID])
	}
	c.mu.Unlock()

	for _, p := range rows {
		p := c.byID[p.ID]
		devs, err := p.LoadDevices(ctx)
		if err != nil {
			c.log.WithError(err).WithField("plugin", p.Reference).Warn("load devices")
			continue
		}
		for _, dev := range devs {
			c.scheduleRetention(dev)
		}
	}

	for _, p := range toStart {
		p := p
		scheduler.Schedule[struct{}](c.sched, 0, 0, 1, p.ID, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.Start(ctx)
		})
	}

	c.startTimerScan()

	if c.hotPlug != nil {
		if err := c.hotPlug.Start(c.onHotPlugEvent); err != nil {
			c.log.WithError(err).Warn("hot-plug monitor failed to start; continuing without it")
		}
	}
	return nil
}

// startTimerScan aligns the once-a-minute scan task to the next full
// minute plus a 5ms safety margin, per §4.6 step 3.
func (c *Controller) startTimerScan() {
	now := time.Now()
	next := now.Truncate(time.Minute).Add(time.Minute).Add(5 * time.Millisecond)
	scheduler.ScheduleAt[struct{}](c.sched, next, time.Minute, scheduler.RepeatInfinite, "timer-scan", func(ctx context.Context) (struct{}, error) {
		c.engine.RunTimerScan(ctx, time.Now())
		return struct{}{}, nil
	})
}

func (c *Controller) onHotPlugEvent(reference string, connected bool) {
	c.mu.RLock()
	p, ok := c.plugins[reference]
	c.mu.RUnlock()
	if !ok {
		return
	}
	if connected {
		_ = p.Start(context.Background())
	} else {
		p.Stop(context.Background())
	}
}

// Stop implements §4.6's shutdown: erase controller-owned scheduler
// tasks, stop every plugin in parallel with a 15s timeout each, clear
// the plugin map.
func (c *Controller) Stop(ctx context.Context) {
	if c.hotPlug != nil {
		c.hotPlug.Stop()
	}
	c.sched.EraseAll()

	c.mu.Lock()
	plugins := make([]*plugin.Plugin, 0, len(c.plugins))
	for _, p := range c.plugins {
		plugins = append(plugins, p)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range plugins {
		wg.Add(1)
		go func(p *plugin.Plugin) {
			defer wg.Done()
			done := make(chan struct{})
			go func() {
				p.Stop(ctx)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(15 * time.Second):
				c.log.WithField("plugin", p.Reference).Warn("plugin stop timed out")
			}
		}(p)
	}
	wg.Wait()

	c.mu.Lock()
	c.plugins = make(map[string]*plugin.Plugin)
	c.byID = make(map[int]*plugin.Plugin)
	c.mu.Unlock()
}

// DeviceByID, DeviceByName and DeviceByLabel implement rules.DeviceLookup
// by scanning every plugin's device set.
func (c *Controller) DeviceByID(id int) (*device.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.plugins {
		if d, ok := p.DeviceByID(id); ok {
			return d, true
		}
	}
	return nil, false
}

func (c *Controller) DeviceByName(name string) (*device.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.plugins {
		if d, ok := p.DeviceByName(name); ok {
			return d, true
		}
	}
	return nil, false
}

func (c *Controller) DeviceByLabel(label string) (*device.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.plugins {
		if d, ok := p.DeviceByLabel(label); ok {
			return d, true
		}
	}
	return nil, false
}

// AllDevices returns every device owned by every plugin, for the API
// adapter's list operation.
func (c *Controller) AllDevices() []*device.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*device.Device
	for _, p := range c.plugins {
		out = append(out, p.Devices()...)
	}
	return out
}

// Apply drives a single fresh update request through the device's full
// pipeline, the ApplyFunc the rule engine and planner use.
func (c *Controller) Apply(ctx context.Context, dev *device.Device, source device.UpdateSource, value string) error {
	return dev.UpdateValue(ctx, c, source, value)
}

// PlanDeviceUpdate routes a value change through the task-options
// planner, the entry point scripts and the API adapter share.
func (c *Controller) PlanDeviceUpdate(ctx context.Context, dev *device.Device, value string, opts rules.TaskOptions, source device.UpdateSource) {
	c.planner.Plan(ctx, dev, value, opts, source, c.Apply)
}

// IsScheduled implements §4.6's isScheduled(device): true iff the
// scheduler has any task (controller-owned or planner-owned) whose
// payload is this device's id.
func (c *Controller) IsScheduled(deviceID int) bool {
	return c.sched.IsScheduled(deviceID) || c.planner.IsScheduled(deviceID)
}

func (c *Controller) ownerOf(dev *device.Device) (*plugin.Plugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[dev.PluginID]
	return p, ok
}


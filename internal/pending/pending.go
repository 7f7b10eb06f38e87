// Package pending implements the per-key rendezvous table described in the
// design: at most one in-flight update per key, with an auto-release timer
// and carry-through of the original source/data across a request/ack gap.
// Grounded on the teacher's short-lived request/ack bookkeeping style in
// services/automation (trigger last-execution bookkeeping) adapted to the
// design's tryQueue/tryRelease contract.
package pending

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/micasa/internal/scheduler"
)

// Entry is one pending update's payload.
type Entry struct {
	Source any
	Data   string
}

// Table is a process-wide (or per-subsystem) pending-update rendezvous.
type Table struct {
	mu    sync.Mutex
	rows  map[string]Entry
	sched *scheduler.Scheduler
}

// New creates a Table whose auto-release timers are scheduled on sched.
func New(sched *scheduler.Scheduler) *Table {
	return &Table{
		rows:  make(map[string]Entry),
		sched: sched,
	}
}

// TryQueue returns true iff no pending update currently exists for key; on
// success it records the entry and schedules an auto-release after
// maxWait. minBlock is accepted for API symmetry with callers that debounce
// before queuing, but the table itself does not block on it.
func (t *Table) TryQueue(key string, source any, data string, minBlock, maxWait time.Duration) bool {
	t.mu.Lock()
	if _, exists := t.rows[key]; exists {
		t.mu.Unlock()
		return false
	}
	t.rows[key] = Entry{Source: source, Data: data}
	t.mu.Unlock()

	if t.sched != nil && maxWait > 0 {
		scheduler.Schedule[struct{}](t.sched, maxWait, 0, 1, key, func(ctx context.Context) (struct{}, error) {
			t.TryRelease(key)
			return struct{}{}, nil
		})
	}
	return true
}

// TryRelease consumes the pending update for key, if present.
func (t *Table) TryRelease(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rows[key]
	if ok {
		delete(t.rows, key)
	}
	return e, ok
}

// Count reports the number of live pending entries, for tests asserting
// the "at most one per key" invariant across keys.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

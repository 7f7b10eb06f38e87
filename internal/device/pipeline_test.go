package device

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/micasa/internal/settings"
)

type fakeHooks struct {
	ownerAccept   bool
	ownerApply    bool
	observerAccept bool
	ready         bool

	events    int
	committed []string
	rejected  []string
	rateLimitedCalls int
}

func (f *fakeHooks) ApplyOwner(ctx context.Context, dev *Device, source UpdateSource, value string) (bool, bool, error) {
	return f.ownerAccept, f.ownerApply, nil
}
func (f *fakeHooks) ApplyObservers(ctx context.Context, dev *Device, source UpdateSource, value string) (bool, error) {
	return f.observerAccept, nil
}
func (f *fakeHooks) WriteHistory(ctx context.Context, dev *Device, value string, at time.Time) error {
	return nil
}
func (f *fakeHooks) CommitValue(ctx context.Context, dev *Device, value, previous string, at time.Time, source UpdateSource) error {
	f.committed = append(f.committed, value)
	return nil
}
func (f *fakeHooks) FireEvent(ctx context.Context, dev *Device, source UpdateSource) { f.events++ }
func (f *fakeHooks) ScheduleAutoRevert(dev *Device)                                   {}
func (f *fakeHooks) ScheduleRateLimited(dev *Device, window time.Duration, source UpdateSource, raw string, accumulate bool) {
	f.rateLimitedCalls++
}
func (f *fakeHooks) RejectUpdate(dev *Device, gate string)                    { f.rejected = append(f.rejected, gate) }
func (f *fakeHooks) LogDrop(dev *Device, source UpdateSource, gate, detail string) {}
func (f *fakeHooks) PluginReady(dev *Device) bool { return f.ready }

func newTestSwitch() *Device {
	return &Device{
		ID: 1, Kind: KindSwitch, Enabled: true,
		Settings: newInlineSettings(nil),
	}
}

// newInlineSettings builds a storeless Settings bag pre-populated with kvs,
// for pipeline tests that only need synchronous in-memory reads.
func newInlineSettings(kvs map[string]string) *settings.Settings {
	s := settings.New(nil, "", 0)
	ctx := context.Background()
	for k, v := range kvs {
		s.Put(ctx, k, v)
	}
	return s
}

func TestUpdateValueScenario1_SwitchAPIAccepted(t *testing.T) {
	d := newTestSwitch()
	d.Settings = newInlineSettings(map[string]string{"allowed_update_sources": "255"})
	h := &fakeHooks{ownerAccept: true, ownerApply: true, observerAccept: true, ready: true}

	if err := d.UpdateValue(context.Background(), h, SourceAPI, "On"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if d.Value != "On" || d.LastSource != SourceAPI {
		t.Fatalf("device state = %+v", d)
	}
	if h.events != 1 {
		t.Fatalf("expected 1 event, got %d", h.events)
	}
}

func TestUpdateValueDisabledDropsNonPluginSource(t *testing.T) {
	d := newTestSwitch()
	d.Enabled = false
	d.Settings = newInlineSettings(nil)
	h := &fakeHooks{ownerAccept: true, ownerApply: true, observerAccept: true, ready: true}

	if err := d.UpdateValue(context.Background(), h, SourceAPI, "On"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if len(h.rejected) != 1 || h.rejected[0] != "enable" {
		t.Fatalf("expected enable-gate rejection, got %v", h.rejected)
	}
	if d.Value != "" {
		t.Fatalf("device value should be unchanged, got %q", d.Value)
	}
}

func TestUpdateValueOwnerRejectionLeavesStateUnchanged(t *testing.T) {
	d := newTestSwitch()
	d.Value = "Off"
	d.Settings = newInlineSettings(nil)
	h := &fakeHooks{ownerAccept: false, ready: true}

	if err := d.UpdateValue(context.Background(), h, SourceAPI, "On"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if d.Value != "Off" {
		t.Fatalf("value should be unchanged on rejection, got %q", d.Value)
	}
}

func TestUpdateValueRangeGateRejectsOutOfBoundsLevel(t *testing.T) {
	d := &Device{ID: 2, Kind: KindLevel, Enabled: true, Settings: newInlineSettings(nil)}
	d.Level.HasRange = true
	d.Level.Minimum = 0
	d.Level.Maximum = 100
	h := &fakeHooks{ownerAccept: true, ownerApply: true, ready: true}

	if err := d.UpdateValue(context.Background(), h, SourcePlugin, "150"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if len(h.rejected) != 1 || h.rejected[0] != "range" {
		t.Fatalf("expected range-gate rejection, got %v", h.rejected)
	}
	if len(h.committed) != 0 {
		t.Fatal("out-of-range value must not be committed")
	}
}

// TestUpdateValueDividerOffsetAppliesOffsetBeforeDividing pins the range
// gate's composition order: raw values are offset first, then divided,
// matching the original Level device's (value+offset)/divider.
func TestUpdateValueDividerOffsetAppliesOffsetBeforeDividing(t *testing.T) {
	d := &Device{ID: 9, Kind: KindLevel, Enabled: true, Settings: newInlineSettings(nil)}
	d.Level.HasRange = true
	d.Level.Minimum = 0
	d.Level.Maximum = 10
	d.Level.Divider = 10
	d.Level.Offset = 50
	h := &fakeHooks{ownerAccept: true, ownerApply: true, ready: true}

	// raw=100: (100/10)+50=60 would fail the [0,10] range under the old,
	// wrong order; (100+50)/10=15 would also fail it, so instead assert
	// the actually-in-range value under the correct order commits with
	// the correctly adjusted value.
	if err := d.UpdateValue(context.Background(), h, SourcePlugin, "10"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if len(h.rejected) != 0 {
		t.Fatalf("expected (10+50)/10=6 to be within [0,10], got rejection %v", h.rejected)
	}
	if len(h.committed) != 1 || h.committed[0] != "6" {
		t.Fatalf("expected committed value 6 from (10+50)/10, got %v", h.committed)
	}
}

func TestUpdateValueRateLimitDefersProcessingWithinWindow(t *testing.T) {
	d := &Device{ID: 3, Kind: KindLevel, Enabled: true, Settings: newInlineSettings(map[string]string{"rate_limit": "1"})}
	d.LastUpdate = time.Now()
	h := &fakeHooks{ownerAccept: true, ownerApply: true, ready: true}

	if err := d.UpdateValue(context.Background(), h, SourcePlugin, "10"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if h.rateLimitedCalls != 1 {
		t.Fatalf("expected rate limiter to be invoked once, got %d", h.rateLimitedCalls)
	}
	if len(h.committed) != 0 {
		t.Fatal("rate-limited update must not commit immediately")
	}
}

// TestUpdateValueRateLimitProcessesImmediatelyAfterWindowElapsed covers the
// case an update arrives after rate_limit has already elapsed (including a
// device with no prior update at all): it must go straight to ProcessValue
// rather than being deferred again.
func TestUpdateValueRateLimitProcessesImmediatelyAfterWindowElapsed(t *testing.T) {
	d := &Device{ID: 4, Kind: KindLevel, Enabled: true, Settings: newInlineSettings(map[string]string{"rate_limit": "1"})}
	d.LastUpdate = time.Now().Add(-time.Hour)
	h := &fakeHooks{ownerAccept: true, ownerApply: true, ready: true}

	if err := d.UpdateValue(context.Background(), h, SourcePlugin, "10"); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if h.rateLimitedCalls != 0 {
		t.Fatalf("expected no deferral once the window has elapsed, got %d calls", h.rateLimitedCalls)
	}
	if len(h.committed) != 1 {
		t.Fatalf("expected the update to commit immediately, committed=%v", h.committed)
	}
}

// Package device implements the device data model and update pipeline:
// one tagged struct per the design notes' "tagged variant, not subclass
// hierarchy" guidance, covering Switch/Level/Counter/Text, grounded on
// original_source/src/Device.{h,cpp} and src/device/Switch.{h,cpp}.
package device

import (
	"context"
	"time"

	"github.com/r3e-network/micasa/internal/settings"
)

// Kind is the closed set of device types.
type Kind int

const (
	KindSwitch Kind = iota + 1
	KindLevel
	KindCounter
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindSwitch:
		return "switch"
	case KindLevel:
		return "level"
	case KindCounter:
		return "counter"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// UpdateSource is the fixed bitset identifying the origin of a value
// change. Wire values are fixed per §6 EXTERNAL INTERFACES.
type UpdateSource int

const (
	SourcePlugin   UpdateSource = 1
	SourceTimer    UpdateSource = 2
	SourceScript   UpdateSource = 4
	SourceAPI      UpdateSource = 8
	SourceLink     UpdateSource = 16
	SourceSystem   UpdateSource = 32
	SourceInternal UpdateSource = 64
)

// Derived masks.
const (
	SourceUser  = SourceTimer | SourceScript | SourceAPI | SourceLink
	SourceEvent = SourceTimer | SourceScript | SourceLink
	SourceAny   = SourcePlugin | SourceTimer | SourceScript | SourceAPI | SourceLink | SourceSystem
)

// Has reports whether source carries every bit in mask.
func (s UpdateSource) Has(mask UpdateSource) bool { return s&mask == mask }

// Any reports whether source carries any bit of mask.
func (s UpdateSource) Any(mask UpdateSource) bool { return s&mask != 0 }

// StripInternal removes the INTERNAL bit, required before a value change
// is allowed to fire events.
func (s UpdateSource) StripInternal() UpdateSource { return s &^ SourceInternal }

// Device is the tagged, persistently-identified value carrier. Kind-
// specific data lives alongside the common fields rather than behind a
// subclass hierarchy, per the design's dynamic-dispatch-by-tag guidance.
type Device struct {
	ID        int
	PluginID  int
	Reference string
	Label     string
	name      string // settable override of Label; empty means "use Label"
	Kind      Kind
	Enabled   bool

	Value         string
	PreviousValue string
	LastUpdate    time.Time
	LastSource    UpdateSource

	Settings *settings.Settings

	Switch  SwitchData
	Level   LevelData
	Counter CounterData
	Text    TextData
}

// SwitchData holds Switch-only fields.
type SwitchData struct {
	SubType SwitchSubType
}

// LevelData holds Level-only fields.
type LevelData struct {
	Unit     string
	SubType  string
	Divider  float64
	Offset   float64
	Minimum  float64
	Maximum  float64
	HasRange bool
}

// CounterData holds Counter-only fields.
type CounterData struct {
	Unit string
}

// TextData holds Text-only fields.
type TextData struct {
	IsLogSink bool
}

// Name returns the display name: the override if set, else the label.
func (d *Device) Name() string {
	if d.name != "" {
		return d.name
	}
	return d.Label
}

// SetName sets the settable name override.
func (d *Device) SetName(n string) { d.name = n }

// AllowedSources reads the `allowed_update_sources` device setting,
// defaulting to SourceAny when unset.
func (d *Device) AllowedSources(ctx context.Context) UpdateSource {
	return UpdateSource(d.Settings.GetInt(ctx, "allowed_update_sources", int(SourceAny)))
}

// IgnoreDuplicates reads the `ignore_duplicates` device setting.
func (d *Device) IgnoreDuplicates(ctx context.Context) bool {
	return d.Settings.GetBool(ctx, "ignore_duplicates", false)
}

// RateLimit reads the `rate_limit` device setting, in seconds (0 = off).
func (d *Device) RateLimit(ctx context.Context) time.Duration {
	secs := d.Settings.GetInt(ctx, "rate_limit", 0)
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// HistoryRetention reads the `history_retention` setting, in days.
func (d *Device) HistoryRetention(ctx context.Context, def int) int {
	return d.Settings.GetInt(ctx, "history_retention", def)
}

// TrendsRetention reads the `trends_retention` setting, in months.
func (d *Device) TrendsRetention(ctx context.Context, def int) int {
	return d.Settings.GetInt(ctx, "trends_retention", def)
}

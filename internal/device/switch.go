package device

import "strings"

// SwitchOption is the closed set of discrete Switch values, grounded on
// original_source/src/device/Switch.h's Option enum.
type SwitchOption string

const (
	SwitchOn        SwitchOption = "On"
	SwitchOff       SwitchOption = "Off"
	SwitchOpen      SwitchOption = "Open"
	SwitchClose     SwitchOption = "Close"
	SwitchStop      SwitchOption = "Stop"
	SwitchStart     SwitchOption = "Start"
	SwitchEnabled   SwitchOption = "Enabled"
	SwitchDisabled  SwitchOption = "Disabled"
	SwitchIdle      SwitchOption = "Idle"
	SwitchActivate  SwitchOption = "Activate"
)

// switchOpposites is the static opposite table: every option with a
// defined opposite maps to it, and the mapping is involutive.
var switchOpposites = map[SwitchOption]SwitchOption{
	SwitchOn:       SwitchOff,
	SwitchOff:      SwitchOn,
	SwitchOpen:     SwitchClose,
	SwitchClose:    SwitchOpen,
	SwitchStart:    SwitchStop,
	SwitchStop:     SwitchStart,
	SwitchEnabled:  SwitchDisabled,
	SwitchDisabled: SwitchEnabled,
}

// Opposite returns the opposite of opt, and whether one is defined.
// ACTIVATE and IDLE have no defined opposite (ACTIVATE auto-reverts to
// IDLE on a timer, it is not a toggle pair).
func Opposite(opt SwitchOption) (SwitchOption, bool) {
	o, ok := switchOpposites[opt]
	return o, ok
}

// ParseSwitchOption validates a raw string against the closed option set,
// case-insensitively.
func ParseSwitchOption(raw string) (SwitchOption, bool) {
	for _, opt := range []SwitchOption{
		SwitchOn, SwitchOff, SwitchOpen, SwitchClose, SwitchStop, SwitchStart,
		SwitchEnabled, SwitchDisabled, SwitchIdle, SwitchActivate,
	} {
		if strings.EqualFold(string(opt), raw) {
			return opt, true
		}
	}
	return "", false
}

// SwitchSubType is the closed set of Switch subtype tags.
type SwitchSubType string

const (
	SubTypeGeneric      SwitchSubType = "generic"
	SubTypeLight        SwitchSubType = "light"
	SubTypeDoorContact  SwitchSubType = "door_contact"
	SubTypeBlinds       SwitchSubType = "blinds"
	SubTypeMotion       SwitchSubType = "motion"
	SubTypeScene        SwitchSubType = "scene"
	SubTypeAction       SwitchSubType = "action"
)

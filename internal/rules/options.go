package rules

import (
	"strconv"
	"strings"
)

// TaskOptions is the shared input to the task-options planner of §4.7.3,
// produced either by a Link row or by the textual grammar of §4.7.4.
type TaskOptions struct {
	AfterSec  float64
	ForSec    float64
	Repeat    int
	RepeatSec float64
	Clear     bool
	Recur     bool
}

// ParseOptionsString parses the free-form script options grammar of
// §4.7.4: case-insensitive tokens FOR/AFTER/REPEAT/INTERVAL/CLEAR/RECUR,
// unit words SECOND[S] (default), MINUTE[S] (x60), HOUR[S] (x3600).
// Numbers attach to the most recently seen keyword; unit words multiply
// the most recently assigned numeric slot.
func ParseOptionsString(s string) TaskOptions {
	opts := TaskOptions{Repeat: 1}
	var repeatFloat float64
	repeatSeen := false

	var target *float64
	for _, tok := range strings.Fields(s) {
		switch strings.ToUpper(tok) {
		case "FOR":
			target = &opts.ForSec
		case "AFTER":
			target = &opts.AfterSec
		case "REPEAT":
			target = &repeatFloat
			repeatSeen = true
		case "INTERVAL":
			target = &opts.RepeatSec
		case "CLEAR":
			opts.Clear = true
		case "RECUR":
			opts.Recur = true
		case "SECOND", "SECONDS":
			// seconds is the base unit: no scaling needed
		case "MINUTE", "MINUTES":
			if target != nil {
				*target *= 60
			}
		case "HOUR", "HOURS":
			if target != nil {
				*target *= 3600
			}
		default:
			if n, err := strconv.ParseFloat(tok, 64); err == nil && target != nil {
				*target = n
			}
		}
	}
	if repeatSeen {
		opts.Repeat = int(repeatFloat)
	}
	if opts.Repeat == 0 {
		opts.Repeat = 1
	}
	return opts
}

// FromLinkRow builds the options a Link row implies: repeat=1, interval=0,
// recur=false, per §4.7.2.
func FromLinkRow(after, forSec float64, clear bool) TaskOptions {
	return TaskOptions{AfterSec: after, ForSec: forSec, Repeat: 1, Clear: clear}
}

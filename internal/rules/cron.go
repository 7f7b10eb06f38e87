// Package rules implements the rule engine of §4.7: cron timers, link
// dispatch, the task-options planner and textual grammar, and the
// goja-based script runner. Grounded on the teacher's automation
// trigger-matching style (services/automation/automation_triggers.go)
// translated from its simplistic next-fire estimate into the design's
// exact per-minute field-set match.
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldRange holds a field's valid extremes, per §6's cron grammar.
type fieldRange struct{ min, max int }

var fieldRanges = [5]fieldRange{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{1, 7},  // day of week, Sunday = 7
}

// CronSpec is a successfully parsed 5-field cron expression: one
// valid-value set per field.
type CronSpec struct {
	fields [5]map[int]struct{}
	raw    string
}

// ParseCron parses a 5-field cron expression per §6's grammar: each
// field a comma-list of RANGE[/STEP], RANGE being `*`, `N` or `A-B`.
func ParseCron(expr string) (*CronSpec, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression %q must have exactly 5 fields", expr)
	}
	spec := &CronSpec{raw: expr}
	for i, part := range parts {
		set, err := parseField(part, fieldRanges[i])
		if err != nil {
			return nil, fmt.Errorf("cron field %d (%q): %w", i, part, err)
		}
		spec.fields[i] = set
	}
	return spec, nil
}

func parseField(field string, fr fieldRange) (map[int]struct{}, error) {
	set := make(map[int]struct{})
	for _, sub := range strings.Split(field, ",") {
		if sub == "" {
			return nil, fmt.Errorf("empty sub-expression")
		}
		rangePart := sub
		step := 1
		if idx := strings.Index(sub, "/"); idx >= 0 {
			rangePart = sub[:idx]
			n, err := strconv.Atoi(sub[idx+1:])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step in %q", sub)
			}
			step = n
		}

		var lo, hi int
		switch {
		case rangePart == "*":
			lo, hi = fr.min, fr.max
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			a, err1 := strconv.Atoi(bounds[0])
			b, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil {
				return nil, fmt.Errorf("invalid range %q", rangePart)
			}
			lo, hi = a, b
		default:
			n, err := strconv.Atoi(rangePart)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", rangePart)
			}
			lo, hi = n, n
		}

		if lo < fr.min || hi > fr.max || lo > hi {
			return nil, fmt.Errorf("value out of range [%d,%d] in %q", fr.min, fr.max, rangePart)
		}
		for v := lo; v <= hi; v += step {
			set[v] = struct{}{}
		}
	}
	return set, nil
}

// Matches reports whether t's minute/hour/day-of-month/month/day-of-week
// (Sunday=7) fields all lie within the parsed valid-value sets.
func (c *CronSpec) Matches(t time.Time) bool {
	dow := int(t.Weekday())
	if dow == 0 {
		dow = 7
	}
	values := [5]int{t.Minute(), t.Hour(), t.Day(), int(t.Month()), dow}
	for i, v := range values {
		if _, ok := c.fields[i][v]; !ok {
			return false
		}
	}
	return true
}

func (c *CronSpec) String() string { return c.raw }

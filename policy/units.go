package policy

import (
	"fmt"
	"strings"
	"time"
)

// TimeUnit qualifies an integer wait time.
type TimeUnit int

const (
	Nanoseconds TimeUnit = iota
	Microseconds
	Milliseconds
	Seconds
	Minutes
	Hours
	Days
)

var unitDurations = [...]time.Duration{
	Nanoseconds:  time.Nanosecond,
	Microseconds: time.Microsecond,
	Milliseconds: time.Millisecond,
	Seconds:      time.Second,
	Minutes:      time.Minute,
	Hours:        time.Hour,
	Days:         24 * time.Hour,
}

var unitNames = [...]string{
	Nanoseconds:  "nanoseconds",
	Microseconds: "microseconds",
	Milliseconds: "milliseconds",
	Seconds:      "seconds",
	Minutes:      "minutes",
	Hours:        "hours",
	Days:         "days",
}

func (u TimeUnit) String() string {
	if u < 0 || int(u) >= len(unitNames) {
		return "unknown"
	}
	return unitNames[u]
}

// Duration converts n units to a time.Duration. Unknown units are treated as
// milliseconds.
func (u TimeUnit) Duration(n int) time.Duration {
	if u < 0 || int(u) >= len(unitDurations) {
		u = Milliseconds
	}
	return time.Duration(n) * unitDurations[u]
}

// ParseTimeUnit accepts the unit names returned by String as well as the
// usual short forms ("ms", "s", "m", "h", "d").
func ParseTimeUnit(s string) (TimeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ns", "nanosecond", "nanoseconds":
		return Nanoseconds, nil
	case "us", "µs", "microsecond", "microseconds":
		return Microseconds, nil
	case "ms", "millisecond", "milliseconds", "":
		return Milliseconds, nil
	case "s", "second", "seconds":
		return Seconds, nil
	case "m", "minute", "minutes":
		return Minutes, nil
	case "h", "hour", "hours":
		return Hours, nil
	case "d", "day", "days":
		return Days, nil
	default:
		return Milliseconds, fmt.Errorf("flakey: unknown time unit %q", s)
	}
}

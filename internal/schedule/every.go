package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Every is a fixed-width repeat unit for the "every N units" schedule
// style. The widths are deliberate approximations (month = 30 days,
// year = 52 weeks) kept bit-for-bit compatible with the stored format;
// they are not calendar-exact and must not be "fixed".
type Every int

const (
	EveryYear Every = iota
	EveryMonth
	EveryTwoWeeks
	EveryWeek
	EveryDay
	EveryHour
	EveryMinute
	EverySecond
)

const (
	millisSecond   = int64(1000)
	millisMinute   = 60 * millisSecond
	millisHour     = 60 * millisMinute
	millisDay      = 24 * millisHour
	millisWeek     = 7 * millisDay
	millisTwoWeeks = 14 * millisDay
	millisMonth    = 30 * millisDay
	millisYear     = 52 * millisWeek
)

func (e Every) String() string {
	switch e {
	case EveryYear:
		return "year"
	case EveryMonth:
		return "month"
	case EveryTwoWeeks:
		return "twoWeeks"
	case EveryWeek:
		return "week"
	case EveryDay:
		return "day"
	case EveryHour:
		return "hour"
	case EveryMinute:
		return "minute"
	case EverySecond:
		return "second"
	default:
		return fmt.Sprintf("Every(%d)", int(e))
	}
}

// ParseEvery accepts the wire names case-insensitively ("twoweeks" and
// "twoWeeks" are both valid).
func ParseEvery(s string) (Every, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "year":
		return EveryYear, nil
	case "month":
		return EveryMonth, nil
	case "twoweeks":
		return EveryTwoWeeks, nil
	case "week":
		return EveryWeek, nil
	case "day":
		return EveryDay, nil
	case "hour":
		return EveryHour, nil
	case "minute":
		return EveryMinute, nil
	case "second":
		return EverySecond, nil
	default:
		return 0, fmt.Errorf("unknown every kind %q", s)
	}
}

// Millis returns the fixed width of one unit in epoch milliseconds.
func (e Every) Millis() int64 {
	switch e {
	case EveryYear:
		return millisYear
	case EveryMonth:
		return millisMonth
	case EveryTwoWeeks:
		return millisTwoWeeks
	case EveryWeek:
		return millisWeek
	case EveryDay:
		return millisDay
	case EveryHour:
		return millisHour
	case EveryMinute:
		return millisMinute
	case EverySecond:
		return millisSecond
	default:
		return 0
	}
}

// DurationMillis returns count units in epoch milliseconds.
func (e Every) DurationMillis(count int) int64 {
	return e.Millis() * int64(count)
}

// Duration returns count units as a time.Duration.
func (e Every) Duration(count int) time.Duration {
	return time.Duration(e.DurationMillis(count)) * time.Millisecond
}

func (e Every) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *Every) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseEvery(s)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

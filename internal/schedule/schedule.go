package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Schedule is the trigger description attached to a notification payload.
// Exactly one of the three variants is set; the JSON shape is the
// externally tagged form the webview clients have always produced:
//
//	{"at": {"date": "...", "repeating": true}}
//	{"interval": {"interval": {"hour": 10, "minute": 30}}}
//	{"every": {"interval": "day", "count": 2}}
type Schedule struct {
	At       *ScheduleAt       `json:"at,omitempty"`
	Interval *ScheduleInterval `json:"interval,omitempty"`
	Every    *ScheduleEvery    `json:"every,omitempty"`
}

// ScheduleAt fires once at a fixed instant. With Repeating set it re-fires
// daily at the same wall-clock time after the first delivery.
type ScheduleAt struct {
	Date           time.Time `json:"date"`
	Repeating      bool      `json:"repeating,omitempty"`
	AllowWhileIdle bool      `json:"allowWhileIdle,omitempty"`
}

// ScheduleInterval fires on a calendar pattern.
type ScheduleInterval struct {
	Interval       DateMatch `json:"interval"`
	AllowWhileIdle bool      `json:"allowWhileIdle,omitempty"`
}

// ScheduleEvery fires every Count fixed-width units from the reference
// instant.
type ScheduleEvery struct {
	Interval       Every `json:"interval"`
	Count          int   `json:"count"`
	AllowWhileIdle bool  `json:"allowWhileIdle,omitempty"`
}

var ErrNoVariant = errors.New("schedule: no variant set")

// Validate checks that exactly one variant is set and that the variant is
// internally sane. Calendar field values are deliberately not range
// checked (rollover is inherited behavior, see DateMatch).
func (s *Schedule) Validate() error {
	n := 0
	if s.At != nil {
		n++
		if s.At.Date.IsZero() {
			return errors.New("schedule: at.date required")
		}
	}
	if s.Interval != nil {
		n++
	}
	if s.Every != nil {
		n++
		if s.Every.Count <= 0 {
			return fmt.Errorf("schedule: every.count must be positive, got %d", s.Every.Count)
		}
	}
	switch n {
	case 0:
		return ErrNoVariant
	case 1:
		return nil
	default:
		return fmt.Errorf("schedule: %d variants set, want exactly one", n)
	}
}

// Repeats reports whether the schedule fires more than once.
func (s *Schedule) Repeats() bool {
	switch {
	case s.At != nil:
		return s.At.Repeating
	case s.Interval != nil:
		return true
	case s.Every != nil:
		return true
	default:
		return false
	}
}

// AllowWhileIdle reports the variant's idle flag (Android doze opt-out;
// carried through storage for the platform layer, unused by the core).
func (s *Schedule) AllowWhileIdle() bool {
	switch {
	case s.At != nil:
		return s.At.AllowWhileIdle
	case s.Interval != nil:
		return s.Interval.AllowWhileIdle
	case s.Every != nil:
		return s.Every.AllowWhileIdle
	default:
		return false
	}
}

// NextTrigger returns the next firing instant strictly after ref, or the
// zero time when the schedule will never fire again.
//
//   - at: the fixed date while it is still ahead; once it has passed, a
//     repeating at-schedule recurs daily at the date's wall-clock time,
//     a non-repeating one is done
//   - interval: DateMatch.NextTrigger
//   - every: ref plus count fixed-width units
func (s *Schedule) NextTrigger(ref time.Time) time.Time {
	switch {
	case s.At != nil:
		if s.At.Date.After(ref) {
			return s.At.Date
		}
		if !s.At.Repeating {
			return time.Time{}
		}
		hour, minute, sec := s.At.Date.In(ref.Location()).Clock()
		m := DateMatch{Hour: &hour, Minute: &minute, Second: &sec}
		return m.NextTrigger(ref)
	case s.Interval != nil:
		next := s.Interval.Interval.NextTrigger(ref)
		if !next.After(ref) {
			// Degenerate pinned pattern already in the past.
			return time.Time{}
		}
		return next
	case s.Every != nil:
		return ref.Add(s.Every.Interval.Duration(s.Every.Count))
	default:
		return time.Time{}
	}
}

// scheduleJSON keeps the wire shape strict: unknown variant keys are
// rejected up front rather than silently dropped.
type scheduleJSON struct {
	At       *ScheduleAt       `json:"at,omitempty"`
	Interval *ScheduleInterval `json:"interval,omitempty"`
	Every    *ScheduleEvery    `json:"every,omitempty"`
}

func (s *Schedule) UnmarshalJSON(b []byte) error {
	var t scheduleJSON
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	out := Schedule{At: t.At, Interval: t.Interval, Every: t.Every}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

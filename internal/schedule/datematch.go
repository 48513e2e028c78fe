package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wildcard is the token emitted for an absent field in the flat encoding.
const Wildcard = "*"

// DateMatch is a sparse calendar pattern. A nil field matches any value.
//
// Conventions (inherited from the persisted format, do not change):
//   - Month is 0-based (0 = January)
//   - Day is 1-based day of month
//   - Weekday is 1=Sunday .. 7=Saturday
//   - Hour 0-23, Minute/Second 0-59
//
// Unit records the coarsest field the caller set when the pattern was
// built. It is carried through the codec untouched and deliberately
// excluded from Equal/Key: two patterns that differ only in Unit compare
// equal, matching the stored format's historical behavior.
//
// Out-of-range values (day=32, month=12, ...) are not rejected; they roll
// over the way time.Date rolls them.
type DateMatch struct {
	Year    *int `json:"year,omitempty"`
	Month   *int `json:"month,omitempty"`
	Day     *int `json:"day,omitempty"`
	Weekday *int `json:"weekday,omitempty"`
	Hour    *int `json:"hour,omitempty"`
	Minute  *int `json:"minute,omitempty"`
	Second  *int `json:"second,omitempty"`

	Unit *int `json:"unit,omitempty"`
}

// advance units, finest to coarsest
type advanceUnit int

const (
	unitNone advanceUnit = iota
	unitSecond
	unitMinute
	unitHour
	unitDay
	unitWeek
	unitMonth
	unitYear
)

// NextTrigger returns the earliest instant strictly after ref at which
// every present field matches, computed in ref's location.
//
// The candidate is ref with the fixed fields overlaid, wildcard fields
// keeping ref's values. While the candidate is not strictly after ref
// (or a rollover disturbed a fixed field), the base is advanced by one
// unit coarser than the coarsest fixed field (hour fixed -> add a day,
// weekday fixed -> add a week, and so on) and the overlay re-applied.
// The loop is bounded: each step forces progress on the advance unit.
//
// Degenerate cases, kept deterministic:
//   - Year fixed: the pattern cannot recur, so the overlaid instant is
//     returned even when it is not after ref. Callers treat a non-future
//     result as already fired.
//   - No fields fixed: the pattern matches everything; ref advanced by
//     one second is returned so the result is always in the future.
//   - Weekday is resolved the way java.util.Calendar resolves it: the
//     day moves within the candidate's Sunday-based week, and when both
//     Day and Weekday are fixed the two may never agree; the last
//     candidate is returned after the iteration bound in that case.
func (m *DateMatch) NextTrigger(ref time.Time) time.Time {
	base := ref
	for i := 0; i < 8; i++ {
		cand := m.overlay(base)
		if cand.After(ref) && m.matches(cand) {
			return cand
		}
		u := m.advanceUnit()
		if u == unitNone {
			// Fully anchored by a fixed year; nothing left to advance.
			return cand
		}
		base = addUnit(base, u)
	}
	return m.overlay(base)
}

// overlay writes the fixed fields onto t, truncating to whole seconds.
// A fixed weekday then shifts the day within t's Sunday-based week,
// possibly backwards.
func (m *DateMatch) overlay(t time.Time) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	mo := int(month) - 1

	if m.Year != nil {
		year = *m.Year
	}
	if m.Month != nil {
		mo = *m.Month
	}
	if m.Day != nil {
		day = *m.Day
	}
	if m.Hour != nil {
		hour = *m.Hour
	}
	if m.Minute != nil {
		minute = *m.Minute
	}
	if m.Second != nil {
		sec = *m.Second
	}
	if m.Day == nil {
		// A wildcard day carries t's day-of-month into a possibly shorter
		// fixed month; clamp it so the fixed month survives composition.
		// Fixed out-of-range days still roll over, as documented.
		if last := daysIn(year, mo+1); day > last {
			day = last
		}
	}

	out := time.Date(year, time.Month(mo+1), day, hour, minute, sec, 0, t.Location())
	if m.Weekday != nil {
		delta := (*m.Weekday - 1) - int(out.Weekday())
		if delta != 0 {
			out = out.AddDate(0, 0, delta)
		}
	}
	return out
}

// matches reports whether every fixed field equals the corresponding
// field of t. Overlaying can disturb fixed fields through rollover
// (day=31 in a short month), so the result is always re-checked.
func (m *DateMatch) matches(t time.Time) bool {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	if m.Year != nil && *m.Year != year {
		return false
	}
	if m.Month != nil && *m.Month != int(month)-1 {
		return false
	}
	if m.Day != nil && *m.Day != day {
		return false
	}
	if m.Weekday != nil && *m.Weekday != int(t.Weekday())+1 {
		return false
	}
	if m.Hour != nil && *m.Hour != hour {
		return false
	}
	if m.Minute != nil && *m.Minute != minute {
		return false
	}
	if m.Second != nil && *m.Second != sec {
		return false
	}
	return true
}

// advanceUnit picks the recurrence step: one granularity coarser than the
// coarsest fixed field. A fixed year means the pattern is one-shot.
func (m *DateMatch) advanceUnit() advanceUnit {
	switch {
	case m.Year != nil:
		return unitNone
	case m.Month != nil:
		return unitYear
	case m.Day != nil:
		return unitMonth
	case m.Weekday != nil:
		return unitWeek
	case m.Hour != nil:
		return unitDay
	case m.Minute != nil:
		return unitHour
	case m.Second != nil:
		return unitMinute
	default:
		return unitSecond
	}
}

func addUnit(t time.Time, u advanceUnit) time.Time {
	switch u {
	case unitSecond:
		return t.Add(time.Second)
	case unitMinute:
		return t.Add(time.Minute)
	case unitHour:
		return t.Add(time.Hour)
	case unitDay:
		return t.AddDate(0, 0, 1)
	case unitWeek:
		return t.AddDate(0, 0, 7)
	case unitMonth:
		return addMonthsClamped(t, 1)
	case unitYear:
		return addMonthsClamped(t, 12)
	default:
		return t
	}
}

// addMonthsClamped advances by whole months pinning the day to the target
// month's last day when needed (Jan 31 + 1 month = Feb 28/29), the way
// java.util.Calendar.add(MONTH, n) does. AddDate would normalize the
// overflow into the month after and skip a whole recurrence.
func addMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	mo := int(month) + n
	if last := daysIn(year, mo); day > last {
		day = last
	}
	return time.Date(year, time.Month(mo), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

// daysIn returns the day count of the (possibly unnormalized) month.
func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsZero reports whether no field (including Unit) is set.
func (m *DateMatch) IsZero() bool {
	return m.Year == nil && m.Month == nil && m.Day == nil && m.Weekday == nil &&
		m.Hour == nil && m.Minute == nil && m.Second == nil && m.Unit == nil
}

// Equal compares the seven calendar fields. Unit is excluded on purpose:
// the stored format has always hashed and compared patterns without it.
func (m *DateMatch) Equal(o *DateMatch) bool {
	if m == nil || o == nil {
		return m == o
	}
	return eqField(m.Year, o.Year) &&
		eqField(m.Month, o.Month) &&
		eqField(m.Day, o.Day) &&
		eqField(m.Weekday, o.Weekday) &&
		eqField(m.Hour, o.Hour) &&
		eqField(m.Minute, o.Minute) &&
		eqField(m.Second, o.Second)
}

func eqField(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Key returns a stable identity string over the seven calendar fields,
// suitable for map keys and dedup. Like Equal, it ignores Unit.
func (m *DateMatch) Key() string {
	var b strings.Builder
	writeField(&b, m.Year)
	for _, f := range []*int{m.Month, m.Day, m.Weekday, m.Hour, m.Minute, m.Second} {
		b.WriteByte(' ')
		writeField(&b, f)
	}
	return b.String()
}

// String renders the flat persisted form: the seven fields in order
// year month day weekday hour minute second, space-separated, Wildcard
// for absent fields, followed by unit when present.
func (m *DateMatch) String() string {
	s := m.Key()
	if m.Unit != nil {
		s += " " + strconv.Itoa(*m.Unit)
	}
	return s
}

func writeField(b *strings.Builder, f *int) {
	if f == nil {
		b.WriteString(Wildcard)
		return
	}
	b.WriteString(strconv.Itoa(*f))
}

// ParseDateMatch decodes the flat persisted form.
//
// At least 7 whitespace-separated tokens are required. Tokens 1..7 always
// map, in order, to year month day weekday hour minute second; an 8th
// token, when present, is the unit. Anything past the 8th token is
// ignored. A non-wildcard token that is not an integer is an error.
func ParseDateMatch(s string) (*DateMatch, error) {
	tokens := strings.Fields(s)
	if len(tokens) < 7 {
		return nil, fmt.Errorf("date pattern %q: want at least 7 fields, got %d", s, len(tokens))
	}

	fields := make([]*int, 7)
	for i := 0; i < 7; i++ {
		v, err := parseField(tokens[i])
		if err != nil {
			return nil, fmt.Errorf("date pattern %q: field %d: %w", s, i+1, err)
		}
		fields[i] = v
	}

	m := &DateMatch{
		Year:    fields[0],
		Month:   fields[1],
		Day:     fields[2],
		Weekday: fields[3],
		Hour:    fields[4],
		Minute:  fields[5],
		Second:  fields[6],
	}
	if len(tokens) >= 8 {
		v, err := parseField(tokens[7])
		if err != nil {
			return nil, fmt.Errorf("date pattern %q: unit: %w", s, err)
		}
		m.Unit = v
	}
	return m, nil
}

func parseField(tok string) (*int, error) {
	if tok == Wildcard {
		return nil, nil
	}
	v, err := strconv.Atoi(tok)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", tok)
	}
	return &v, nil
}

// Int is a small helper for building patterns literally.
func Int(v int) *int { return &v }

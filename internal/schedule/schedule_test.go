package schedule

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestScheduleValidate(t *testing.T) {
	t.Parallel()
	date := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		s       Schedule
		wantErr bool
	}{
		{name: "none", s: Schedule{}, wantErr: true},
		{name: "at", s: Schedule{At: &ScheduleAt{Date: date}}},
		{name: "at zero date", s: Schedule{At: &ScheduleAt{}}, wantErr: true},
		{name: "interval", s: Schedule{Interval: &ScheduleInterval{Interval: DateMatch{Hour: Int(9)}}}},
		{name: "every", s: Schedule{Every: &ScheduleEvery{Interval: EveryDay, Count: 1}}},
		{name: "every zero count", s: Schedule{Every: &ScheduleEvery{Interval: EveryDay}}, wantErr: true},
		{name: "two variants", s: Schedule{
			At:    &ScheduleAt{Date: date},
			Every: &ScheduleEvery{Interval: EveryDay, Count: 1},
		}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestScheduleNextTriggerAt(t *testing.T) {
	t.Parallel()
	date := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

	s := Schedule{At: &ScheduleAt{Date: date}}
	ref := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := s.NextTrigger(ref); !got.Equal(date) {
		t.Fatalf("NextTrigger = %v, want %v", got, date)
	}

	// Past one-shot never fires again.
	ref = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	if got := s.NextTrigger(ref); !got.IsZero() {
		t.Fatalf("NextTrigger = %v, want zero", got)
	}

	// Past repeating recurs daily at the same wall-clock time.
	s = Schedule{At: &ScheduleAt{Date: date, Repeating: true}}
	ref = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	want := time.Date(2024, 7, 2, 9, 30, 0, 0, time.UTC)
	if got := s.NextTrigger(ref); !got.Equal(want) {
		t.Fatalf("NextTrigger = %v, want %v", got, want)
	}
}

func TestScheduleNextTriggerInterval(t *testing.T) {
	t.Parallel()
	s := Schedule{Interval: &ScheduleInterval{Interval: DateMatch{Hour: Int(23), Minute: Int(59)}}}
	ref := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	want := time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC)
	if got := s.NextTrigger(ref); !got.Equal(want) {
		t.Fatalf("NextTrigger = %v, want %v", got, want)
	}

	// Pinned pattern already in the past: done.
	s = Schedule{Interval: &ScheduleInterval{Interval: DateMatch{
		Year: Int(2020), Month: Int(0), Day: Int(1),
		Hour: Int(0), Minute: Int(0), Second: Int(0),
	}}}
	if got := s.NextTrigger(ref); !got.IsZero() {
		t.Fatalf("NextTrigger = %v, want zero", got)
	}
}

func TestScheduleNextTriggerEvery(t *testing.T) {
	t.Parallel()
	s := Schedule{Every: &ScheduleEvery{Interval: EveryHour, Count: 3}}
	ref := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	want := ref.Add(3 * time.Hour)
	if got := s.NextTrigger(ref); !got.Equal(want) {
		t.Fatalf("NextTrigger = %v, want %v", got, want)
	}
}

func TestScheduleRepeats(t *testing.T) {
	t.Parallel()
	date := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	if (&Schedule{At: &ScheduleAt{Date: date}}).Repeats() {
		t.Fatal("plain at-schedule must not repeat")
	}
	if !(&Schedule{At: &ScheduleAt{Date: date, Repeating: true}}).Repeats() {
		t.Fatal("repeating at-schedule must repeat")
	}
	if !(&Schedule{Interval: &ScheduleInterval{}}).Repeats() {
		t.Fatal("interval schedule must repeat")
	}
	if !(&Schedule{Every: &ScheduleEvery{Interval: EveryDay, Count: 1}}).Repeats() {
		t.Fatal("every schedule must repeat")
	}
}

func TestScheduleJSONRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		tag  string
	}{
		{
			name: "at",
			in:   `{"at":{"date":"2024-06-01T09:30:00Z","repeating":true}}`,
			tag:  `"at"`,
		},
		{
			name: "interval",
			in:   `{"interval":{"interval":{"hour":10,"minute":30},"allowWhileIdle":true}}`,
			tag:  `"interval"`,
		},
		{
			name: "every",
			in:   `{"every":{"interval":"twoWeeks","count":2}}`,
			tag:  `"every"`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var s Schedule
			if err := json.Unmarshal([]byte(tt.in), &s); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			b, err := json.Marshal(&s)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !strings.Contains(string(b), tt.tag) {
				t.Fatalf("marshal = %s, want tag %s", b, tt.tag)
			}
			var again Schedule
			if err := json.Unmarshal(b, &again); err != nil {
				t.Fatalf("re-unmarshal: %v", err)
			}
			b2, err := json.Marshal(&again)
			if err != nil {
				t.Fatalf("re-marshal: %v", err)
			}
			if string(b) != string(b2) {
				t.Fatalf("round trip drift: %s vs %s", b, b2)
			}
		})
	}
}

func TestScheduleJSONInvalid(t *testing.T) {
	t.Parallel()
	tests := []string{
		`{}`,
		`{"every":{"interval":"day","count":0}}`,
		`{"every":{"interval":"fortnight","count":1}}`,
		`{"at":{"date":"2024-06-01T09:30:00Z"},"every":{"interval":"day","count":1}}`,
	}
	for _, in := range tests {
		var s Schedule
		if err := json.Unmarshal([]byte(in), &s); err == nil {
			t.Errorf("unmarshal(%s): expected error", in)
		}
	}
}

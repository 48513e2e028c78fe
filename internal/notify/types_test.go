package notify

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"notifyd/internal/schedule"
)

func TestNotificationUnmarshalAssignsID(t *testing.T) {
	t.Parallel()
	var n Notification
	if err := json.Unmarshal([]byte(`{"title":"no id"}`), &n); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if n.ID == 0 {
		t.Fatal("missing id must be auto-assigned")
	}

	var m Notification
	if err := json.Unmarshal([]byte(`{"id":77,"title":"fixed"}`), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if m.ID != 77 {
		t.Fatalf("id = %d, want 77", m.ID)
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		n       Notification
		wantErr string
	}{
		{
			name: "ok minimal",
			n:    Notification{ID: 1, Title: "hi"},
		},
		{
			name:    "missing id",
			n:       Notification{Title: "hi"},
			wantErr: "id required",
		},
		{
			name: "inbox lines and large body conflict",
			n: Notification{
				ID:         1,
				InboxLines: []string{"a"},
				LargeBody:  "big",
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "too many inbox lines",
			n: Notification{
				ID:         1,
				InboxLines: []string{"1", "2", "3", "4", "5", "6"},
			},
			wantErr: "at most 5",
		},
		{
			name: "invalid schedule bubbles up",
			n: Notification{
				ID:       1,
				Schedule: &schedule.Schedule{},
			},
			wantErr: "no variant",
		},
		{
			name: "valid schedule",
			n: Notification{
				ID: 1,
				Schedule: &schedule.Schedule{
					At: &schedule.ScheduleAt{Date: time.Now().Add(time.Hour)},
				},
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.n.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestChannelValidate(t *testing.T) {
	t.Parallel()
	imp := ImportanceHigh
	bad := Importance(9)
	vis := VisibilityPublic

	if err := (&Channel{ID: "a", Name: "A", Importance: &imp, Visibility: &vis}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (&Channel{Name: "A"}).Validate(); err == nil {
		t.Fatal("expected error for missing id")
	}
	if err := (&Channel{ID: "a"}).Validate(); err == nil {
		t.Fatal("expected error for missing name")
	}
	if err := (&Channel{ID: "a", Name: "A", Importance: &bad}).Validate(); err == nil {
		t.Fatal("expected error for out-of-range importance")
	}
}

func TestNotificationJSONCamelCase(t *testing.T) {
	t.Parallel()
	n := Notification{ID: 3, ChannelID: "alerts", ActionTypeID: "reply", LargeBody: "body"}
	b, err := json.Marshal(&n)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, key := range []string{`"channelId"`, `"actionTypeId"`, `"largeBody"`} {
		if !strings.Contains(s, key) {
			t.Fatalf("marshal missing %s: %s", key, s)
		}
	}
}

package storage

import (
	"errors"
	"time"

	"notifyd/internal/notify"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// PendingRecord is a scheduled notification as persisted.
//
// Pattern is the flat-encoded calendar pattern ("* * * * 10 30 *" style)
// when the schedule is calendar-based, empty otherwise. It is stored
// redundantly with the payload so the schedule survives even when the
// JSON payload format moves, matching the historical on-disk layout.
type PendingRecord struct {
	Notification notify.Notification `json:"notification"`
	Pattern      string              `json:"pattern,omitempty"`
	NextFire     int64               `json:"nextFire"` // epoch millis
}

func (r PendingRecord) ID() int32 { return r.Notification.ID }

package delivery

import (
	"context"
	"time"

	"notifyd/internal/notify"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// MaxActive caps the active set; oldest entries are evicted first.
	MaxActive int
}

// Sink is a terminal surface a notification can be delivered to.
//
// Deliver must be safe for concurrent use and should honor ctx; the
// pipeline bounds each call with a timeout.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n notify.Notification) error
}

// HistoryItem is one recently delivered notification, kept for
// operator visibility.
type HistoryItem struct {
	At    time.Time
	ID    int32
	Title string
	Sink  string
}

package dispatch

import "time"

// Config controls timer dispatch.
type Config struct {
	// Timezone for calendar-pattern resolution, IANA name. Empty means
	// the process-local zone.
	Timezone string

	// JanitorSpec is the cron spec for the storage sweep.
	JanitorSpec string

	// Grace is how far past its instant a missed one-shot may still be
	// caught up instead of dropped.
	Grace time.Duration

	// MaxPending caps the number of armed notifications.
	MaxPending int
}

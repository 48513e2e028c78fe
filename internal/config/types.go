package config

import "notifyd/internal/notify"

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Dispatch controls timer scheduling and the storage janitor.
	Dispatch DispatchConfig `json:"dispatch"`

	// Delivery controls the async delivery pipeline. If omitted it
	// defaults to enabled with the log sink only.
	Delivery *DeliveryConfig `json:"delivery,omitempty"`

	// Telegram enables the Telegram sink when present.
	Telegram *TelegramConfig `json:"telegram,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`

	// Channels are provisioned into the registry at startup, so clients
	// can reference them without an explicit create call.
	Channels []notify.Channel `json:"channels,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig controls the trigger service.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DispatchConfig struct {
	// Timezone for calendar-pattern resolution, IANA name.
	Timezone string `json:"timezone,omitempty"`

	// JanitorSpec is a cron spec for the stale-record sweep.
	// Default: "@every 10m".
	JanitorSpec string `json:"janitor_spec,omitempty"`

	// Grace bounds how late a missed one-shot may still fire.
	// Default: "1h".
	Grace string `json:"grace,omitempty"`

	MaxPending int `json:"max_pending,omitempty"`
}

// DeliveryConfig controls the async delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DeliveryConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	MaxActive       int    `json:"max_active,omitempty"`
}

// TelegramConfig configures the send-only Telegram sink.
type TelegramConfig struct {
	Token          string `json:"token"`
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./notifyd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

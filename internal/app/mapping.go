package app

import (
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/delivery"
	"notifyd/internal/dispatch"
	"notifyd/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch dl := strings.ToLower(driver); dl {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	out := dispatch.Config{}
	if cfg == nil {
		return out, nil
	}
	dc := cfg.Dispatch
	out.Timezone = strings.TrimSpace(dc.Timezone)
	out.JanitorSpec = strings.TrimSpace(dc.JanitorSpec)
	out.MaxPending = dc.MaxPending

	grace, err := config.ParseDurationField("dispatch.grace", dc.Grace)
	if err != nil {
		return dispatch.Config{}, err
	}
	out.Grace = grace

	if tz := out.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return dispatch.Config{}, fmt.Errorf("dispatch.timezone: invalid %q: %w", tz, err)
		}
	}
	return out, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	// Omitted section means enabled with defaults.
	if cfg == nil || cfg.Delivery == nil {
		return delivery.Config{Enabled: true}, nil
	}
	dc := cfg.Delivery

	retryBase, err := config.ParseDurationField("delivery.retry_base", dc.RetryBase)
	if err != nil {
		return delivery.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("delivery.retry_max_delay", dc.RetryMaxDelay)
	if err != nil {
		return delivery.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("delivery.dedup_window", dc.DedupWindow)
	if err != nil {
		return delivery.Config{}, err
	}

	return delivery.Config{
		Enabled:         dc.Enabled,
		Workers:         dc.Workers,
		QueueSize:       dc.QueueSize,
		RatePerSec:      dc.RatePerSec,
		RetryMax:        dc.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: dc.DedupMaxEntries,
		MaxActive:       dc.MaxActive,
	}, nil
}

package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notifyd/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Dispatch
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.timezone", strings.TrimSpace(newCfg.Dispatch.Timezone)),
			logx.String("dispatch.janitor_spec", strings.TrimSpace(newCfg.Dispatch.JanitorSpec)),
			logx.String("dispatch.grace", strings.TrimSpace(newCfg.Dispatch.Grace)),
			logx.Int("dispatch.max_pending", newCfg.Dispatch.MaxPending),
		)
	}

	// Delivery. Section may be nil (omitted); treat nil as runtime
	// defaults for a more accurate summary.
	defD := &DeliveryConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       256,
		RatePerSec:      5,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
	}
	oldD := oldCfg.Delivery
	newD := newCfg.Delivery
	if oldD == nil {
		oldD = defD
	}
	if newD == nil {
		newD = defD
	}
	if !reflect.DeepEqual(*oldD, *newD) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Bool("delivery.enabled", newD.Enabled),
			logx.Int("delivery.workers", newD.Workers),
			logx.Int("delivery.queue_size", newD.QueueSize),
			logx.Int("delivery.rate_per_sec", newD.RatePerSec),
			logx.Int("delivery.retry_max", newD.RetryMax),
		)
	}

	// Telegram sink (never log token)
	var oTG, nTG TelegramConfig
	if oldCfg.Telegram != nil {
		oTG = *oldCfg.Telegram
	}
	if newCfg.Telegram != nil {
		nTG = *newCfg.Telegram
	}
	if (oldCfg.Telegram != nil) != (newCfg.Telegram != nil) ||
		oTG.ChatID != nTG.ChatID ||
		oTG.ThreadID != nTG.ThreadID ||
		oTG.ParseMode != nTG.ParseMode ||
		oTG.DisablePreview != nTG.DisablePreview ||
		(strings.TrimSpace(oTG.Token) != "") != (strings.TrimSpace(nTG.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.present", newCfg.Telegram != nil),
			logx.Bool("telegram.token_set", strings.TrimSpace(nTG.Token) != ""),
			logx.Bool("telegram.chat_set", nTG.ChatID != 0),
		)
	}

	// Storage. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Channel seeds
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		attrs = append(attrs, logx.Int("channels.count", len(newCfg.Channels)))
	}

	sort.Strings(changed)
	return changed, attrs
}

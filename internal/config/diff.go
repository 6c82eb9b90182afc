package config

import (
	"strings"

	logx "tgcast/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and safe log fields for them.
// The bot token is never logged, only whether it changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	fields := make([]logx.Field, 0, 12)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
		)
	}
	if oldCfg.DaysLimit != newCfg.DaysLimit {
		changed = append(changed, "days_limit")
		fields = append(fields, logx.Int("days_limit", newCfg.DaysLimit))
	}
	if oldCfg.BroadcastMessage != newCfg.BroadcastMessage {
		changed = append(changed, "broadcast_message")
		fields = append(fields, logx.Int("broadcast_message.len", len([]rune(newCfg.BroadcastMessage))))
	}
	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		fields = append(fields,
			logx.String("broadcast.delay", newCfg.Broadcast.Delay),
			logx.Bool("broadcast.delay_after_failure", newCfg.Broadcast.DelayAfterFailure),
		)
	}
	if oldCfg.Snapshot != newCfg.Snapshot {
		changed = append(changed, "snapshot")
		fields = append(fields, logx.String("snapshot.path", newCfg.Snapshot.Path))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		fields = append(fields, logx.String("schedule.collect", newCfg.Schedule.Collect))
	}
	if storageChanged(oldCfg.Storage, newCfg.Storage) {
		// Storage and metrics are bound at startup; report them so the operator knows to restart.
		changed = append(changed, "storage(restart)")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics(restart)")
	}
	return changed, fields
}

func storageChanged(a, b *StorageConfig) bool {
	if a == nil || b == nil {
		return (a == nil) != (b == nil)
	}
	return *a != *b
}

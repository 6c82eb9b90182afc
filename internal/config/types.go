package config

import (
	"errors"
	"fmt"
	"strings"

	"tgcast/internal/services/broadcast"
	"tgcast/internal/services/scheduler"
	"tgcast/internal/snapshot"
	"tgcast/internal/storage"
	logx "tgcast/pkg/logx"
)

// ErrConfigMissing is returned by Load on first run, after a template has been written.
var ErrConfigMissing = errors.New("config missing")

type Config struct {
	Telegram TelegramConfig `json:"telegram"`

	// DaysLimit is the recency threshold for collect, in days.
	DaysLimit        int    `json:"days_limit"`
	BroadcastMessage string `json:"broadcast_message"`

	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Snapshot  SnapshotConfig  `json:"snapshot,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Schedule  ScheduleConfig  `json:"schedule,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outgoing API calls. Telegram allows ~30 msg/s per bot.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// BroadcastConfig controls pacing. Delay is a Go duration string, default "2s".
type BroadcastConfig struct {
	Delay             string `json:"delay,omitempty"`
	DelayAfterFailure bool   `json:"delay_after_failure,omitempty"`
}

type SnapshotConfig struct {
	Path string `json:"path,omitempty"`
}

// StorageConfig controls the conversation registry and audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tgcast.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
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

// ScheduleConfig enables automatic collect runs.
// Collect accepts cron ("0 */6 * * *", "@hourly") or an interval ("6h", "02:30").
type ScheduleConfig struct {
	Collect  string `json:"collect,omitempty"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ for cron expressions; empty means Local
}

type MetricsConfig struct {
	Addr  string `json:"addr,omitempty"` // e.g. "127.0.0.1:9464"; empty disables
	Pprof bool   `json:"pprof,omitempty"`
}

// Default returns the first-run template.
func Default() *Config {
	return &Config{
		Telegram:         TelegramConfig{Token: "YOUR_BOT_TOKEN", PollTimeout: "10s", RatePerSec: 25},
		DaysLimit:        30,
		BroadcastMessage: "Hi! This is a test message.",
		Broadcast:        BroadcastConfig{Delay: "2s"},
		Snapshot:         SnapshotConfig{Path: snapshot.DefaultPath},
		Storage:          &StorageConfig{Driver: "file", Path: "./data/tgcast"},
		Logging:          LoggingConfig{Level: "info", Console: true},
	}
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.DaysLimit <= 0 {
		errs = append(errs, fmt.Errorf("days_limit must be > 0, got %d", c.DaysLimit))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("broadcast.delay", c.Broadcast.Delay); err != nil {
		errs = append(errs, err)
	}
	if raw := strings.TrimSpace(c.Schedule.Collect); raw != "" {
		if _, err := scheduler.ParseSchedule(raw); err != nil {
			errs = append(errs, fmt.Errorf("schedule.collect: %w", err))
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BroadcastSettings converts the pacing block. Call Validate first.
func (c *Config) BroadcastSettings() broadcast.Config {
	d, err := ParseDurationField("broadcast.delay", c.Broadcast.Delay)
	if err != nil || strings.TrimSpace(c.Broadcast.Delay) == "" {
		d = broadcast.DefaultDelay
	}
	return broadcast.Config{Delay: d, DelayAfterFailure: c.Broadcast.DelayAfterFailure}
}

func (c *Config) StorageSettings() storage.Config {
	if c.Storage == nil {
		return storage.Config{}
	}
	bt, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: bt}
}

func (c *Config) LogSettings() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

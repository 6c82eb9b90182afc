package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

const ActionBroadcast = "broadcast"

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal + snapshot next to Path
//   - "sqlite": SQLite database file
//   - "memory": process memory only
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Conversation is a chat the bot has observed activity in.
type Conversation struct {
	ChatID       int64     `json:"chat_id"`
	Name         string    `json:"name"`
	LastActivity time.Time `json:"last_activity"`
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	RunID    string    `json:"run_id"`
	Action   string    `json:"action"`
	OK       int       `json:"ok"`
	Fail     int       `json:"fail"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
	MetaJSON string    `json:"meta,omitempty"`
}

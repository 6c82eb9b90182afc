package storage

import (
	"context"
	"errors"
	"sort"
	"strings"

	logx "tgcast/pkg/logx"
)

// Store is the persistence API behind the conversation registry and the audit log.
type Store interface {
	// TouchConversation upserts c. An older LastActivity never overwrites a newer one.
	TouchConversation(ctx context.Context, c Conversation) error
	// ListConversations returns every known conversation, most recent activity first.
	ListConversations(ctx context.Context) ([]Conversation, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	// LastAudit returns the most recent entry for action.
	LastAudit(ctx context.Context, action string) (AuditEntry, bool, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// sortConversations orders by most recent activity, then chat id for stability.
func sortConversations(cs []Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].LastActivity.Equal(cs[j].LastActivity) {
			return cs[i].LastActivity.After(cs[j].LastActivity)
		}
		return cs[i].ChatID < cs[j].ChatID
	})
}

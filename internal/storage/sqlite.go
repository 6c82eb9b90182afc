package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tgcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) TouchConversation(ctx context.Context, c Conversation) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if c.ChatID == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(chat_id, name, last_activity) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   name = CASE WHEN trim(excluded.name) <> '' THEN excluded.name ELSE conversations.name END,
		   last_activity = max(conversations.last_activity, excluded.last_activity)`,
		c.ChatID, strings.TrimSpace(c.Name), c.LastActivity.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, name, last_activity FROM conversations ORDER BY last_activity DESC, chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c  Conversation
			ms int64
		)
		if err := rows.Scan(&c.ChatID, &c.Name, &ms); err != nil {
			return nil, err
		}
		c.LastActivity = time.UnixMilli(ms)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, run_id, action, ok, fail, err, took_ms, meta) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.RunID, e.Action, e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) LastAudit(ctx context.Context, action string) (AuditEntry, bool, error) {
	if s == nil || s.db == nil {
		return AuditEntry{}, false, ErrDisabled
	}
	var (
		e      AuditEntry
		at     string
		errStr sql.NullString
		meta   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT at, run_id, action, ok, fail, err, took_ms, meta FROM audit WHERE action = ? ORDER BY id DESC LIMIT 1`,
		action,
	).Scan(&at, &e.RunID, &e.Action, &e.OK, &e.Fail, &errStr, &e.TookMS, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return AuditEntry{}, false, nil
	}
	if err != nil {
		return AuditEntry{}, false, err
	}
	e.At, _ = time.Parse(time.RFC3339Nano, at)
	e.Error = errStr.String
	e.MetaJSON = meta.String
	return e, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

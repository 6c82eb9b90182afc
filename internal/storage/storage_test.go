package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "tgcast/pkg/logx"
)

func openBoth(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for driver, path := range map[string]string{
		"file":   filepath.Join(dir, "file", "tgcast"),
		"sqlite": filepath.Join(dir, "sqlite", "tgcast.db"),
	} {
		st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	out["memory"] = NewMemory()
	return out
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = %v, %v; want nil, nil", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestConversationRegistry(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openBoth(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			touch := func(c Conversation) {
				t.Helper()
				if err := st.TouchConversation(ctx, c); err != nil {
					t.Fatalf("TouchConversation: %v", err)
				}
			}
			touch(Conversation{ChatID: 1, Name: "alice", LastActivity: base})
			touch(Conversation{ChatID: 2, Name: "group", LastActivity: base.Add(time.Hour)})
			touch(Conversation{ChatID: 1, Name: "", LastActivity: base.Add(2 * time.Hour)})
			// Older activity never rewinds.
			touch(Conversation{ChatID: 2, Name: "group renamed", LastActivity: base})

			got, err := st.ListConversations(ctx)
			if err != nil {
				t.Fatalf("ListConversations: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2: %+v", len(got), got)
			}
			if got[0].ChatID != 1 || got[0].Name != "alice" || !got[0].LastActivity.Equal(base.Add(2*time.Hour)) {
				t.Fatalf("first = %+v", got[0])
			}
			if got[1].ChatID != 2 || got[1].Name != "group renamed" || !got[1].LastActivity.Equal(base.Add(time.Hour)) {
				t.Fatalf("second = %+v", got[1])
			}
		})
	}
}

func TestConversationNameTrimmedOnInsert(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for name, st := range openBoth(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.TouchConversation(ctx, Conversation{ChatID: 7, Name: "  alice  ", LastActivity: at}); err != nil {
				t.Fatalf("TouchConversation: %v", err)
			}
			// Same name, padded differently: not a rename.
			if err := st.TouchConversation(ctx, Conversation{ChatID: 7, Name: "alice ", LastActivity: at}); err != nil {
				t.Fatalf("TouchConversation: %v", err)
			}
			got, err := st.ListConversations(ctx)
			if err != nil {
				t.Fatalf("ListConversations: %v", err)
			}
			if len(got) != 1 || got[0].Name != "alice" {
				t.Fatalf("got %+v, want one conversation named %q", got, "alice")
			}
		})
	}
}

func TestFileStoreReplayTrimsNames(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tgcast")
	cfg := Config{Driver: "file", Path: path}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.TouchConversation(context.Background(), Conversation{ChatID: 9, Name: " bob\t", LastActivity: time.Now()}); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	_ = st.Close()

	st, err = Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 1 || got[0].Name != "bob" {
		t.Fatalf("got %+v, want bob", got)
	}
}

func TestAuditLastEntry(t *testing.T) {
	t.Parallel()
	for name, st := range openBoth(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := st.LastAudit(ctx, ActionBroadcast); err != nil || ok {
				t.Fatalf("LastAudit on empty = %v, %v", ok, err)
			}
			for i, run := range []string{"run-1", "run-2"} {
				e := AuditEntry{At: time.Now(), RunID: run, Action: ActionBroadcast, OK: i + 1, Fail: i}
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatalf("AppendAudit: %v", err)
				}
			}
			if err := st.AppendAudit(ctx, AuditEntry{At: time.Now(), RunID: "other", Action: "collect"}); err != nil {
				t.Fatalf("AppendAudit: %v", err)
			}
			e, ok, err := st.LastAudit(ctx, ActionBroadcast)
			if err != nil || !ok {
				t.Fatalf("LastAudit = %v, %v", ok, err)
			}
			if e.RunID != "run-2" || e.OK != 2 || e.Fail != 1 {
				t.Fatalf("unexpected entry: %+v", e)
			}
		})
	}
}

func TestFileStoreReopenReplaysJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tgcast")
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.TouchConversation(context.Background(), Conversation{ChatID: 5, Name: "x", LastActivity: at}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	got, _ := st.ListConversations(context.Background())
	if len(got) != 1 || got[0].ChatID != 5 || !got[0].LastActivity.Equal(at) {
		t.Fatalf("after reopen: %+v", got)
	}
}

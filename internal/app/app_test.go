package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tgcast/internal/config"
	"tgcast/internal/storage"
	kit "tgcast/internal/transport"
)

type fakeClient struct {
	mu      sync.Mutex
	dialogs []kit.Dialog
	fail    map[int64]bool
	sent    []int64
	started bool
	stopped bool
}

func (f *fakeClient) ListConversations(context.Context) ([]kit.Dialog, error) {
	return f.dialogs, nil
}

func (f *fakeClient) Send(_ context.Context, chatID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID)
	if f.fail[chatID] {
		return errors.New("blocked by user")
	}
	return nil
}

func (f *fakeClient) Start(context.Context) error { f.started = true; return nil }
func (f *fakeClient) Stop(context.Context) error  { f.stopped = true; return nil }

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{
  "telegram": {"token": "123:test"},
  "days_limit": 7,
  "broadcast_message": "hello",
  "broadcast": {"delay": "0s"},
  "snapshot": {"path": %q},
  "storage": {"driver": "memory", "path": ""},
  "logging": {"level": "error", "console": true, "file": {"enabled": false, "path": ""}}
}`, filepath.Join(dir, "users.txt"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestApp(t *testing.T, client *fakeClient) *App {
	t.Helper()
	a, err := New(writeConfig(t, t.TempDir()), WithClient(client))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestNewFirstRunReturnsConfigMissing(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := New(path, WithClient(&fakeClient{}))
	if !errors.Is(err, config.ErrConfigMissing) {
		t.Fatalf("New = %v, want ErrConfigMissing", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("template not written: %v", statErr)
	}
}

func TestCollectThenBroadcast(t *testing.T) {
	t.Parallel()
	now := time.Now()
	client := &fakeClient{
		dialogs: []kit.Dialog{
			{ID: 1, Name: "alice", LastActivity: now.Add(-time.Hour)},
			{ID: 2, Name: "stale", LastActivity: now.AddDate(0, 0, -30)},
			{ID: 3, Name: "bob", LastActivity: now.Add(-48 * time.Hour)},
		},
		fail: map[int64]bool{3: true},
	}
	a := newTestApp(t, client)
	ctx := context.Background()

	n, err := a.Collect(ctx, nil)
	if err != nil || n != 2 {
		t.Fatalf("Collect = %d, %v; want 2", n, err)
	}

	out, err := a.Broadcast(ctx, func(context.Context, int, string) bool { return true }, nil)
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if out.Succeeded != 1 || out.Failed != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(client.sent) != 2 || client.sent[0] != 1 || client.sent[1] != 3 {
		t.Fatalf("sent = %v, want [1 3]", client.sent)
	}

	st, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Total != 2 || st.DaysLimit != 7 || !st.HasLastBroadcast || st.LastBroadcast.Fail != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestBroadcastEmptySnapshot(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	a := newTestApp(t, client)
	asked := false
	_, err := a.Broadcast(context.Background(), func(context.Context, int, string) bool {
		asked = true
		return true
	}, nil)
	if !errors.Is(err, ErrEmptySnapshot) {
		t.Fatalf("Broadcast = %v, want ErrEmptySnapshot", err)
	}
	if asked || len(client.sent) != 0 {
		t.Fatal("empty snapshot must not prompt or send")
	}
}

func TestStartStopOwnsClient(t *testing.T) {
	t.Parallel()
	client := &fakeClient{}
	a, err := New(writeConfig(t, t.TempDir()), WithClient(client), WithStore(storage.NewMemory()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !client.started {
		t.Fatal("client not started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !client.stopped {
		t.Fatal("client not stopped")
	}
}

func TestApplyUpdatesSettings(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, &fakeClient{})
	cfg := config.Default()
	cfg.DaysLimit = 3
	cfg.BroadcastMessage = "changed"
	cfg.Logging.Level = "error"
	a.apply(cfg)
	if s := a.current(); s.daysLimit != 3 || s.message != "changed" {
		t.Fatalf("settings = %+v", s)
	}
}

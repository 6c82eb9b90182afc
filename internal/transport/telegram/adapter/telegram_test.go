package adapter

import (
	"context"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgcast/internal/storage"
	kit "tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

func newOffline(t *testing.T) (*Adapter, storage.Store) {
	t.Helper()
	reg := storage.NewMemory()
	a, err := New(Config{Token: "123:test", Offline: true}, reg, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, reg
}

func TestNewRequiresTokenAndRegistry(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: " "}, storage.NewMemory(), logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:test", Offline: true}, nil, logx.Nop()); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestChatName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		chat *tele.Chat
		want string
	}{
		{nil, ""},
		{&tele.Chat{Title: "Go Nuts", FirstName: "x"}, "Go Nuts"},
		{&tele.Chat{FirstName: "Ada", LastName: "Lovelace", Username: "ada"}, "Ada Lovelace"},
		{&tele.Chat{FirstName: "Ada"}, "Ada"},
		{&tele.Chat{Username: "ada"}, "ada"},
		{&tele.Chat{}, ""},
	}
	for _, tc := range cases {
		if got := chatName(tc.chat); got != tc.want {
			t.Errorf("chatName(%+v) = %q, want %q", tc.chat, got, tc.want)
		}
	}
}

func TestRecordFeedsListConversations(t *testing.T) {
	t.Parallel()
	a, _ := newOffline(t)
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	a.record(kit.Activity{Kind: kit.ActivityMessage, ChatID: 10, Name: "alice", At: now.Add(-48 * time.Hour)})
	a.record(kit.Activity{Kind: kit.ActivityCallback, ChatID: 20, Name: "team"})
	a.record(kit.Activity{Kind: kit.ActivityMessage, ChatID: 0, Name: "ignored", At: now})

	got, err := a.ListConversations(context.Background())
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].ID != 20 || !got[0].LastActivity.Equal(now) {
		t.Fatalf("first = %+v, want chat 20 stamped now", got[0])
	}
	if got[1].ID != 10 || got[1].Name != "alice" {
		t.Fatalf("second = %+v", got[1])
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("hello", 10); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("short text split: %q", got)
	}

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(long, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("newline split: %q", got)
	}

	got = splitTelegramText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("hard split: %q", got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	a, _ := newOffline(t)
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

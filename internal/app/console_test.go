package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"tgcast/internal/services/broadcast"
	"tgcast/internal/snapshot"
	"tgcast/internal/storage"
)

type fakeOps struct {
	collected  []snapshot.Record
	records    []snapshot.Record
	broadcasts int
	confirmed  []bool
}

func (f *fakeOps) Collect(_ context.Context, onRecord func(snapshot.Record)) (int, error) {
	for _, r := range f.collected {
		onRecord(r)
	}
	f.records = f.collected
	return len(f.collected), nil
}

func (f *fakeOps) Broadcast(ctx context.Context, confirm broadcast.ConfirmFunc, onResult func(broadcast.Result)) (broadcast.Outcome, error) {
	f.broadcasts++
	if len(f.records) == 0 {
		return broadcast.Outcome{}, ErrEmptySnapshot
	}
	ok := confirm(ctx, len(f.records), "hello")
	f.confirmed = append(f.confirmed, ok)
	if !ok {
		return broadcast.Outcome{Declined: true}, nil
	}
	out := broadcast.Outcome{Attempted: len(f.records)}
	for i, r := range f.records {
		res := broadcast.Result{Record: r}
		if i%2 == 1 {
			res.Err = errors.New("forbidden")
			out.Failed++
		} else {
			out.Succeeded++
		}
		onResult(res)
	}
	return out, nil
}

func (f *fakeOps) Stats(context.Context) (Stats, error) {
	return Stats{
		Total:            len(f.records),
		DaysLimit:        30,
		Records:          f.records,
		LastBroadcast:    storage.AuditEntry{At: time.Now().Add(-time.Hour), OK: 1200, Fail: 3},
		HasLastBroadcast: true,
	}, nil
}

func runConsole(t *testing.T, ops Operations, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := NewConsole(ops, strings.NewReader(input), &out)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out.String()
}

func records(n int) []snapshot.Record {
	out := make([]snapshot.Record, n)
	for i := range out {
		out[i] = snapshot.Record{ID: int64(i + 1), Name: fmt.Sprintf("chat-%d", i+1), LastActivity: "2026-10-17 10:00:00"}
	}
	return out
}

func TestConsoleInvalidAndExit(t *testing.T) {
	t.Parallel()
	out := runConsole(t, &fakeOps{}, "9\nhello\n0\n3\n")
	if strings.Count(out, "Invalid command") != 2 {
		t.Fatalf("expected two invalid command responses:\n%s", out)
	}
	if !strings.Contains(out, "Bye.") || strings.Contains(out, "Chats in snapshot") {
		t.Fatalf("console should stop at 0:\n%s", out)
	}
}

func TestConsoleEndOfInputExits(t *testing.T) {
	t.Parallel()
	out := runConsole(t, &fakeOps{}, "")
	if !strings.Contains(out, "1. Collect active chats") {
		t.Fatalf("menu not printed:\n%s", out)
	}
}

func TestConsoleBroadcastEmptyHintsCollect(t *testing.T) {
	t.Parallel()
	ops := &fakeOps{}
	out := runConsole(t, ops, "2\n0\n")
	if !strings.Contains(out, "Run collect (1) first") {
		t.Fatalf("missing hint:\n%s", out)
	}
}

func TestConsoleCollectAndBroadcast(t *testing.T) {
	t.Parallel()
	ops := &fakeOps{collected: records(2)}
	out := runConsole(t, ops, "1\n2\nn\n2\ny\n0\n")

	if !strings.Contains(out, "+ chat-1 (1)") || !strings.Contains(out, "Collected 2 chats.") {
		t.Fatalf("collect output:\n%s", out)
	}
	if len(ops.confirmed) != 2 || ops.confirmed[0] || !ops.confirmed[1] {
		t.Fatalf("confirmed = %v, want [false true]", ops.confirmed)
	}
	if !strings.Contains(out, "Broadcast cancelled.") {
		t.Fatalf("decline not reported:\n%s", out)
	}
	if !strings.Contains(out, "failed chat-2 (2): forbidden") || !strings.Contains(out, "Done: 1 sent, 1 failed.") {
		t.Fatalf("broadcast output:\n%s", out)
	}
}

func TestConsoleConfirmAtEndOfInputDeclines(t *testing.T) {
	t.Parallel()
	ops := &fakeOps{records: records(1)}
	out := runConsole(t, ops, "2\n")
	if len(ops.confirmed) != 1 || ops.confirmed[0] {
		t.Fatalf("confirmed = %v, want [false]", ops.confirmed)
	}
	if !strings.Contains(out, "Broadcast cancelled.") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestConsoleStatsListsFirstRecords(t *testing.T) {
	t.Parallel()
	ops := &fakeOps{records: records(StatsPreview + 5)}
	var out bytes.Buffer
	c := NewConsole(ops, strings.NewReader("3\n0\n"), &out)
	c.Now = func() time.Time { return time.Date(2026, 10, 18, 10, 0, 0, 0, time.Local) }
	if err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"Chats in snapshot: 20",
		"Days limit: 30",
		"15. chat-15 (15)",
		"1 day ago",
		"... and 5 more",
		"1,200 sent, 3 failed",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("stats output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "chat-16") {
		t.Errorf("stats listed more than %d records:\n%s", StatsPreview, got)
	}
}

func TestConsoleStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	c := NewConsole(&fakeOps{}, strings.NewReader("1\n"), &out)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConsoleExec(t *testing.T) {
	t.Parallel()
	ops := &fakeOps{records: records(1)}
	var out bytes.Buffer
	c := NewConsole(ops, strings.NewReader("y\n"), &out)
	if !c.Exec(context.Background(), "2") {
		t.Fatal("Exec(2) not recognized")
	}
	if c.Exec(context.Background(), "0") || c.Exec(context.Background(), "x") {
		t.Fatal("Exec accepted a non-command token")
	}
	if !strings.Contains(out.String(), "Done: 1 sent, 0 failed.") {
		t.Fatalf("output:\n%s", out.String())
	}
}

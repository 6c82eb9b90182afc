package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tgcast/internal/services/broadcast"
	"tgcast/internal/snapshot"
)

// StatsPreview is how many records the statistics view lists.
const StatsPreview = 15

// Operations is what the console drives. *App implements it.
type Operations interface {
	Collect(ctx context.Context, onRecord func(snapshot.Record)) (int, error)
	Broadcast(ctx context.Context, confirm broadcast.ConfirmFunc, onResult func(broadcast.Result)) (broadcast.Outcome, error)
	Stats(ctx context.Context) (Stats, error)
}

var _ Operations = (*App)(nil)

// Console is the interactive command loop.
type Console struct {
	ops Operations
	in  io.Reader
	out io.Writer

	// Now anchors the humanized ages in the statistics view.
	Now func() time.Time

	lines <-chan string
}

func NewConsole(ops Operations, in io.Reader, out io.Writer) *Console {
	return &Console{ops: ops, in: in, out: out, Now: time.Now}
}

// Run reads commands until "0", end of input, or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	for {
		c.menu()
		line, ok := c.next(ctx)
		if !ok {
			c.printf("\n")
			return nil
		}
		if line == "0" {
			c.printf("Bye.\n")
			return nil
		}
		if !c.Exec(ctx, line) {
			c.printf("Invalid command %q, try again.\n", line)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Exec runs one command token ("1" collect, "2" broadcast, "3" statistics).
// It reports false for anything else.
func (c *Console) Exec(ctx context.Context, token string) bool {
	switch token {
	case "1":
		c.collect(ctx)
	case "2":
		c.broadcast(ctx)
	case "3":
		c.stats(ctx)
	default:
		return false
	}
	return true
}

func (c *Console) menu() {
	c.printf("\n1. Collect active chats\n2. Broadcast message\n3. Show statistics\n0. Exit\n> ")
}

func (c *Console) collect(ctx context.Context) {
	c.printf("Collecting chats...\n")
	n, err := c.ops.Collect(ctx, func(r snapshot.Record) {
		c.printf("  + %s (%d), last active %s\n", displayName(r.Name), r.ID, r.LastActivity)
	})
	if err != nil {
		c.printf("Collect failed: %v\n", err)
		return
	}
	c.printf("Collected %d chats.\n", n)
}

func (c *Console) broadcast(ctx context.Context) {
	confirm := func(ctx context.Context, total int, message string) bool {
		c.printf("Message:\n%s\n\nSend it to %d chats? [y/N]: ", message, total)
		answer, ok := c.next(ctx)
		if !ok {
			return false
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true
		}
		return false
	}
	onResult := func(r broadcast.Result) {
		if r.OK() {
			c.printf("  sent   %s (%d)\n", displayName(r.Record.Name), r.Record.ID)
			return
		}
		c.printf("  failed %s (%d): %v\n", displayName(r.Record.Name), r.Record.ID, r.Err)
	}

	out, err := c.ops.Broadcast(ctx, confirm, onResult)
	switch {
	case errors.Is(err, ErrEmptySnapshot):
		c.printf("No chats in the snapshot. Run collect (1) first.\n")
		return
	case out.Declined:
		c.printf("Broadcast cancelled.\n")
		return
	case err != nil && out.Attempted == 0:
		c.printf("Broadcast failed: %v\n", err)
		return
	case err != nil:
		c.printf("Broadcast interrupted: %v\n", err)
	}
	c.printf("Done: %d sent, %d failed.\n", out.Succeeded, out.Failed)
}

func (c *Console) stats(ctx context.Context) {
	st, err := c.ops.Stats(ctx)
	if err != nil {
		c.printf("Statistics unavailable: %v\n", err)
		return
	}
	c.printf("Chats in snapshot: %d\nDays limit: %d\n", st.Total, st.DaysLimit)
	now := c.Now()
	for i, r := range st.Records {
		if i == StatsPreview {
			c.printf("  ... and %d more\n", st.Total-StatsPreview)
			break
		}
		age := "unknown"
		if t, err := r.Activity(); err == nil {
			age = humanize.RelTime(t, now, "ago", "from now")
		}
		c.printf("  %2d. %s (%d), last active %s (%s)\n", i+1, displayName(r.Name), r.ID, r.LastActivity, age)
	}
	if st.HasLastBroadcast {
		lb := st.LastBroadcast
		c.printf("Last broadcast: %s, %s sent, %s failed\n",
			humanize.RelTime(lb.At, now, "ago", "from now"), humanize.Comma(int64(lb.OK)), humanize.Comma(int64(lb.Fail)))
	}
}

// next returns the next trimmed input line; false at end of input or when ctx is done.
func (c *Console) next(ctx context.Context) (string, bool) {
	if c.lines == nil {
		c.lines = readLines(ctx, c.in)
	}
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-c.lines:
		return line, ok
	}
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// readLines feeds input lines to a channel so reads can be abandoned on cancel.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "(no name)"
	}
	return name
}

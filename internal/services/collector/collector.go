package collector

import (
	"context"
	"fmt"
	"time"

	"tgcast/internal/metrics"
	"tgcast/internal/snapshot"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

// Writer is the part of the snapshot store the collector needs.
type Writer interface {
	Write(records []snapshot.Record) error
}

type Collector struct {
	store Writer
	log   logx.Logger

	// Now is the clock used for the recency cutoff.
	Now func() time.Time
	// OnRecord, if set, is called for every included conversation.
	OnRecord func(snapshot.Record)
}

func New(store Writer, log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Collector{store: store, log: log.With(logx.String("comp", "collector")), Now: time.Now}
}

// Collect keeps conversations active within the last daysLimit days, in client
// order, and replaces the snapshot with them. Conversations without an activity
// value are excluded.
func (c *Collector) Collect(ctx context.Context, client transport.Lister, daysLimit int) (int, error) {
	if daysLimit <= 0 {
		return 0, fmt.Errorf("days limit must be > 0, got %d", daysLimit)
	}
	now := c.Now()
	cutoff := now.AddDate(0, 0, -daysLimit)
	c.log.Info("collect started", logx.Int("days_limit", daysLimit), logx.Time("cutoff", cutoff))

	dialogs, err := client.ListConversations(ctx)
	if err != nil {
		return 0, fmt.Errorf("list conversations: %w", err)
	}

	records := make([]snapshot.Record, 0, len(dialogs))
	for _, d := range dialogs {
		if d.LastActivity.IsZero() || d.LastActivity.Before(cutoff) {
			continue
		}
		r := snapshot.Record{ID: d.ID, Name: d.Name, LastActivity: snapshot.FormatActivity(d.LastActivity)}
		records = append(records, r)
		c.log.Debug("conversation included", logx.Int64("chat_id", d.ID), logx.String("name", d.Name))
		if c.OnRecord != nil {
			c.OnRecord(r)
		}
	}

	if err := c.store.Write(records); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	metrics.CollectedChats.Set(float64(len(records)))
	c.log.Info("collect finished", logx.Int("seen", len(dialogs)), logx.Int("collected", len(records)))
	return len(records), nil
}

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tgcast/internal/metrics"
	"tgcast/internal/snapshot"
	"tgcast/internal/storage"
	"tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

// Auditor records finished runs. storage.Store satisfies it.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	audit Auditor

	// sleep waits d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// OnResult, if set, is called after every send attempt.
	OnResult func(Result)
}

func New(cfg Config, log logx.Logger, audit Auditor) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "broadcast")),
		audit: audit,
		sleep: sleepCtx,
		now:   time.Now,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps pacing settings; it takes effect on the next run.
func (s *Service) Apply(cfg Config) {
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Broadcast sends message once to every record, in order.
//
// A nil or declining confirm returns a zero Outcome with Declined set and no
// sends. The returned error is non-nil only when ctx is cancelled mid-run; the
// Outcome then covers the records attempted so far.
func (s *Service) Broadcast(ctx context.Context, client transport.Sender, records []snapshot.Record, message string, confirm ConfirmFunc) (Outcome, error) {
	if confirm == nil || !confirm(ctx, len(records), message) {
		metrics.BroadcastRuns.WithLabelValues("declined").Inc()
		s.log.Info("broadcast declined", logx.Int("total", len(records)))
		return Outcome{Declined: true}, nil
	}
	metrics.BroadcastRuns.WithLabelValues("confirmed").Inc()

	cfg := s.config()
	out := Outcome{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
		Results:   make([]Result, 0, len(records)),
	}
	log := s.log.With(logx.String("run", out.RunID))
	log.Info("broadcast started", logx.Int("total", len(records)), logx.Duration("delay", cfg.Delay))

	var runErr error
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		err := client.Send(ctx, r.ID, message)
		out.Attempted++
		res := Result{Record: r}
		if err != nil {
			res.Err = fmt.Errorf("%w: chat %d: %w", ErrSendFailed, r.ID, err)
			out.Failed++
			metrics.BroadcastSends.WithLabelValues("failed").Inc()
			log.Warn("broadcast send failed", logx.Int64("chat_id", r.ID), logx.String("name", r.Name), logx.Err(err))
		} else {
			out.Succeeded++
			metrics.BroadcastSends.WithLabelValues("sent").Inc()
			log.Debug("broadcast sent", logx.Int64("chat_id", r.ID), logx.String("name", r.Name))
		}
		out.Results = append(out.Results, res)
		if s.OnResult != nil {
			s.OnResult(res)
		}

		// Pace after successful sends only, unless configured otherwise.
		if res.OK() || cfg.DelayAfterFailure {
			if err := s.sleep(ctx, cfg.Delay); err != nil {
				runErr = err
				break
			}
		}
	}
	out.DoneAt = s.now()

	fields := []logx.Field{
		logx.Int("attempted", out.Attempted),
		logx.Int("succeeded", out.Succeeded),
		logx.Int("failed", out.Failed),
		logx.Duration("dur", out.DoneAt.Sub(out.StartedAt)),
	}
	switch {
	case runErr != nil:
		log.Warn("broadcast interrupted", append(fields, logx.Err(runErr))...)
	case out.Failed > 0:
		log.Warn("broadcast finished with failures", fields...)
	default:
		log.Info("broadcast finished", fields...)
	}

	s.appendAudit(ctx, out, message, runErr)
	return out, runErr
}

func (s *Service) appendAudit(ctx context.Context, out Outcome, message string, runErr error) {
	if s.audit == nil {
		return
	}
	failed := make([]int64, 0, out.Failed)
	for _, r := range out.Failures() {
		failed = append(failed, r.Record.ID)
	}
	meta, _ := json.Marshal(map[string]any{"message": message, "failed_ids": failed})
	e := storage.AuditEntry{
		At:       out.DoneAt,
		RunID:    out.RunID,
		Action:   storage.ActionBroadcast,
		OK:       out.Succeeded,
		Fail:     out.Failed,
		TookMS:   out.DoneAt.Sub(out.StartedAt).Milliseconds(),
		MetaJSON: string(meta),
	}
	if runErr != nil {
		e.Error = runErr.Error()
	}
	// Record the run even if ctx was cancelled mid-way.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.audit.AppendAudit(actx, e); err != nil {
		s.log.Warn("broadcast audit failed", logx.String("run", out.RunID), logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

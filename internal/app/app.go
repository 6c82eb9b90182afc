package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tgcast/internal/config"
	"tgcast/internal/metrics"
	"tgcast/internal/runtime/supervisor"
	"tgcast/internal/services/broadcast"
	"tgcast/internal/services/collector"
	"tgcast/internal/services/scheduler"
	"tgcast/internal/snapshot"
	"tgcast/internal/storage"
	kit "tgcast/internal/transport"
	telegram "tgcast/internal/transport/telegram/adapter"
	logx "tgcast/pkg/logx"
)

// ErrEmptySnapshot is returned by Broadcast when there is nothing to send.
var ErrEmptySnapshot = errors.New("snapshot is empty")

// JobCollect is the scheduler name of the automatic collect.
const JobCollect = "collect"

// App owns the messaging client handle and everything built around it.
// Every App returned by New must be stopped, including on early-return paths.
type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store

	client    kit.Client
	snap      *snapshot.Store
	collector *collector.Collector
	caster    *broadcast.Service
	sched     *scheduler.Service

	// collectMu keeps scheduled and interactive collects from interleaving.
	collectMu sync.Mutex

	mu       sync.RWMutex
	settings settings
}

// settings is the hot-reloadable part of the config.
type settings struct {
	daysLimit int
	message   string
	metrics   metrics.Config
	schedule  string
}

type Option func(*options)

type options struct {
	client kit.Client
	store  storage.Store
}

// WithClient replaces the Telegram adapter, e.g. with a fake in tests.
func WithClient(c kit.Client) Option { return func(o *options) { o.client = c } }

// WithStore replaces the configured storage backend.
func WithStore(st storage.Store) Option { return func(o *options) { o.store = st } }

// New loads the config at cfgPath and wires the app. It performs no network I/O;
// on first run it returns an error wrapping config.ErrConfigMissing.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.LogSettings())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	log = log.With(logx.String("comp", "app"))

	cleanup := func() { _ = logSvc.Close() }

	store := o.store
	if store == nil {
		st, err := storage.Open(cfg.StorageSettings(), log)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open storage: %w", err)
		}
		if st == nil {
			log.Warn("storage disabled; conversation registry kept in memory only")
			st = storage.NewMemory()
		}
		store = st
	}

	client := o.client
	if client == nil {
		pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
			RatePerSec:  cfg.Telegram.RatePerSec,
		}, store, log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			cleanup()
			return nil, fmt.Errorf("telegram client: %w", err)
		}
		client = ad
	}

	snapPath := strings.TrimSpace(cfg.Snapshot.Path)
	if snapPath == "" {
		snapPath = snapshot.DefaultPath
	}
	snap := snapshot.NewStore(snapPath)

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		store:     store,
		client:    client,
		snap:      snap,
		collector: collector.New(snap, log),
		caster:    broadcast.New(cfg.BroadcastSettings(), log, store),
		sched: scheduler.New(scheduler.Config{
			Timezone: cfg.Schedule.Timezone,
		}, log),
		settings: settingsFrom(cfg),
	}
	return a, nil
}

func settingsFrom(cfg *config.Config) settings {
	return settings{
		daysLimit: cfg.DaysLimit,
		message:   cfg.BroadcastMessage,
		metrics:   metrics.Config{Addr: cfg.Metrics.Addr, Pprof: cfg.Metrics.Pprof},
		schedule:  strings.TrimSpace(cfg.Schedule.Collect),
	}
}

func (a *App) current() settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

func (a *App) Logger() logx.Logger { return a.log }

// Start brings the client online and begins watching the config file.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return nil
	}
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(false),
	)

	if err := a.client.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start client: %w", err)
	}

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.apply", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.apply(cfg)
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second, true)

	a.log.Info("started", logx.String("config", a.cfgm.Path()), logx.String("snapshot", a.snap.Path()))
	return nil
}

// apply takes a reloaded config into use. Token, storage and snapshot path
// changes need a restart.
func (a *App) apply(cfg *config.Config) {
	a.mu.Lock()
	a.settings = settingsFrom(cfg)
	a.mu.Unlock()

	a.logs.Apply(cfg.LogSettings())
	a.caster.Apply(cfg.BroadcastSettings())
	a.log.Info("config applied", logx.Int("days_limit", cfg.DaysLimit))
}

// Collect rebuilds the snapshot from the client's recent conversations.
func (a *App) Collect(ctx context.Context, onRecord func(snapshot.Record)) (int, error) {
	a.collectMu.Lock()
	defer a.collectMu.Unlock()

	a.collector.OnRecord = onRecord
	defer func() { a.collector.OnRecord = nil }()
	return a.collector.Collect(ctx, a.client, a.current().daysLimit)
}

// Broadcast sends the configured message to every record in the snapshot,
// after confirm agrees. An empty snapshot returns ErrEmptySnapshot without
// consulting confirm.
func (a *App) Broadcast(ctx context.Context, confirm broadcast.ConfirmFunc, onResult func(broadcast.Result)) (broadcast.Outcome, error) {
	records, err := a.snap.Read()
	if err != nil {
		return broadcast.Outcome{}, err
	}
	if len(records) == 0 {
		return broadcast.Outcome{}, ErrEmptySnapshot
	}
	a.caster.OnResult = onResult
	defer func() { a.caster.OnResult = nil }()
	return a.caster.Broadcast(ctx, a.client, records, a.current().message, confirm)
}

// Stats is the statistics view of the current snapshot.
type Stats struct {
	Total     int
	DaysLimit int
	Records   []snapshot.Record

	LastBroadcast    storage.AuditEntry
	HasLastBroadcast bool
}

// Stats reads the snapshot and the last broadcast audit entry.
func (a *App) Stats(ctx context.Context) (Stats, error) {
	records, err := a.snap.Read()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: len(records), DaysLimit: a.current().daysLimit, Records: records}
	e, ok, err := a.store.LastAudit(ctx, storage.ActionBroadcast)
	if err != nil {
		a.log.Warn("last broadcast lookup failed", logx.Err(err))
	} else {
		st.LastBroadcast, st.HasLastBroadcast = e, ok
	}
	return st, nil
}

// Listen records conversation activity and runs the scheduled collect until
// ctx is done. ready is called once everything is up.
func (a *App) Listen(ctx context.Context, ready func()) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	s := a.current()

	if s.schedule != "" {
		err := a.sched.Add(JobCollect, s.schedule, func(c context.Context) error {
			n, err := a.Collect(c, nil)
			if err == nil {
				a.log.Info("scheduled collect done", logx.Int("collected", n))
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("schedule.collect: %w", err)
		}
		if err := a.sched.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if s.metrics.Addr != "" {
		a.sup.Go("metrics", func(c context.Context) error {
			return metrics.Serve(c, s.metrics, a.log.With(logx.String("comp", "metrics")))
		})
	}

	if ready != nil {
		ready()
	}
	a.log.Info("listening", logx.Bool("scheduled_collect", s.schedule != ""), logx.String("metrics", s.metrics.Addr))
	<-a.sup.Context().Done()
	return nil
}

// Stop tears everything down. It is safe to call on an App that never started.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("scheduler", 2*time.Second, a.sched.Stop)
	step("client", 3*time.Second, a.client.Stop)
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

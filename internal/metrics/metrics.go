// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "tgcast/pkg/logx"
)

var (
	CollectedChats = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tgcast",
		Name:      "collected_chats",
		Help:      "Chats in the snapshot written by the last collect run.",
	})

	BroadcastSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgcast",
		Name:      "broadcast_sends_total",
		Help:      "Broadcast send attempts by result.",
	}, []string{"result"})

	BroadcastRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgcast",
		Name:      "broadcast_runs_total",
		Help:      "Broadcast runs by outcome (confirmed, declined).",
	}, []string{"outcome"})

	RegistryUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgcast",
		Name:      "registry_updates_total",
		Help:      "Conversation activity events recorded by kind.",
	}, []string{"kind"})
)

// Config controls the HTTP endpoint.
type Config struct {
	Addr string // empty disables the endpoint
	// Pprof also mounts net/http/pprof under /debug/pprof/. Bind to localhost.
	Pprof bool
}

// Serve exposes /metrics on cfg.Addr until ctx is cancelled.
func Serve(ctx context.Context, cfg Config, log logx.Logger) error {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("metrics listening", logx.String("addr", addr), logx.Bool("pprof", cfg.Pprof))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

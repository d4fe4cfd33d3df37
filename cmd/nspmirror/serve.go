package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
	"github.com/quay/nspmirror/events"
	"github.com/quay/nspmirror/internal/jsonerr"
	"github.com/quay/nspmirror/mirror"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Mirror on an interval and serve metrics",
		Long: `serve runs the event loop: a mirror run is requested immediately and then
on every configured interval. Prometheus metrics are served at /metrics. The
state of the mirror is at /status and stored advisories at /advisories/{id}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, l, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			svc := events.NewService(0)
			task, err := a.newTask(s, l, svc)
			if err != nil {
				return err
			}
			svc.Subscribe(events.MirrorRequested, task)
			svc.Subscribe(events.IndexCommit, events.HandlerFunc(logCommit))
			sched := mirror.NewScheduler(svc, a.cfg.Feed.Interval.Std())

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error { return svc.Run(ctx) })
			eg.Go(func() error { return sched.Start(ctx) })
			if addr := a.cfg.Metrics.Addr; addr != "" {
				if pc, ok := s.(interface{ Collector() prometheus.Collector }); ok {
					if err := prometheus.Register(pc.Collector()); err != nil {
						slog.WarnContext(ctx, "unable to register pool metrics", "reason", err)
					}
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           newMux(s, task),
					ReadHeaderTimeout: 10 * time.Second,
					BaseContext:       func(net.Listener) context.Context { return ctx },
				}
				eg.Go(func() error {
					slog.InfoContext(ctx, "serving http", "addr", addr)
					err := srv.ListenAndServe()
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				})
				eg.Go(func() error {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
			}
			err = eg.Wait()
			if errors.Is(err, context.Canceled) {
				slog.InfoContext(ctx, "shutting down")
				return nil
			}
			return err
		},
	}
}

func newMux(s datastore.Store, task *mirror.Task) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		DisableCompression: true,
	}))
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		st, err := loadStatus(r.Context(), s)
		if err != nil {
			slog.ErrorContext(r.Context(), "unable to load status", "reason", err)
			resp, code := jsonerr.FromError(err)
			jsonerr.Error(w, resp, code)
			return
		}
		st.State = task.State().String()
		writeJSON(r.Context(), w, st)
	})
	mux.HandleFunc("GET /advisories/{id}", func(w http.ResponseWriter, r *http.Request) {
		v, err := s.Get(r.Context(), nspmirror.SourceNSP, r.PathValue("id"))
		if err != nil {
			resp, code := jsonerr.FromError(err)
			jsonerr.Error(w, resp, code)
			return
		}
		writeJSON(r.Context(), w, newRecord(v))
	})
	return gzhttp.GzipHandler(mux)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(ctx, "unable to write response", "reason", err)
	}
}

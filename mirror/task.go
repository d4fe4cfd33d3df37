// Package mirror runs the advisory mirror: it pulls every page of the feed,
// normalizes the advisories and synchronizes them into a store, then
// announces the change.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quay/claircore/toolkit/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore"
	"github.com/quay/nspmirror/events"
	"github.com/quay/nspmirror/internal/telemetry"
	"github.com/quay/nspmirror/locksource"
	"github.com/quay/nspmirror/nsp"
	"github.com/quay/nspmirror/proxy"
	"github.com/quay/nspmirror/transport"
)

// LockKey is the lock name held for the duration of a run.
const LockKey = "nsp"

// ErrRunInProgress is returned by [Task.Run] when another run holds the lock.
var ErrRunInProgress = &nspmirror.Error{
	Op:      `mirror/Task.Run`,
	Kind:    nspmirror.ErrConflict,
	Message: "a mirror run is already in progress",
}

// Publisher is the subset of [events.Service] a Task needs.
type Publisher interface {
	Publish(context.Context, events.Event) error
}

// Task mirrors the advisory feed into a store.
//
// A Task is safe for concurrent use, but only one run proceeds at a time;
// see [Task.Run].
type Task struct {
	store datastore.Store
	pub   Publisher

	locks     locksource.ContextLock
	resolver  proxy.Resolver
	client    *http.Client
	feedURL   *url.URL
	rateLimit float64
	timeout   time.Duration
	runtime   string
	userAgent string
	tp        trace.TracerProvider
	tracer    trace.Tracer

	mu    sync.Mutex
	state State
}

// NewTask returns a Task writing to store and announcing completed runs on
// pub.
func NewTask(store datastore.Store, pub Publisher, opts ...Option) *Task {
	t := &Task{
		store:     store,
		pub:       pub,
		runtime:   runtime.Version(),
		userAgent: transport.DefaultUserAgent,
		tp:        otel.GetTracerProvider(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.locks == nil {
		t.locks = new(locksource.Local)
	}
	t.tracer = t.tp.Tracer(instrumentationName)
	return t
}

// State reports the Task's current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Handle implements [events.Handler].
//
// Only [events.MirrorRequested] starts a run; other kinds are ignored. A
// request arriving while a run is in progress is dropped.
func (t *Task) Handle(ctx context.Context, ev events.Event) error {
	if ev.Kind != events.MirrorRequested {
		return nil
	}
	err := t.Run(ctx)
	if errors.Is(err, ErrRunInProgress) {
		slog.InfoContext(ctx, "mirror run already in progress, dropping request")
		return nil
	}
	return err
}

// Run performs one mirror run.
//
// Pages are fetched in order and each page is synchronized before the next is
// requested. Exactly one [events.IndexCommit] is published if and only if the
// run completes. Any error fails the run; pages already synchronized stay
// written.
//
// If another run holds the lock, Run returns [ErrRunInProgress] without
// changing the Task's state.
func (t *Task) Run(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	lctx, done := t.locks.TryLock(ctx, LockKey)
	defer done()
	if !locksource.Acquired(lctx) {
		return ErrRunInProgress
	}
	ctx = lctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	rec := datastore.Run{
		Ref:     uuid.New(),
		Started: time.Now().UTC(),
		State:   Running.String(),
	}
	ctx = log.With(ctx, "component", "mirror/Task.Run", "run", rec.Ref)
	ctx, span := t.tracer.Start(ctx, "Run", trace.WithAttributes(
		attribute.String("nspmirror.run", rec.Ref.String()),
	))
	defer span.End()

	t.setState(Running)
	t.record(ctx, &rec)
	slog.InfoContext(ctx, "mirror run started")
	defer func() {
		final := Completed
		if err != nil {
			final = Failed
			rec.Error = err.Error()
			telemetry.HandleError(span, err)
			slog.ErrorContext(ctx, "mirror run failed", "reason", err)
		}
		t.setState(final)
		rec.State = final.String()
		rec.Finished = time.Now().UTC()
		runCounter.WithLabelValues(final.String()).Inc()
		runDuration.WithLabelValues(final.String()).Observe(rec.Finished.Sub(rec.Started).Seconds())
		t.record(ctx, &rec)
		slog.InfoContext(ctx, "mirror run finished",
			"state", final,
			"pages", rec.Pages,
			"advisories", rec.Advisories,
			"duration", rec.Finished.Sub(rec.Started))
	}()

	if err := Precheck(t.runtime); err != nil {
		return err
	}

	c := t.client
	if c == nil {
		c = transport.New(ctx, t.resolver.Resolve(ctx), transport.WithUserAgent(t.userAgent))
	}
	f := nsp.NewFetcher(c, t.feedURL,
		nsp.WithRateLimit(t.rateLimit),
		nsp.WithTracerProvider(t.tp))
	s := &Synchronizer{store: t.store, tracer: t.tracer}

	for p, err := range f.Pages(ctx) {
		if err != nil {
			return fmt.Errorf("mirror: fetch failed: %w", err)
		}
		vs := make([]*nspmirror.Vulnerability, len(p.Advisories))
		for i := range p.Advisories {
			vs[i] = nsp.ToVulnerability(ctx, &p.Advisories[i])
		}
		st, err := s.Sync(ctx, vs)
		if err != nil {
			return err
		}
		rec.Pages++
		rec.Advisories += len(vs)
		slog.DebugContext(ctx, "page synchronized",
			"offset", p.Offset,
			"total", p.Total,
			"created", st.Created,
			"updated", st.Updated)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ev := events.Event{Kind: events.IndexCommit, Target: nspmirror.RecordType}
	if err := t.pub.Publish(ctx, ev); err != nil {
		return fmt.Errorf("mirror: unable to publish commit: %w", err)
	}
	return nil
}

// Record stores the run row. Failures are logged and otherwise ignored, and
// the write is allowed to outlive cancellation of the run.
func (t *Task) record(ctx context.Context, r *datastore.Run) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := t.store.RecordRun(ctx, r); err != nil {
		slog.WarnContext(ctx, "unable to record run", "reason", err)
	}
}

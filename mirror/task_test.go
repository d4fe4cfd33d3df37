package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/quay/nspmirror"
	"github.com/quay/nspmirror/datastore/sqlite"
	"github.com/quay/nspmirror/events"
	"github.com/quay/nspmirror/locksource"
	"github.com/quay/nspmirror/nsp"
	"github.com/quay/nspmirror/test"
)

// Recorder is a Publisher that remembers what it was sent.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.evs)
}

// Feed serves a scripted sequence of pages. Hook, if set, runs before a page
// is served and may take over the response by returning false.
type feed struct {
	pages map[int]nsp.Page
	hook  func(w http.ResponseWriter, r *http.Request, offset int) bool
	calls atomic.Int32
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	off, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if f.hook != nil && !f.hook(w, r, off) {
		return
	}
	p, ok := f.pages[off]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&p)
}

// ThreePages is the canonical 50/50/20 feed.
func threePages() map[int]nsp.Page {
	m := make(map[int]nsp.Page)
	for _, off := range []int{0, 50, 100} {
		n := min(50, 120-off)
		p := nsp.Page{Offset: off, Count: n, Total: 120}
		for i := range n {
			id := off + i + 1
			p.Advisories = append(p.Advisories, nsp.Advisory{
				ID:                 id,
				Title:              "advisory " + strconv.Itoa(id),
				ModuleName:         "module-" + strconv.Itoa(id),
				CreatedAt:          "2017-01-02T03:04:05Z",
				CVSSVector:         "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H",
				VulnerableVersions: "<1.0.0",
			})
		}
		m[off] = p
	}
	return m
}

type harness struct {
	store *sqlite.Store
	pub   *recorder
	feed  *feed
	url   *url.URL
	srv   *httptest.Server
}

func newHarness(t *testing.T, pages map[int]nsp.Page) *harness {
	t.Helper()
	ctx := test.Logging(t)
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "nsp.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	h := &harness{
		store: s,
		pub:   new(recorder),
		feed:  &feed{pages: pages},
	}
	h.srv = httptest.NewServer(h.feed)
	t.Cleanup(h.srv.Close)
	h.url, err = url.Parse(h.srv.URL + "/advisories")
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) task(opts ...Option) *Task {
	opts = append([]Option{
		WithFeedURL(h.url),
		WithClient(h.srv.Client()),
		WithRuntimeVersion("go1.25.0"),
	}, opts...)
	return NewTask(h.store, h.pub, opts...)
}

func TestRun(t *testing.T) {
	ctx := test.Logging(t)
	h := newHarness(t, threePages())
	task := h.task()
	before := testutil.ToFloat64(runCounter.WithLabelValues("Completed"))

	if err := task.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := task.State(), Completed; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}
	if got, want := h.feed.calls.Load(), int32(3); got != want {
		t.Errorf("requests: got: %d, want: %d", got, want)
	}
	n, err := h.store.Count(ctx, nspmirror.SourceNSP)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, 120; got != want {
		t.Errorf("records: got: %d, want: %d", got, want)
	}
	want := []events.Event{{Kind: events.IndexCommit, Target: nspmirror.RecordType}}
	if got := h.pub.Events(); !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}

	v, err := h.store.Get(ctx, nspmirror.SourceNSP, "120")
	if err != nil {
		t.Fatal(err)
	}
	if v.CVSSv2 != nil || v.CVSSv3 == nil {
		t.Errorf("unexpected CVSS: %+v, %+v", v.CVSSv2, v.CVSSv3)
	}
	if got, want := v.Severity(), nspmirror.Critical; got != want {
		t.Errorf("severity: got: %v, want: %v", got, want)
	}

	r, err := h.store.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("no run recorded")
	}
	if r.State != "Completed" || r.Pages != 3 || r.Advisories != 120 || r.Finished.IsZero() {
		t.Errorf("unexpected run: %+v", r)
	}
	if got, want := testutil.ToFloat64(runCounter.WithLabelValues("Completed"))-before, 1.0; got != want {
		t.Errorf("runs_total: got: %v, want: %v", got, want)
	}
}

func TestRunIdempotent(t *testing.T) {
	ctx := test.Logging(t)
	h := newHarness(t, threePages())
	task := h.task()

	for range 2 {
		if err := task.Run(ctx); err != nil {
			t.Fatal(err)
		}
	}
	n, err := h.store.Count(ctx, nspmirror.SourceNSP)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, 120; got != want {
		t.Errorf("records: got: %d, want: %d", got, want)
	}
	if got, want := len(h.pub.Events()), 2; got != want {
		t.Errorf("notifications: got: %d, want: %d", got, want)
	}
}

func TestRunEmptyFeed(t *testing.T) {
	ctx := test.Logging(t)
	h := newHarness(t, map[int]nsp.Page{0: {}})
	task := h.task()

	if err := task.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got, want := len(h.pub.Events()), 1; got != want {
		t.Errorf("notifications: got: %d, want: %d", got, want)
	}
}

func TestRunFeedError(t *testing.T) {
	ctx := test.Logging(t)
	pages := threePages()
	delete(pages, 50)
	h := newHarness(t, pages)
	h.feed.hook = func(w http.ResponseWriter, _ *http.Request, off int) bool {
		if off == 50 {
			w.WriteHeader(http.StatusBadGateway)
			return false
		}
		return true
	}
	task := h.task()

	err := task.Run(ctx)
	if !errors.Is(err, nspmirror.ErrTransient) {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := task.State(), Failed; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}
	if got := h.pub.Events(); len(got) != 0 {
		t.Errorf("unexpected notifications: %v", got)
	}
	// The first page stays written.
	n, err := h.store.Count(ctx, nspmirror.SourceNSP)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, 50; got != want {
		t.Errorf("records: got: %d, want: %d", got, want)
	}
	r, err := h.store.LatestRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != "Failed" || r.Error == "" {
		t.Errorf("unexpected run: %+v", r)
	}
}

func TestRunPrecheck(t *testing.T) {
	ctx := test.Logging(t)
	h := newHarness(t, threePages())
	task := h.task(WithRuntimeVersion("go1.21.0"))

	err := task.Run(ctx)
	if !errors.Is(err, nspmirror.ErrPrecondition) {
		t.Errorf("unexpected error: %v", err)
	}
	if got, want := task.State(), Failed; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}
	if got := h.feed.calls.Load(); got != 0 {
		t.Errorf("made %d requests", got)
	}
	if got := h.pub.Events(); len(got) != 0 {
		t.Errorf("unexpected notifications: %v", got)
	}
}

func TestRunInProgress(t *testing.T) {
	ctx := test.Logging(t)
	h := newHarness(t, threePages())
	var l locksource.Local
	task := h.task(WithLock(&l))

	_, done := l.TryLock(ctx, LockKey)
	defer done()
	err := task.Run(ctx)
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("unexpected error: %v", err)
	}
	if !errors.Is(err, nspmirror.ErrConflict) {
		t.Errorf("unexpected error kind: %v", err)
	}
	if got, want := task.State(), Idle; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}
	if got := h.feed.calls.Load(); got != 0 {
		t.Errorf("made %d requests", got)
	}

	// Handle drops the request rather than failing.
	if err := task.Handle(ctx, events.Event{Kind: events.MirrorRequested}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(test.Logging(t))
	defer cancel()
	h := newHarness(t, threePages())
	h.feed.hook = func(_ http.ResponseWriter, r *http.Request, off int) bool {
		if off == 50 {
			cancel()
			<-r.Context().Done()
			return false
		}
		return true
	}
	task := h.task()

	err := task.Run(ctx)
	if err == nil {
		t.Fatal("run succeeded")
	}
	if got, want := task.State(), Failed; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}
	if got := h.pub.Events(); len(got) != 0 {
		t.Errorf("unexpected notifications: %v", got)
	}
	// The run row is written even though the run's Context is gone.
	r, err := h.store.LatestRun(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.State != "Failed" || r.Pages != 1 {
		t.Errorf("unexpected run: %+v", r)
	}
}

func TestHandle(t *testing.T) {
	ctx := test.Logging(t)
	h := newHarness(t, threePages())
	task := h.task()

	for _, k := range []events.Kind{events.IndexCommit, events.Kind(0), events.Kind(99)} {
		if err := task.Handle(ctx, events.Event{Kind: k}); err != nil {
			t.Errorf("%v: unexpected error: %v", k, err)
		}
	}
	if got := h.feed.calls.Load(); got != 0 {
		t.Errorf("made %d requests", got)
	}
	if got, want := task.State(), Idle; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}

	if err := task.Handle(ctx, events.Event{Kind: events.MirrorRequested}); err != nil {
		t.Fatal(err)
	}
	if got, want := task.State(), Completed; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}
}

func TestRunSpans(t *testing.T) {
	ctx := test.Logging(t)
	h := newHarness(t, threePages())
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())
	task := h.task(WithTracerProvider(tp))

	if err := task.Run(ctx); err != nil {
		t.Fatal(err)
	}
	count := make(map[string]int)
	for _, s := range sr.Ended() {
		count[s.Name()]++
	}
	want := map[string]int{"Run": 1, "FetchPage": 3, "Sync": 3}
	if !cmp.Equal(count, want) {
		t.Error(cmp.Diff(count, want))
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		Idle:      "Idle",
		Running:   "Running",
		Completed: "Completed",
		Failed:    "Failed",
		State(9):  "State(9)",
	} {
		if got := s.String(); got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
	}
}

func TestEventLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(test.Logging(t))
	defer cancel()
	h := newHarness(t, threePages())
	svc := events.NewService(0)
	task := NewTask(h.store, svc,
		WithFeedURL(h.url),
		WithClient(h.srv.Client()),
		WithRuntimeVersion("go1.25.0"))
	commits := make(chan events.Event, 1)
	svc.Subscribe(events.MirrorRequested, task)
	svc.Subscribe(events.IndexCommit, events.HandlerFunc(func(_ context.Context, ev events.Event) error {
		commits <- ev
		return nil
	}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()

	if err := svc.Publish(ctx, events.Event{Kind: events.MirrorRequested}); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-commits:
		if got, want := ev.Target, nspmirror.RecordType; got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for commit")
	}
	cancel()
	<-done
}

func TestEventLoopQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(test.Logging(t))
	defer cancel()
	h := newHarness(t, threePages())
	held := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.feed.hook = func(_ http.ResponseWriter, _ *http.Request, off int) bool {
		if off == 0 {
			once.Do(func() {
				close(held)
				<-release
			})
		}
		return true
	}
	svc := events.NewService(1)
	task := NewTask(h.store, svc,
		WithFeedURL(h.url),
		WithClient(h.srv.Client()),
		WithRuntimeVersion("go1.25.0"),
		WithTimeout(30*time.Second))
	commits := make(chan events.Event, 2)
	svc.Subscribe(events.MirrorRequested, task)
	svc.Subscribe(events.IndexCommit, events.HandlerFunc(func(_ context.Context, ev events.Event) error {
		commits <- ev
		return nil
	}))
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx)
	}()

	if err := svc.Publish(ctx, events.Event{Kind: events.MirrorRequested}); err != nil {
		t.Fatal(err)
	}
	<-held
	// Fills the queue while the first run is in progress.
	if err := svc.Publish(ctx, events.Event{Kind: events.MirrorRequested}); err != nil {
		t.Fatal(err)
	}
	close(release)

	for i := range 2 {
		select {
		case <-commits:
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for commit %d", i)
		}
	}
	if got, want := task.State(), Completed; got != want {
		t.Errorf("state: got: %v, want: %v", got, want)
	}
	cancel()
	<-done
}

package mirror

import (
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/quay/nspmirror/locksource"
	"github.com/quay/nspmirror/proxy"
)

// Option configures a [Task].
type Option func(*Task)

// WithFeedURL sets the root of the advisory feed.
func WithFeedURL(u *url.URL) Option {
	return func(t *Task) {
		t.feedURL = u
	}
}

// WithRateLimit limits page requests to r per second.
func WithRateLimit(r float64) Option {
	return func(t *Task) {
		t.rateLimit = r
	}
}

// WithLock sets the lock used to keep runs from overlapping. By default, a
// process-local lock is used.
func WithLock(l locksource.ContextLock) Option {
	return func(t *Task) {
		t.locks = l
	}
}

// WithRuntimeVersion overrides the runtime version checked by [Precheck].
func WithRuntimeVersion(v string) Option {
	return func(t *Task) {
		t.runtime = v
	}
}

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Task) {
		t.tp = tp
	}
}

// WithClient sets the HTTP client used for every run, bypassing proxy
// resolution.
func WithClient(c *http.Client) Option {
	return func(t *Task) {
		t.client = c
	}
}

// WithTimeout bounds the duration of a single run. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(t *Task) {
		t.timeout = d
	}
}

// WithProxy sets the explicit proxy configuration. It takes precedence over
// the proxy environment variables.
func WithProxy(cfg proxy.Config) Option {
	return func(t *Task) {
		t.resolver.Config = cfg
	}
}

// WithUserAgent sets the User-Agent sent to the feed.
func WithUserAgent(ua string) Option {
	return func(t *Task) {
		t.userAgent = ua
	}
}

// Package transport constructs the HTTP clients used to talk to the advisory
// feed.
//
// Nothing here touches process-wide state: every call to [New] returns an
// independent client built on a clone of [http.DefaultTransport].
package transport

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/net/http/httpproxy"

	"github.com/quay/nspmirror/proxy"
)

// DefaultUserAgent is sent when no [WithUserAgent] option is supplied.
const DefaultUserAgent = "nspmirror/1"

// Option configures a client returned by [New].
type Option func(*options)

type options struct {
	timeout time.Duration
	ua      string
	env     *httpproxy.Config
}

// WithTimeout sets the overall per-request timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent sets the User-Agent header on every request that doesn't
// already carry one.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.ua = ua }
}

// WithEnvironment overrides the baseline proxy environment used when no proxy
// is resolved. By default the process environment is read once, at
// construction.
func WithEnvironment(cfg *httpproxy.Config) Option {
	return func(o *options) { o.env = cfg }
}

// New returns an [http.Client] that routes through the proxy described by
// info.
//
// When info is nil, the conventional proxy environment variables (including
// NO_PROXY) are honored instead. Proxy credentials are only attached when both
// a username and password are present; otherwise the proxy is used
// anonymously.
func New(ctx context.Context, info *proxy.Info, opts ...Option) *http.Client {
	o := options{ua: DefaultUserAgent}
	for _, f := range opts {
		f(&o)
	}

	var rt http.RoundTripper = gzhttp.Transport(base(ctx, info, &o))
	if o.ua != "" {
		rt = &userAgent{next: rt, ua: o.ua}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   o.timeout,
	}
}

// Base builds the uncompressed transport with its proxy selection configured.
func base(ctx context.Context, info *proxy.Info, o *options) *http.Transport {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if tr.TLSClientConfig == nil {
		tr.TLSClientConfig = &tls.Config{}
	}
	tr.TLSClientConfig.MinVersion = tls.VersionTLS12

	switch {
	case info != nil:
		u := info.URL()
		if user, pass, ok := info.Credentials(); ok {
			u.User = url.UserPassword(user, pass)
		} else if info.User != nil {
			slog.DebugContext(ctx, "incomplete proxy credentials, connecting anonymously", "proxy", info)
		}
		tr.Proxy = http.ProxyURL(u)
		slog.DebugContext(ctx, "using proxy", "proxy", info)
	default:
		env := o.env
		if env == nil {
			env = httpproxy.FromEnvironment()
		}
		pf := env.ProxyFunc()
		tr.Proxy = func(r *http.Request) (*url.URL, error) {
			return pf(r.URL)
		}
	}
	return tr
}

type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (u *userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.ua)
	return u.next.RoundTrip(r)
}

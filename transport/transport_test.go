package transport

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/net/http/httpproxy"

	"github.com/quay/nspmirror/proxy"
	"github.com/quay/nspmirror/test"
)

func proxyFor(t *testing.T, tr *http.Transport, target string) *url.URL {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		t.Fatal(err)
	}
	u, err := tr.Proxy(req)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestProxySelection(t *testing.T) {
	ctx := test.Logging(t)

	t.Run("Configured", func(t *testing.T) {
		info := &proxy.Info{Scheme: "http", Host: "proxy.example", Port: 8080, User: url.UserPassword("u", "p")}
		tr := base(ctx, info, &options{})
		u := proxyFor(t, tr, "https://api.nodesecurity.io/advisories")
		if got, want := u.String(), "http://u:p@proxy.example:8080"; got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
	})
	t.Run("Anonymous", func(t *testing.T) {
		info := &proxy.Info{Scheme: "http", Host: "proxy.example", Port: 8080, User: url.User("u")}
		tr := base(ctx, info, &options{})
		u := proxyFor(t, tr, "https://api.nodesecurity.io/advisories")
		if u.User != nil {
			t.Errorf("unexpected credentials: %v", u.User)
		}
		if got, want := u.Host, "proxy.example:8080"; got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
	})
	t.Run("Environment", func(t *testing.T) {
		env := &httpproxy.Config{
			HTTPSProxy: "http://env.example:3128",
			NoProxy:    "internal.example",
		}
		tr := base(ctx, nil, &options{env: env})
		u := proxyFor(t, tr, "https://api.nodesecurity.io/advisories")
		if u == nil {
			t.Fatal("expected proxy")
		}
		if got, want := u.Host, "env.example:3128"; got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
		if u := proxyFor(t, tr, "https://internal.example/"); u != nil {
			t.Errorf("NO_PROXY ignored: %v", u)
		}
	})
	t.Run("TLS", func(t *testing.T) {
		tr := base(ctx, nil, &options{env: &httpproxy.Config{}})
		if got, want := tr.TLSClientConfig.MinVersion, uint16(0x0303); got != want {
			t.Errorf("got: %#x, want: %#x", got, want)
		}
		if tr == http.DefaultTransport {
			t.Error("default transport modified")
		}
	})
}

func TestClient(t *testing.T) {
	ctx := test.Logging(t)
	payload := bytes.Repeat([]byte(`{"results":[]}`), 512)
	var ua string
	srv := httptest.NewServer(gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	})))
	defer srv.Close()

	c := New(ctx, nil, WithEnvironment(&httpproxy.Config{}), WithUserAgent("nspmirror-test"))
	res, err := c.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if !res.Uncompressed {
		t.Error("expected a compressed response")
	}
	got, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("body mismatch: got %d bytes, want %d", len(got), len(payload))
	}
	if got, want := ua, "nspmirror-test"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
}

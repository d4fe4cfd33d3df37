// Package proxy determines the HTTP proxy a mirror run should use.
//
// Explicit configuration always wins. Without it, the conventional
// "https_proxy" and "http_proxy" environment variables are consulted, in that
// order, matching the variable names case-insensitively.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config is the explicit proxy configuration.
//
// By convention, it's at a key called "proxy".
type Config struct {
	Address  string `json:"address" yaml:"address"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Info is a resolved proxy.
//
// A nil *Info means no proxy is configured. User is nil when no credentials
// were supplied; blank usernames and passwords are never recorded.
type Info struct {
	Scheme string
	Host   string
	Port   int
	User   *url.Userinfo
}

// URL returns the proxy as a URL, without credentials.
func (i *Info) URL() *url.URL {
	return &url.URL{
		Scheme: i.Scheme,
		Host:   net.JoinHostPort(i.Host, strconv.Itoa(i.Port)),
	}
}

// Credentials reports the username and password, if both are present and
// non-blank.
func (i *Info) Credentials() (user, pass string, ok bool) {
	if i.User == nil {
		return "", "", false
	}
	user = i.User.Username()
	pass, ok = i.User.Password()
	if !ok || strings.TrimSpace(user) == "" || strings.TrimSpace(pass) == "" {
		return "", "", false
	}
	return user, pass, true
}

// String implements [fmt.Stringer]. The password is redacted.
func (i *Info) String() string {
	u := i.URL()
	u.User = i.User
	return u.Redacted()
}

// EnvVars are the environment variables consulted, in order.
var envVars = []string{"https_proxy", "http_proxy"}

// ErrMalformed is reported (via logging) when a proxy URL can't be used.
var ErrMalformed = errors.New("malformed proxy URL")

// Resolver resolves the effective proxy.
//
// The zero Resolver consults only the process environment.
type Resolver struct {
	Config Config
	// Environ returns the environment in "key=value" form. If nil,
	// [os.Environ] is used.
	Environ func() []string
}

// Resolve returns the proxy to use, or nil for none.
//
// Problems with environment-supplied values are logged and treated as "no
// proxy"; Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context) *Info {
	if i := fromConfig(&r.Config); i != nil {
		slog.DebugContext(ctx, "using configured proxy", "proxy", i)
		return i
	}
	environ := r.Environ
	if environ == nil {
		environ = os.Environ
	}
	env := environ()
	for _, name := range envVars {
		v, ok := lookup(env, name)
		if !ok {
			continue
		}
		i, err := Parse(v)
		if err != nil {
			slog.WarnContext(ctx, "could not parse proxy settings from environment",
				"variable", name,
				"reason", err)
			return nil
		}
		slog.DebugContext(ctx, "using proxy from environment", "variable", name, "proxy", i)
		return i
	}
	return nil
}

func fromConfig(cfg *Config) *Info {
	host := strings.TrimSpace(cfg.Address)
	if host == "" {
		return nil
	}
	i := Info{
		Scheme: "http",
		Host:   host,
		Port:   cfg.Port,
	}
	if i.Port <= 0 {
		i.Port = defaultPort(i.Scheme)
	}
	user := strings.TrimSpace(cfg.Username)
	pass := strings.TrimSpace(cfg.Password)
	switch {
	case user != "" && pass != "":
		i.User = url.UserPassword(user, pass)
	case user != "":
		i.User = url.User(user)
	}
	return &i
}

// Lookup finds the named variable, skipping blank values. An exact match is
// preferred; otherwise the first variable matching without regard to case is
// used.
func lookup(env []string, name string) (string, bool) {
	var fold string
	var found bool
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if k == name {
			return v, true
		}
		if !found && strings.EqualFold(k, name) {
			fold, found = v, true
		}
	}
	return fold, found
}

// Parse interprets a proxy URL of the form "scheme://[user[:pass]@]host[:port]".
//
// A value without a scheme is assumed to be "http". A missing port defaults to
// the scheme's well-known port.
func Parse(s string) (*Info, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrMalformed, u.Redacted())
	}
	i := Info{
		Scheme: strings.ToLower(u.Scheme),
		Host:   host,
		Port:   defaultPort(strings.ToLower(u.Scheme)),
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("%w: bad port %q", ErrMalformed, p)
		}
		i.Port = n
	}
	if u.User != nil {
		user := u.User.Username()
		pass, ok := u.User.Password()
		switch {
		case user != "" && ok && pass != "":
			i.User = url.UserPassword(user, pass)
		case user != "":
			i.User = url.User(user)
		}
	}
	return &i, nil
}

func defaultPort(scheme string) int {
	switch scheme {
	case "https":
		return 443
	case "socks5", "socks5h":
		return 1080
	default:
		return 80
	}
}

// Package config holds the configuration for the nspmirror command.
//
// Configuration is read from a YAML document. Any key that's absent keeps its
// value from [Default].
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/quay/nspmirror/internal/telemetry"
	"github.com/quay/nspmirror/nsp"
	"github.com/quay/nspmirror/proxy"
)

// AppName is used to build the default configuration and data paths.
const AppName = "nspmirror"

// Defaults.
const (
	DefaultInterval    = 6 * time.Hour
	DefaultTimeout     = 30 * time.Minute
	DefaultMetricsAddr = ":9089"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level configuration.
type Config struct {
	Feed    Feed         `yaml:"feed"`
	Proxy   proxy.Config `yaml:"proxy"`
	Store   Store        `yaml:"store"`
	Log     Log          `yaml:"log"`
	Metrics Metrics      `yaml:"metrics"`
	Tracing Tracing      `yaml:"tracing"`
}

// Feed configures how the advisory feed is polled.
type Feed struct {
	URL      string   `yaml:"url"`
	Interval Duration `yaml:"interval"`
	// RateLimit is the maximum page requests per second. Zero means no limit.
	RateLimit float64 `yaml:"rate_limit"`
	// Timeout bounds a single mirror run. Zero means no deadline.
	Timeout Duration `yaml:"timeout"`
}

// Store selects and configures the datastore.
type Store struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for the "sqlite" driver and a connection string for
	// the "postgres" driver.
	DSN string `yaml:"dsn"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address. Empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Tracing configures OpenTelemetry export of traces, metrics and logs. The
// exporters are configured through the standard OTEL_EXPORTER_OTLP_*
// environment variables.
type Tracing struct {
	Enabled bool `yaml:"enabled"`
	// Protocol is "http/protobuf" or "grpc".
	Protocol string `yaml:"protocol"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Feed: Feed{
			URL:      nsp.DefaultURL,
			Interval: Duration(DefaultInterval),
			Timeout:  Duration(DefaultTimeout),
		},
		Store: Store{
			Driver: DriverSQLite,
			DSN:    filepath.Join(xdg.DataHome, AppName, "nsp.db"),
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			Addr: DefaultMetricsAddr,
		},
		Tracing: Tracing{
			Protocol: telemetry.ProtocolHTTP,
		},
	}
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Feed.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, c.Feed.URL)
	}
	if c.Feed.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.Feed.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Feed.RateLimit < 0 {
		return ErrInvalidRateLimit
	}
	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Proxy.Port)
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDriver, c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return ErrMissingDSN
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Log.Format)
	}
	switch c.Tracing.Protocol {
	case telemetry.ProtocolHTTP, telemetry.ProtocolGRPC:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, c.Tracing.Protocol)
	}
	return nil
}

// SlogLevel reports the configured level as a [slog.Level].
func (l *Log) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	return lvl, nil
}

// Duration is a [time.Duration] written in YAML as a string, like "90m".
type Duration time.Duration

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

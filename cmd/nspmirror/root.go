package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/quay/claircore/toolkit/log"
	"github.com/spf13/cobra"

	"github.com/quay/nspmirror/config"
	"github.com/quay/nspmirror/datastore"
	"github.com/quay/nspmirror/datastore/postgres"
	"github.com/quay/nspmirror/datastore/sqlite"
	"github.com/quay/nspmirror/internal/telemetry"
	"github.com/quay/nspmirror/locksource"
	"github.com/quay/nspmirror/mirror"
)

// App is the state shared by every subcommand.
type app struct {
	cfgPath string
	cfg     *config.Config
	tel     *telemetry.Telemetry
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := new(app)
	cmd := &cobra.Command{
		Use:   "nspmirror",
		Short: "Mirror the Node Security Platform advisory feed",
		Long: `nspmirror pages through the Node Security Platform advisory feed,
normalizes every advisory (including CVSS scoring) and upserts the results into
a SQLite or PostgreSQL database.

Proxy settings come from the configuration file, or else from the https_proxy
and http_proxy environment variables.`,
		Version:            getVersion(),
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	cmd.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "",
		"configuration file (default "+config.DefaultPath()+")")

	cmd.AddCommand(newRunCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newStatusCmd(a))
	cmd.AddCommand(newGetCmd(a))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Setup loads the configuration and installs the process logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	lvl, _ := cfg.Log.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch cfg.Log.Format {
	case "json":
		h = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	default:
		h = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}
	if cfg.Tracing.Enabled {
		tel, err := telemetry.Setup(cmd.Context(), telemetry.Config{
			Protocol:       cfg.Tracing.Protocol,
			ServiceVersion: getVersion(),
		})
		if err != nil {
			return err
		}
		a.tel = tel
		h = telemetry.Tee(h, tel.Handler("github.com/quay/nspmirror"))
	}
	slog.SetDefault(slog.New(log.WrapHandler(h)))
	return nil
}

func (a *app) teardown(cmd *cobra.Command, _ []string) error {
	if a.tel == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
	defer cancel()
	return a.tel.Shutdown(ctx)
}

// OpenStore opens the configured store and returns the lock source matching
// it: PostgreSQL advisory locks for a shared database, a process-local lock
// otherwise.
func (a *app) openStore(ctx context.Context) (datastore.Store, locksource.ContextLock, error) {
	dsn := a.cfg.Store.DSN
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Locker(), nil
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, nil, err
		}
		s, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, new(locksource.Local), nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
}

func (a *app) newTask(s datastore.Store, l locksource.ContextLock, pub mirror.Publisher) (*mirror.Task, error) {
	u, err := url.Parse(a.cfg.Feed.URL)
	if err != nil {
		return nil, err
	}
	return mirror.NewTask(s, pub,
		mirror.WithFeedURL(u),
		mirror.WithRateLimit(a.cfg.Feed.RateLimit),
		mirror.WithTimeout(a.cfg.Feed.Timeout.Std()),
		mirror.WithProxy(a.cfg.Proxy),
		mirror.WithLock(l),
		mirror.WithUserAgent("nspmirror/"+getVersion()),
	), nil
}

// The cloda command imports mail into a document store and shows the
// conversations it holds.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/matta/cloda/internal/config"
	"github.com/matta/cloda/internal/contact"
	"github.com/matta/cloda/internal/conversation"
	"github.com/matta/cloda/internal/couch"
	"github.com/matta/cloda/internal/docstore"
	"github.com/matta/cloda/internal/identity"
	"github.com/matta/cloda/internal/metrics"
	"github.com/matta/cloda/internal/persist"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	verbose     bool
	dumpMetrics bool
)

// app holds what every command needs once flags and config are read.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    docstore.Store
	close    func() error
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	resolver  *identity.Resolver
	directory *contact.Directory
	engine    *conversation.Engine
}

var a = &app{}

var rootCmd = &cobra.Command{
	Use:   "cloda",
	Short: "Assemble mail conversations from a document store",
	Long: `cloda imports RFC 822 messages into a document store and
answers queries for the conversations involving a set of contacts,
threaded by their References headers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return a.setup(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $CLODA_HOME/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().BoolVar(&dumpMetrics, "metrics", false, "print metrics to stderr on exit")
}

func (a *app) setup(ctx context.Context) error {
	var err error
	a.cfg, err = config.Load(cfgFile)
	if err != nil {
		return errors.Wrap(err, "load config")
	}

	level, err := a.cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	if verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	a.registry = prometheus.NewRegistry()
	if a.metrics, err = metrics.New(a.registry); err != nil {
		return err
	}

	if a.store, a.close, err = openStore(ctx, a.cfg, a.logger); err != nil {
		return err
	}

	a.resolver = identity.NewResolver(a.store, identity.NewRegistry())
	a.resolver.Logger = a.logger
	a.resolver.Metrics = a.metrics

	a.directory = contact.NewDirectory(a.store, a.resolver)
	a.directory.Logger = a.logger
	a.directory.Metrics = a.metrics

	a.engine = conversation.NewEngine(a.store, a.resolver, a.directory)
	a.engine.Logger = a.logger
	a.engine.Metrics = a.metrics
	a.engine.Timeout = a.cfg.Query.Timeout.Duration
	a.engine.MaxTimestamp = a.cfg.Query.MaxTimestamp
	return nil
}

// shutdown prints metrics when asked to and closes the store.  It runs
// whether or not the command succeeded.
func (a *app) shutdown(w io.Writer) error {
	var err error
	if dumpMetrics && a.registry != nil {
		err = metrics.WriteText(w, a.registry)
	}
	if a.close != nil {
		if cerr := a.close(); err == nil {
			err = cerr
		}
		a.close = nil
	}
	return err
}

// execute runs the command line and then shuts down.
func execute(ctx context.Context, stderr io.Writer) error {
	err := rootCmd.ExecuteContext(ctx)
	if serr := a.shutdown(stderr); err == nil {
		err = serr
	}
	return err
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (docstore.Store, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
			return nil, nil, errors.Wrap(err, "creating database directory")
		}
		db, err := persist.Open(ctx, cfg.Store.Path, logger)
		if err != nil {
			return nil, nil, errors.Wrap(err, "unable to initialize database")
		}
		return db, db.Close, nil
	case config.BackendHTTP:
		hc := couch.NewHTTPClient(couch.Auth{Token: cfg.Store.Token, APIKey: cfg.Store.APIKey}, cfg.Store.Trace, logger)
		c, err := couch.New(cfg.Store.URL, hc, cfg.Store.RateLimitQPS, logger)
		if err != nil {
			return nil, nil, errors.Wrap(err, "unable to initialize store client")
		}
		return c, func() error { return nil }, nil
	}
	return nil, nil, errors.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := execute(ctx, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}

// Package app holds the fieldsync CLI: configuration, logging, the lazily
// built client and its collaborators, and the cobra commands.
package app

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agentstation/fieldsync"
	"github.com/agentstation/fieldsync/internal/events"
	"github.com/agentstation/fieldsync/internal/locks"
	"github.com/agentstation/fieldsync/internal/metrics"
	"github.com/agentstation/fieldsync/internal/store/memory"
	"github.com/agentstation/fieldsync/internal/store/sqlstore"
	"github.com/agentstation/fieldsync/pkg/engine"
	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/store"
)

// App is the fieldsync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string

	config      *Config
	logger      *zerolog.Logger
	fixedLogger bool
	out         io.Writer

	// Client and the resources it was built from (lazy-initialized)
	mu      sync.Mutex
	client  fieldsync.Client
	closers []func() error
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		a.fixedLogger = true
		return nil
	}
}

// WithClient sets the client commands use (useful for testing).
func WithClient(c fieldsync.Client) Option {
	return func(a *App) error {
		a.client = c
		return nil
	}
}

// WithOutput sets where command output is written.
func WithOutput(w io.Writer) Option {
	return func(a *App) error {
		a.out = w
		return nil
	}
}

// New creates an App. Configuration is loaded from the environment and
// config file unless WithConfig is given.
func New(version, commit, date string, opts ...Option) (*App, error) {
	a := &App{version: version, commit: commit, date: date, out: os.Stdout}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.config == nil {
		config, err := LoadConfig(configFlag(os.Args[1:]))
		if err != nil {
			return nil, errors.WrapResource("load", "config", "", err)
		}
		a.config = config
	}
	if a.logger == nil {
		logger := NewLogger(a.config)
		a.logger = &logger
	}
	return a, nil
}

// configFlag finds --config before cobra parses flags, since the config
// file has to be read first.
func configFlag(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case len(arg) > len("--config=") && arg[:len("--config=")] == "--config=":
			return arg[len("--config="):]
		}
	}
	return ""
}

// Version returns the version information.
func (a *App) Version() string { return a.version }

// Config returns the application configuration.
func (a *App) Config() *Config { return a.config }

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger { return a.logger }

// Client returns the fieldsync client, building it and its store, lock,
// event sinks and metrics on first use.
func (a *App) Client(ctx context.Context) (fieldsync.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}

	opts, err := a.clientOptions(ctx)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	c, err := fieldsync.New(opts...)
	if err != nil {
		a.closeAll()
		return nil, errors.WrapResource("create", "client", "", err)
	}
	a.client = c
	a.closers = append(a.closers, c.Close)
	return c, nil
}

func (a *App) clientOptions(ctx context.Context) ([]fieldsync.Option, error) {
	cfg := a.config
	opts := []fieldsync.Option{
		fieldsync.WithLogger(a.logger),
		fieldsync.WithBatchSize(cfg.Sync.BatchSize),
		fieldsync.WithCacheWindows(cfg.Cache.Fresh, cfg.Cache.Stale),
	}
	if cfg.Fields.File != "" {
		opts = append(opts, fieldsync.WithFieldsFile(cfg.Fields.File))
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, fieldsync.WithStore(st))

	if cfg.Redis.Addr != "" {
		rdb, err := locks.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		opts = append(opts, fieldsync.WithLocker(locks.NewRedis(rdb, locks.WithLogger(a.logger))))
	} else {
		opts = append(opts, fieldsync.WithLocker(locks.NewLocal()))
	}

	sinks := events.Fanout{events.NewLog(a.logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		k := events.NewKafka(cfg.Kafka, a.logger)
		a.closers = append(a.closers, k.Close)
		sinks = append(sinks, k)
	}
	opts = append(opts, fieldsync.WithEvents(sinks))

	if cfg.Metrics.Addr != "" {
		opts = append(opts, fieldsync.WithMetrics(a.serveMetrics(ctx)))
	}
	return opts, nil
}

func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.config.Store
	var st store.Store
	if cfg.Driver == "memory" {
		a.logger.Warn().Msg("Using the in-memory store; nothing is kept after this command")
		st = memory.New()
	} else {
		sql, err := sqlstore.Open(ctx, sqlstore.Config{Driver: cfg.Driver, DSN: cfg.DSN, Migrate: cfg.Migrate},
			sqlstore.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		st = sql
	}
	a.closers = append(a.closers, st.Close)
	return st, nil
}

// serveMetrics registers the sync collectors and serves them until
// shutdown.
func (a *App) serveMetrics(ctx context.Context) engine.Metrics {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := metrics.Serve(ctx, a.config.Metrics.Addr, reg, a.logger); err != nil {
			a.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	a.closers = append(a.closers, func() error {
		cancel()
		<-done
		return nil
	})
	return rec
}

// closeAll releases resources in reverse order of creation. Callers hold mu.
func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Shutdown releases the client and everything it was built from.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- a.closeAll() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

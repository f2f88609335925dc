package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nainya/entityversion/internal/config"
	"github.com/nainya/entityversion/internal/logger"
	"github.com/nainya/entityversion/internal/metrics"
	"github.com/nainya/entityversion/pkg/identity"
	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/storage"
	"github.com/nainya/entityversion/pkg/storage/sqlstore"
	"github.com/nainya/entityversion/pkg/version"
)

// commonFlags are accepted by every command and override the config file.
type commonFlags struct {
	configPath  *string
	driver      *string
	dsn         *string
	definitions *string
	user        *string
	logLevel    *string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath:  fs.String("config", "", "YAML config file"),
		driver:      fs.String("driver", "", "Storage driver: sqlite, memory, postgres"),
		dsn:         fs.String("dsn", "", "Storage DSN"),
		definitions: fs.String("definitions", "", "YAML entity definitions"),
		user:        fs.String("user", "", "Acting username recorded in commits"),
		logLevel:    fs.String("log-level", "", "Log level: debug, info, warn, error"),
	}
}

func (f *commonFlags) config() (*config.Config, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if *f.driver != "" {
		cfg.Storage.Driver = *f.driver
	}
	if *f.dsn != "" {
		cfg.Storage.DSN = *f.dsn
	}
	if *f.definitions != "" {
		cfg.Definitions = *f.definitions
	}
	if *f.logLevel != "" {
		cfg.Log.Level = *f.logLevel
	}
	return cfg, cfg.Validate()
}

// writeContext is the context commands act in, pinned to versionID.
func (f *commonFlags) writeContext(versionID string) storage.WriteContext {
	wc := storage.DefaultContext().WithVersionID(versionID)
	if *f.user != "" {
		wc.Principal = &storage.Principal{Username: *f.user}
	}
	return wc
}

// app wires the store, the version manager and observability from config.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *storage.Engine
	manager  *version.Manager
	ready    func(ctx context.Context) error
}

func openApp(ctx context.Context, flags *commonFlags, stderr io.Writer) (*app, error) {
	cfg, err := flags.config()
	if err != nil {
		return nil, err
	}

	log := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: stderr,
	})

	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: prometheus.NewRegistry(),
		ready:    func(context.Context) error { return nil },
	}
	a.metrics = metrics.New(a.registry)

	var backend storage.Backend
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("memory driver keeps nothing after the command exits").Send()
		backend = storage.NewMemoryBackend()
	default:
		sqlBackend, err := sqlstore.Open(ctx, cfg.Storage.Driver, cfg.StorageDSN())
		if err != nil {
			return nil, err
		}
		a.ready = sqlBackend.DB().PingContext
		backend = sqlBackend
	}

	a.store = storage.NewEngine(backend, reg,
		storage.WithLogger(log),
		storage.WithMetrics(a.metrics),
	)

	cache, err := identity.NewCache(cfg.UserCacheSize)
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	users := identity.NewResolver(a.store, cache, identity.WithMetrics(a.metrics))
	a.manager = version.NewManager(a.store, reg, users,
		version.WithLogger(log.Component("version")),
		version.WithMetrics(a.metrics),
	)
	return a, nil
}

// loadRegistry builds the system definitions plus the configured catalog.
func loadRegistry(cfg *config.Config) (*metadata.Registry, error) {
	var defs []metadata.Definition
	if cfg.Definitions != "" {
		var err error
		if defs, err = metadata.LoadFile(cfg.Definitions); err != nil {
			return nil, fmt.Errorf("load definitions: %w", err)
		}
	}
	return metadata.NewRegistry(defs...)
}

func (a *app) Close() error {
	return a.store.Close()
}

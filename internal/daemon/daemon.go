package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"imgbatch/internal/config"
	"imgbatch/internal/events"
	"imgbatch/internal/jobstore"
	"imgbatch/internal/jobstore/pgstore"
	"imgbatch/internal/logging"
	"imgbatch/internal/notifications"
	"imgbatch/internal/objectstore"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/preflight"
	"imgbatch/internal/statuscache"
	"imgbatch/internal/transform"
)

// Daemon owns the job pipeline, its collaborators and the HTTP API, and
// enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    jobstore.Repository
	objects  *objectstore.FileStore
	orch     *pipeline.Orchestrator
	hub      *events.Hub
	notifier notifications.Service
	cache    *statuscache.Cache
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool               `json:"running"`
	Driver       string             `json:"driver"`
	LockFilePath string             `json:"lockFile"`
	Clients      int                `json:"eventClients"`
	Checks       []preflight.Result `json:"checks"`
}

// OpenStore opens the job store selected by cfg.Database.Driver.
func OpenStore(ctx context.Context, cfg *config.Config) (jobstore.Repository, error) {
	if cfg.Database.Driver == config.DriverPostgres {
		store, err := pgstore.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := jobstore.Open(cfg.Database.SQLitePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// New opens the job store and wires every collaborator described by cfg.
// Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	if err := d.wire(ctx, logger); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire(ctx context.Context, logger *slog.Logger) error {
	cfg := d.cfg

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	d.store = store

	objects, err := objectstore.NewFileStore(cfg.Paths.OutputDir, cfg.ImagesBaseURL())
	if err != nil {
		return err
	}
	d.objects = objects

	notifier, err := notifications.NewService(cfg)
	if err != nil {
		return fmt.Errorf("init notifications: %w", err)
	}
	d.notifier = notifier

	d.hub = events.NewHub(logger)
	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithPublisher(d.hub),
	}
	if cfg.Cache.RedisAddr != "" {
		cache, err := statuscache.Connect(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("init status cache: %w", err)
		}
		d.cache = cache
		opts = append(opts, pipeline.WithStatusCache(cache))
	}

	adapter := transform.New(cfg.Transform, transform.WithLogger(logger))
	processor := pipeline.NewItemProcessor(adapter, objects, store, cfg.Workers.TransformConcurrency, logger)
	d.orch = pipeline.NewOrchestrator(store, processor, notifier, cfg.Workers.ItemConcurrency, opts...)
	d.api = newAPIServer(cfg, d, logger)
	return nil
}

// Start acquires the daemon lock, fails jobs interrupted by a previous run,
// logs preflight problems and starts the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another imgbatch daemon instance is already running")
	}

	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg, d.store)) {
		d.logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
		)
	}

	recovered, err := d.orch.Recover(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	if recovered > 0 {
		d.logger.Info("failed interrupted jobs", logging.Int("jobs", recovered))
	}

	if err := d.api.start(); err != nil {
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("imgbatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("driver", d.cfg.Database.Driver),
	)
	return nil
}

// Stop stops accepting requests, waits for running jobs until ctx ends and
// releases the daemon lock.
func (d *Daemon) Stop(ctx context.Context) {
	if !d.running.Load() {
		return
	}

	d.api.stop(ctx)
	if err := d.orch.Shutdown(ctx); err != nil {
		d.logger.Warn("running jobs interrupted by shutdown",
			logging.Error(err),
			logging.String(logging.FieldEventType, "shutdown_interrupted"),
		)
	}
	d.hub.Close()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("imgbatch daemon stopped")
}

// Close stops the daemon and releases its resources.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.Stop(ctx)
	if d.orch != nil {
		// Jobs submitted without Start still own store handles.
		_ = d.orch.Shutdown(ctx)
	}

	var errs []error
	if d.notifier != nil {
		errs = append(errs, d.notifier.Close())
	}
	if d.cache != nil {
		errs = append(errs, d.cache.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Addr returns the API listen address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status including preflight results.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		Driver:       d.cfg.Database.Driver,
		LockFilePath: d.lockPath,
		Clients:      d.hub.ClientCount(),
		Checks:       preflight.RunAll(ctx, d.cfg, d.store),
	}
}

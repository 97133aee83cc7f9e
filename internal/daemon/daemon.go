package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"resonate/internal/config"
	"resonate/internal/fileutil"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/queue"
)

// Daemon coordinates the worker pool and HTTP API and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *queue.Store
	manager *pipeline.Manager
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Pipeline     pipeline.StatusSummary
	QueueDBPath  string
	LockFilePath string
	APIAddress   string
}

// New constructs a daemon. handler may be nil, in which case no HTTP API is served.
func New(cfg *config.Config, store *queue.Store, manager *pipeline.Manager, handler http.Handler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, and pipeline manager")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		manager:  manager,
		api:      newAPIServer(cfg.Paths.APIBind, handler, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Running reports whether a daemon holds the lock at lockPath.
func Running(lockPath string) (bool, error) {
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("check daemon lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	return false, lock.Unlock()
}

// Start acquires the daemon lock, then launches the worker pool and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another resonate daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.manager.Stop()
		_ = d.lock.Unlock()
		return err
	}

	if d.api != nil {
		if err := fileutil.WriteFileAtomic(d.cfg.APIAddressPath(), []byte(d.api.address()+"\n"), 0o600); err != nil {
			cancel()
			d.api.stop()
			d.manager.Stop()
			_ = d.lock.Unlock()
			return fmt.Errorf("record api address: %w", err)
		}
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("resonate daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Stop shuts down the API server, drains the worker pool, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.api != nil {
		if err := os.Remove(d.cfg.APIAddressPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn("failed to remove api address file", logging.Error(err))
		}
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("resonate daemon stopped")
}

// Close releases resources held by the daemon. The store is owned by the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return d.lock.Close()
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Pipeline:     d.manager.Status(ctx),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.api.address(),
	}
}

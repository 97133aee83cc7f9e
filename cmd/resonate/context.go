package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"resonate/internal/blob"
	"resonate/internal/config"
	"resonate/internal/daemon"
	"resonate/internal/delivery"
	"resonate/internal/events"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/queue"
	"resonate/internal/variant"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// localEnv is direct access to the database and blob store. The SQLite
// database is shared safely with a running daemon, which picks up jobs
// enqueued here on its next poll. The blob store opens on first use; see
// remote for the pebble case.
type localEnv struct {
	cfg      *config.Config
	store    *queue.Store
	blobs    blob.Store
	registry *variant.Registry
	service  *pipeline.Service
	links    *delivery.Builder
}

func (c *commandContext) withLocal(fn func(*localEnv) error) (err error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:       "error",
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open queue store: %w", err)
	}
	defer store.Close()

	blobs := &lazyBlobs{open: func() (blob.Store, error) { return blob.Open(cfg) }}
	defer func() {
		err = errors.Join(err, blobs.Close())
	}()

	registry, err := variant.FromConfig(cfg)
	if err != nil {
		return err
	}

	sinks, err := events.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("configure event sinks: %w", err)
	}
	defer sinks.Close()

	machine := lifecycle.NewMachine(store, store, logger)
	machine.SetObserver(events.Observer(sinks.Publisher, logger))

	return fn(&localEnv{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		registry: registry,
		service:  pipeline.NewService(store, blobs, registry, machine, nil, logger),
		links:    delivery.NewFromConfig(cfg, registry),
	})
}

// remote returns a client for the running daemon when the blob store is pebble,
// which allows a single open handle per directory. It returns nil when the
// CLI can open the blob store itself.
func (e *localEnv) remote() (*daemonClient, error) {
	if e.cfg.Blob.Backend != config.BlobBackendPebble {
		return nil, nil
	}
	running, err := daemon.Running(e.cfg.LockPath())
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, nil
	}
	return newDaemonClient(e.cfg, e.links)
}

// lazyBlobs opens the blob store on the first Get or Put.
type lazyBlobs struct {
	open func() (blob.Store, error)

	once  sync.Once
	store blob.Store
	err   error
}

func (l *lazyBlobs) load() (blob.Store, error) {
	l.once.Do(func() {
		l.store, l.err = l.open()
		if l.err != nil {
			l.err = fmt.Errorf("open blob store: %w", l.err)
		}
	})
	return l.store, l.err
}

func (l *lazyBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	store, err := l.load()
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

func (l *lazyBlobs) Put(ctx context.Context, key string, data []byte) error {
	store, err := l.load()
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

func (l *lazyBlobs) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

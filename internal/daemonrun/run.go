package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"resonate/internal/api"
	"resonate/internal/blob"
	"resonate/internal/config"
	"resonate/internal/daemon"
	"resonate/internal/delivery"
	"resonate/internal/events"
	"resonate/internal/fileutil"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/preflight"
	"resonate/internal/queue"
	"resonate/internal/variant"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the resonate daemon and blocks until SIGINT/SIGTERM or cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "resonate.log")},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logRuntimeSnapshot(logger, cfg)
	for _, result := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
		logger.Warn("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "fix the reported path or service before submitting work"),
		)
	}

	pidPath := filepath.Join(cfg.Paths.DataDir, "resonate.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer store.Close()

	blobs, err := blob.Open(cfg)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer blobs.Close()

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

	manager := pipeline.NewManager(cfg, store, blobs, registry, machine, logger)
	service := pipeline.NewService(store, blobs, registry, machine, manager.Wake, logger)
	router := api.NewRouter(api.Options{
		Service:        service,
		Delivery:       delivery.NewFromConfig(cfg, registry),
		Status:         manager,
		Health:         store,
		Token:          cfg.Paths.APIToken,
		MaxUploadBytes: cfg.Pipeline.MaxSourceBytes,
		Logger:         logger,
	})

	d, err := daemon.New(cfg, store, manager, router, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the lock file, api_bind, and database access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("resonate daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return fileutil.WriteFileAtomic(path, []byte(value), 0o644)
}

func logRuntimeSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("blob_backend", cfg.Blob.Backend),
		logging.String("blob_dir", cfg.Paths.BlobDir),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_present", cfg.Paths.APIToken != ""),
		logging.Int("workers", cfg.Pipeline.Workers),
		logging.Int("max_attempts", cfg.Pipeline.MaxAttempts),
		logging.Bool("redis_events", cfg.Events.RedisURL != ""),
		logging.Bool("ntfy_alerts", cfg.Events.NtfyTopic != ""),
		logging.Bool("signed_urls", cfg.Delivery.SigningSecret != ""),
		logging.Int("variant_overrides", len(cfg.Variants)),
	)
}

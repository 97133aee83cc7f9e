package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"testing"

	"resonate/internal/api"
	"resonate/internal/blob"
	"resonate/internal/config"
	"resonate/internal/daemon"
	"resonate/internal/lifecycle"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/queue"
	"resonate/internal/testsupport"
	"resonate/internal/variant"
)

func newDaemon(t *testing.T, cfg *config.Config, store *queue.Store) *daemon.Daemon {
	t.Helper()
	registry, err := variant.FromConfig(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	logger := logging.NewNop()
	blobs := blob.NewMemoryStore()
	machine := lifecycle.NewMachine(store, store, logger)
	mgr := pipeline.NewManager(cfg, store, blobs, registry, machine, logger)
	svc := pipeline.NewService(store, blobs, registry, machine, mgr.Wake, logger)
	handler := api.NewRouter(api.Options{Service: svc, Status: mgr, Health: store, Logger: logger})

	d, err := daemon.New(cfg, store, mgr, handler, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running || !status.Pipeline.Running {
		t.Fatalf("expected daemon and pipeline to report running, got %+v", status)
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}

	resp, err := http.Get("http://" + status.APIAddress + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !health.Healthy {
		t.Fatalf("expected healthy response, got %d %+v", resp.StatusCode, health)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	status = d.Status(ctx)
	if status.Running || status.Pipeline.Running {
		t.Fatalf("expected daemon to be stopped, got %+v", status)
	}
}

func TestSecondInstanceCannotAcquireLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	first := newDaemon(t, cfg, store)
	second := newDaemon(t, cfg, store)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := second.Start(ctx); err == nil {
		t.Fatal("expected second instance to fail")
	}
	if second.Status(ctx).Running {
		t.Fatal("second instance should not report running")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start after release failed: %v", err)
	}
	second.Stop()
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := daemon.New(nil, nil, nil, nil, nil); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestRunningReportsLockHolderAndAddress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	running, err := daemon.Running(cfg.LockPath())
	if err != nil || running {
		t.Fatalf("expected no daemon before Start, got %v %v", running, err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	running, err = daemon.Running(cfg.LockPath())
	if err != nil || !running {
		t.Fatalf("expected running daemon, got %v %v", running, err)
	}
	raw, err := os.ReadFile(cfg.APIAddressPath())
	if err != nil {
		t.Fatalf("read api address: %v", err)
	}
	if got := strings.TrimSpace(string(raw)); got != d.Status(ctx).APIAddress {
		t.Fatalf("recorded address %q, daemon reports %q", got, d.Status(ctx).APIAddress)
	}

	d.Stop()
	running, err = daemon.Running(cfg.LockPath())
	if err != nil || running {
		t.Fatalf("expected lock released after Stop, got %v %v", running, err)
	}
	if _, err := os.Stat(cfg.APIAddressPath()); !os.IsNotExist(err) {
		t.Fatalf("expected api address file removed, got %v", err)
	}
}

package daemon_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"imgbatch/internal/config"
	"imgbatch/internal/daemon"
	"imgbatch/internal/jobstore"
	"imgbatch/internal/logging"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	status := d.Status(ctx)
	if !status.Running || status.Driver != config.DriverSQLite || status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Checks) == 0 {
		t.Fatal("expected preflight checks in status")
	}

	addr := d.Addr()
	if addr == "" {
		t.Fatal("expected listen address after Start")
	}
	resp, err := http.Get("http://" + addr + "/api/jobs")
	if err != nil {
		t.Fatalf("GET /api/jobs: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	d.Stop(ctx)
	if d.Status(ctx).Running {
		t.Fatal("expected daemon stopped")
	}
	if d.Addr() != "" {
		t.Fatal("expected no listen address after Stop")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx := context.Background()

	first, err := daemon.New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, err := daemon.New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	err = second.Start(ctx)
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock conflict, got %v", err)
	}

	first.Stop(ctx)
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after release: %v", err)
	}
}

func TestDaemonStartFailsInterruptedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store, err := jobstore.Open(cfg.Database.SQLitePath)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	testsupport.NewJob(t, store, "left-behind", jobstore.Item{Position: 0, Name: "a", InputURLs: []string{"http://x/a.png"}})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := context.Background()
	d, err := daemon.New(ctx, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + d.Addr() + "/api/jobs/left-behind/items")
	if err != nil {
		t.Fatalf("GET items: %v", err)
	}
	detail := decode[pipeline.JobDetail](t, resp)
	if detail.Job.Status != jobstore.StatusFailed || detail.Job.ErrorMessage != pipeline.InterruptedReason {
		t.Fatalf("expected interrupted job to fail, got %+v", detail.Job)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := daemon.New(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

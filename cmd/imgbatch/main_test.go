package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"imgbatch/internal/daemon"
	"imgbatch/internal/jobstore"
	"imgbatch/internal/logging"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/testsupport"
)

type cliTestEnv struct {
	url    string
	images *testsupport.ImageServer
	dir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	images := testsupport.NewImageServer(t)
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		srv.Close()
		d.Close()
	})
	return &cliTestEnv{url: srv.URL, images: images, dir: t.TempDir()}
}

func (e *cliTestEnv) writeManifest(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--url", url}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestSubmitWaitShowAndList(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := env.writeManifest(t, "products.csv",
		"Product Name,Input Image Urls\n"+
			"shoe,\""+env.images.URL+"/a.png,"+env.images.URL+"/missing.png\"\n")

	out, err := runCLI(t, env.url, "submit", manifest, "--wait", "--json")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var status pipeline.JobStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode submit output %q: %v", out, err)
	}
	if status.Status != jobstore.StatusCompleted || status.JobID == "" {
		t.Fatalf("unexpected status: %+v", status)
	}

	out, err = runCLI(t, env.url, "status", status.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, status.JobID+" completed")

	out, err = runCLI(t, env.url, "show", status.JobID)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "shoe")
	requireContains(t, out, "http://imgbatch.test/images/")
	requireContains(t, out, "Failed images")
	requireContains(t, out, "/missing.png")

	out, err = runCLI(t, env.url, "list", "--status", "completed")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, status.JobID)

	out, err = runCLI(t, env.url, "list", "--status", "failed")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	requireContains(t, out, "No jobs")
}

func TestSubmitReportsValidationFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	manifest := env.writeManifest(t, "bad.csv", "Product Name,Input Image Urls\nshoe,\n")

	_, err := runCLI(t, env.url, "submit", manifest)
	if err == nil {
		t.Fatal("expected validation error")
	}
	requireContains(t, err.Error(), "rejected")
	requireContains(t, err.Error(), "Input Image Urls")
}

func TestStatusUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env.url, "status", "does-not-exist")
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
	requireContains(t, err.Error(), "job not found")
}

func TestHealthPrintsChecks(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env.url, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	requireContains(t, out, "== Checks ==")
	requireContains(t, out, "Data directory")
}

func TestUnreachableDaemon(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	_, err := runCLI(t, url, "list")
	if err == nil {
		t.Fatal("expected connection error")
	}
	requireContains(t, err.Error(), "connect to daemon")
}

func TestConfigInitAndValidate(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out.String(), "Wrote sample configuration")

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected existing-file error, got %v", err)
	}

	out.Reset()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "validate", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out.String(), "Configuration valid")
}

func TestWaitForJobStopsOnLookupError(t *testing.T) {
	env := setupCLITestEnv(t)
	client, err := newAPIClient(env.url)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := waitForJob(ctx, client, "does-not-exist", 10*time.Millisecond); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

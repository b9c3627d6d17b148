package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"imgbatch/internal/config"
	"imgbatch/internal/jobstore"
	"imgbatch/internal/logging"
	"imgbatch/internal/manifest"
	"imgbatch/internal/objectstore"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/testsupport"
	"imgbatch/internal/transform"
)

func row(name, urls string) manifest.Row {
	return manifest.Row{manifest.FieldName: name, manifest.FieldImageURLs: urls}
}

// fakeTransformer echoes the URL as image bytes. URLs containing "fail" error
// and URLs containing "slow" sleep first. It tracks peak concurrency.
type fakeTransformer struct {
	delay time.Duration
	gate  chan struct{}

	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *fakeTransformer) Transform(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.peak.Load()
		if current <= seen || f.peak.CompareAndSwap(seen, current) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	delay := f.delay
	if strings.Contains(url, "slow") {
		delay += 50 * time.Millisecond
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if strings.Contains(url, "panic") {
		panic("decoder exploded")
	}
	if strings.Contains(url, "fail") {
		return nil, &transform.FetchError{URL: url, StatusCode: 404, Err: errors.New("not found")}
	}
	return []byte(url), nil
}

// memoryObjects returns "mem:" plus the stored bytes as the public URL.
type memoryObjects struct{}

func (memoryObjects) Store(ctx context.Context, data []byte) (string, error) {
	return "mem:" + string(data), nil
}

type notifyCall struct {
	jobID  string
	status jobstore.Status
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (r *recordingNotifier) NotifyJobCompleted(ctx context.Context, jobID string, status jobstore.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notifyCall{jobID: jobID, status: status})
	return r.err
}

func (r *recordingNotifier) Close() error { return nil }

func (r *recordingNotifier) Calls() []notifyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notifyCall(nil), r.calls...)
}

type memoryCache struct {
	mu     sync.Mutex
	values map[string]jobstore.Status
	hits   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]jobstore.Status{}}
}

func (c *memoryCache) Get(ctx context.Context, id string) (jobstore.Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.values[id]
	if ok {
		c.hits++
	}
	return status, ok, nil
}

func (c *memoryCache) Put(ctx context.Context, id string, status jobstore.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !status.IsTerminal() {
		return errors.New("non-terminal status cached")
	}
	c.values[id] = status
	return nil
}

type harness struct {
	cfg      *config.Config
	store    *jobstore.Store
	notifier *recordingNotifier
	orch     *pipeline.Orchestrator
}

func newHarness(t *testing.T, transformer pipeline.Transformer, objects pipeline.ObjectStore, opts ...pipeline.Option) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(2, 3))
	store := testsupport.MustOpenStore(t, cfg)
	return newHarnessWithRepo(t, cfg, store, store, transformer, objects, opts...)
}

func newHarnessWithRepo(t *testing.T, cfg *config.Config, store *jobstore.Store, repo jobstore.Repository, transformer pipeline.Transformer, objects pipeline.ObjectStore, opts ...pipeline.Option) *harness {
	t.Helper()
	if objects == nil {
		fs, err := objectstore.NewFileStore(cfg.Paths.OutputDir, cfg.ImagesBaseURL())
		if err != nil {
			t.Fatalf("NewFileStore: %v", err)
		}
		objects = fs
	}
	notifier := &recordingNotifier{}
	processor := pipeline.NewItemProcessor(transformer, objects, repo, cfg.Workers.TransformConcurrency, logging.NewNop())
	orch := pipeline.NewOrchestrator(repo, processor, notifier, cfg.Workers.ItemConcurrency, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &harness{cfg: cfg, store: store, notifier: notifier, orch: orch}
}

func waitForStatus(t *testing.T, orch *pipeline.Orchestrator, id string, want jobstore.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := orch.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if status.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s stuck in %s, want %s", id, status.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

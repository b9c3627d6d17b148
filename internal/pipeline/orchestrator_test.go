package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"imgbatch/internal/jobstore"
	"imgbatch/internal/logging"
	"imgbatch/internal/manifest"
	"imgbatch/internal/objectstore"
	"imgbatch/internal/pipeline"
	"imgbatch/internal/testsupport"
	"imgbatch/internal/transform"
)

func shutdown(t *testing.T, orch *pipeline.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestEndToEndShoeManifestCompletes(t *testing.T) {
	images := testsupport.NewImageServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(2, 3))
	store := testsupport.MustOpenStore(t, cfg)
	adapter := transform.New(cfg.Transform)
	h := newHarnessWithRepo(t, cfg, store, store, adapter, nil)

	rows := []manifest.Row{row("shoe", images.URL+"/1.png,"+images.URL+"/2.png")}
	id, err := h.orch.Submit(context.Background(), rows)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == "" {
		t.Fatal("expected job id")
	}
	waitForStatus(t, h.orch, id, jobstore.StatusCompleted)
	shutdown(t, h.orch)

	detail, err := h.orch.Describe(context.Background(), id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if len(detail.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(detail.Items))
	}
	item := detail.Items[0]
	if item.Name != "shoe" || item.State != jobstore.ItemDone || len(item.OutputURLs) != 2 {
		t.Fatalf("unexpected item: %#v", item)
	}
	for _, output := range item.OutputURLs {
		if !strings.HasPrefix(output, "http://imgbatch.test/images/") || !strings.HasSuffix(output, ".jpg") {
			t.Fatalf("unexpected output url %q", output)
		}
		if data := readObject(t, cfg.Paths.OutputDir, path.Base(output)); len(data) == 0 {
			t.Fatalf("expected stored jpeg for %s", output)
		}
	}
	if images.Requests("/1.png") != 1 || images.Requests("/2.png") != 1 {
		t.Fatal("expected exactly one fetch per image")
	}

	calls := h.notifier.Calls()
	if len(calls) != 1 || calls[0].jobID != id || calls[0].status != jobstore.StatusCompleted {
		t.Fatalf("unexpected notifications: %#v", calls)
	}
}

func readObject(t *testing.T, dir, key string) []byte {
	t.Helper()
	fs, err := objectstore.NewFileStore(dir, "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	p, err := fs.Path(key)
	if err != nil {
		t.Fatalf("Path(%q): %v", key, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read object: %v", err)
	}
	return data
}

func TestInvalidManifestFailsWithoutNotification(t *testing.T) {
	tests := []struct {
		name string
		rows []manifest.Row
		kind error
	}{
		{name: "empty", rows: nil, kind: manifest.ErrEmptyManifest},
		{name: "missing name", rows: []manifest.Row{row("a", "http://x/1.png"), row(" ", "http://x/2.png")}, kind: manifest.ErrMissingField},
		{name: "missing urls", rows: []manifest.Row{{manifest.FieldName: "shoe"}}, kind: manifest.ErrMissingField},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transformer := &fakeTransformer{}
			h := newHarness(t, transformer, memoryObjects{})

			id, err := h.orch.Submit(context.Background(), tc.rows)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			var verr *manifest.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *manifest.ValidationError, got %T", err)
			}
			if id == "" {
				t.Fatal("expected the failed job id to be returned")
			}
			shutdown(t, h.orch)

			status, err := h.orch.Status(context.Background(), id)
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if status.Status != jobstore.StatusFailed {
				t.Fatalf("expected failed, got %s", status.Status)
			}
			job, err := h.store.GetJob(context.Background(), id)
			if err != nil {
				t.Fatalf("GetJob: %v", err)
			}
			if job.ErrorMessage == "" {
				t.Fatal("expected validation message on failed job")
			}
			if calls := h.notifier.Calls(); len(calls) != 0 {
				t.Fatalf("expected no notifications, got %#v", calls)
			}
			if transformer.calls.Load() != 0 {
				t.Fatal("expected no transforms for a rejected manifest")
			}
		})
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	transformer := &fakeTransformer{gate: make(chan struct{})}
	h := newHarness(t, transformer, memoryObjects{})

	id, err := h.orch.Submit(context.Background(), []manifest.Row{row("a", "http://x/1,http://x/2"), row("b", "http://x/3")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var seen []jobstore.Status
	poll := func() {
		status, err := h.orch.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		seen = append(seen, status.Status)
	}
	for range 5 {
		poll()
	}
	close(transformer.gate)
	waitForStatus(t, h.orch, id, jobstore.StatusCompleted)
	for range 5 {
		poll()
	}

	terminal := false
	for _, status := range seen {
		if status.IsTerminal() {
			terminal = true
			continue
		}
		if terminal {
			t.Fatalf("status regressed: %v", seen)
		}
	}
	if seen[0] != jobstore.StatusProcessing || !terminal {
		t.Fatalf("unexpected status sequence: %v", seen)
	}
}

func TestTransformConcurrencyIsBounded(t *testing.T) {
	transformer := &fakeTransformer{delay: 5 * time.Millisecond}
	h := newHarness(t, transformer, memoryObjects{})

	const items = 12
	rows := make([]manifest.Row, items)
	for i := range rows {
		rows[i] = row("item", "http://x/a,http://x/b,http://x/c")
	}
	id, err := h.orch.Submit(context.Background(), rows)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, h.orch, id, jobstore.StatusCompleted)

	if peak := transformer.peak.Load(); peak > int32(h.cfg.Workers.TransformConcurrency) {
		t.Fatalf("peak transforms %d exceeded limit %d", peak, h.cfg.Workers.TransformConcurrency)
	}
	if calls := transformer.calls.Load(); calls != items*3 {
		t.Fatalf("expected %d transforms, got %d", items*3, calls)
	}
	list, err := h.store.ListItems(context.Background(), id)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	for _, item := range list {
		if item.State != jobstore.ItemDone || len(item.OutputURLs) != 3 {
			t.Fatalf("unexpected item: %#v", item)
		}
	}
}

func TestPartialImageFailuresStillComplete(t *testing.T) {
	h := newHarness(t, &fakeTransformer{}, memoryObjects{})

	id, err := h.orch.Submit(context.Background(), []manifest.Row{row("a", "http://x/fail-1,http://x/fail-2")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, h.orch, id, jobstore.StatusCompleted)
	shutdown(t, h.orch)

	detail, err := h.orch.Describe(context.Background(), id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	item := detail.Items[0]
	if len(item.OutputURLs) != 0 || len(item.Failures) != 2 {
		t.Fatalf("expected two failures and no outputs, got %#v", item)
	}
	if len(h.notifier.Calls()) != 1 {
		t.Fatal("expected completion notification despite image failures")
	}
}

type flakyRepository struct {
	jobstore.Repository
	position int
	panics   bool
}

func (f flakyRepository) CompleteItem(ctx context.Context, item *jobstore.Item) error {
	if item.Position == f.position {
		if f.panics {
			panic("driver bug")
		}
		return errors.New("disk full")
	}
	return f.Repository.CompleteItem(ctx, item)
}

func TestItemPersistenceFailureLeavesItemDoneWithoutOutputs(t *testing.T) {
	for _, panics := range []bool{false, true} {
		name := "error"
		if panics {
			name = "panic"
		}
		t.Run(name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(2, 3))
			store := testsupport.MustOpenStore(t, cfg)
			repo := flakyRepository{Repository: store, position: 1, panics: panics}
			h := newHarnessWithRepo(t, cfg, store, repo, &fakeTransformer{}, memoryObjects{})

			id, err := h.orch.Submit(context.Background(), []manifest.Row{
				row("a", "http://x/1"),
				row("b", "http://x/2"),
				row("c", "http://x/3"),
			})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			waitForStatus(t, h.orch, id, jobstore.StatusCompleted)

			items, err := store.ListItems(context.Background(), id)
			if err != nil {
				t.Fatalf("ListItems: %v", err)
			}
			for _, item := range items {
				if item.State != jobstore.ItemDone {
					t.Fatalf("item %d not done: %#v", item.Position, item)
				}
			}
			if len(items[1].OutputURLs) != 0 {
				t.Fatalf("expected no outputs for failed item, got %#v", items[1])
			}
			if len(items[0].OutputURLs) != 1 || len(items[2].OutputURLs) != 1 {
				t.Fatalf("expected other items unaffected: %#v", items)
			}
		})
	}
}

func TestNotifierErrorDoesNotChangeJobState(t *testing.T) {
	h := newHarness(t, &fakeTransformer{}, memoryObjects{})
	h.notifier.err = errors.New("webhook down")

	id, err := h.orch.Submit(context.Background(), []manifest.Row{row("a", "http://x/1")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, h.orch, id, jobstore.StatusCompleted)
	shutdown(t, h.orch)

	job, err := h.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != jobstore.StatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	h := newHarness(t, &fakeTransformer{}, memoryObjects{})
	if _, err := h.orch.Status(context.Background(), "nope"); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.orch.Describe(context.Background(), "nope"); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusCacheHoldsOnlyTerminalStatuses(t *testing.T) {
	cache := newMemoryCache()
	transformer := &fakeTransformer{gate: make(chan struct{})}
	h := newHarness(t, transformer, memoryObjects{}, pipeline.WithStatusCache(cache))

	id, err := h.orch.Submit(context.Background(), []manifest.Row{row("a", "http://x/1")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := h.orch.Status(context.Background(), id); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if _, ok, _ := cache.Get(context.Background(), id); ok {
		t.Fatal("processing status must not be cached")
	}

	close(transformer.gate)
	waitForStatus(t, h.orch, id, jobstore.StatusCompleted)
	status, ok, _ := cache.Get(context.Background(), id)
	if !ok || status != jobstore.StatusCompleted {
		t.Fatalf("expected completed status cached, got %q ok=%v", status, ok)
	}
}

type recordingPublisher struct {
	updates chan *jobstore.Job
}

func (p recordingPublisher) PublishJobUpdate(job *jobstore.Job) {
	p.updates <- job
}

func TestPublisherSeesTransitions(t *testing.T) {
	publisher := recordingPublisher{updates: make(chan *jobstore.Job, 8)}
	h := newHarness(t, &fakeTransformer{}, memoryObjects{}, pipeline.WithPublisher(publisher))

	id, err := h.orch.Submit(context.Background(), []manifest.Row{row("a", "http://x/1")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, h.orch, id, jobstore.StatusCompleted)
	shutdown(t, h.orch)

	first := <-publisher.updates
	last := <-publisher.updates
	if first.ID != id || first.Status != jobstore.StatusProcessing {
		t.Fatalf("unexpected first update: %#v", first)
	}
	if last.ID != id || last.Status != jobstore.StatusCompleted {
		t.Fatalf("unexpected last update: %#v", last)
	}
}

func TestRecoverFailsInterruptedJobs(t *testing.T) {
	h := newHarness(t, &fakeTransformer{}, memoryObjects{})
	testsupport.NewJob(t, h.store, "stale", jobstore.Item{Position: 0, Name: "a", InputURLs: []string{"http://x/1"}})
	testsupport.NewJob(t, h.store, "finished")
	if err := h.store.CompleteJob(context.Background(), "finished"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	recovered, err := h.orch.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("expected 1 recovered job, got %d", recovered)
	}
	job, err := h.store.GetJob(context.Background(), "stale")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != jobstore.StatusFailed || job.ErrorMessage != pipeline.InterruptedReason {
		t.Fatalf("unexpected recovered job: %#v", job)
	}
	done, err := h.store.GetJob(context.Background(), "finished")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if done.Status != jobstore.StatusCompleted {
		t.Fatalf("completed job must stay completed, got %s", done.Status)
	}
}

func TestShutdownRejectsNewSubmissions(t *testing.T) {
	h := newHarness(t, &fakeTransformer{}, memoryObjects{})
	shutdown(t, h.orch)
	if _, err := h.orch.Submit(context.Background(), []manifest.Row{row("a", "http://x/1")}); !errors.Is(err, pipeline.ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestShutdownDeadlineCancelsRunningJobs(t *testing.T) {
	transformer := &fakeTransformer{gate: make(chan struct{})}
	h := newHarness(t, transformer, memoryObjects{})

	id, err := h.orch.Submit(context.Background(), []manifest.Row{row("a", "http://x/1")})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.orch.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	// A fresh orchestrator over the same store recovers the interrupted job.
	processor := pipeline.NewItemProcessor(transformer, memoryObjects{}, h.store, 1, logging.NewNop())
	next := pipeline.NewOrchestrator(h.store, processor, &recordingNotifier{}, 1)
	if _, err := next.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	status, err := next.Status(context.Background(), id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != jobstore.StatusFailed {
		t.Fatalf("expected interrupted job failed, got %s", status.Status)
	}
	if len(h.notifier.Calls()) != 0 {
		t.Fatal("expected no notification for cancelled job")
	}
}

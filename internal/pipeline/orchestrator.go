package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"imgbatch/internal/jobstore"
	"imgbatch/internal/logging"
	"imgbatch/internal/manifest"
	"imgbatch/internal/notifications"
)

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// InterruptedReason is recorded on jobs that a previous process left running.
const InterruptedReason = "interrupted"

// StatusCache is an optional read-through cache of terminal job statuses.
type StatusCache interface {
	Get(ctx context.Context, jobID string) (jobstore.Status, bool, error)
	Put(ctx context.Context, jobID string, status jobstore.Status) error
}

// Publisher receives every job status transition.
type Publisher interface {
	PublishJobUpdate(job *jobstore.Job)
}

// JobStatus is the public answer to a status query.
type JobStatus struct {
	JobID  string          `json:"jobId"`
	Status jobstore.Status `json:"status"`
}

// JobDetail bundles a job with its items.
type JobDetail struct {
	Job   *jobstore.Job   `json:"job"`
	Items []jobstore.Item `json:"items"`
}

// Orchestrator owns job lifecycles: it validates manifests, fans items out
// to the ItemProcessor and moves jobs to their terminal status.
type Orchestrator struct {
	store     jobstore.Repository
	processor *ItemProcessor
	notifier  notifications.Service
	logger    *slog.Logger
	itemLimit int
	cache     StatusCache
	publisher Publisher

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithStatusCache enables caching of terminal statuses.
func WithStatusCache(cache StatusCache) Option {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithPublisher registers a receiver for status transitions.
func WithPublisher(publisher Publisher) Option {
	return func(o *Orchestrator) { o.publisher = publisher }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator builds an orchestrator processing at most itemLimit items
// concurrently per job.
func NewOrchestrator(store jobstore.Repository, processor *ItemProcessor, notifier notifications.Service, itemLimit int, opts ...Option) *Orchestrator {
	if itemLimit <= 0 {
		itemLimit = 1
	}
	runCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:     store,
		processor: processor,
		notifier:  notifier,
		itemLimit: itemLimit,
		runCtx:    runCtx,
		cancelRun: cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "orchestrator")
	return o
}

// Submit creates a job for rows. An invalid manifest yields the job id of the
// persisted failed job together with a *manifest.ValidationError. Otherwise
// processing continues in the background after Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, rows []manifest.Row) (string, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	started := false
	defer func() {
		if !started {
			o.wg.Done()
		}
	}()

	id := uuid.NewString()
	job, err := o.store.CreateJob(ctx, id)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	logger := o.logger.With(logging.String(logging.FieldJobID, id))

	if verr := manifest.Validate(rows); verr != nil {
		if err := o.store.FailJob(ctx, id, verr.Error()); err != nil {
			logger.Error("persist failed job", logging.Error(err))
			return id, errors.Join(verr, err)
		}
		logger.Info("manifest rejected",
			logging.Error(verr),
			logging.String(logging.FieldEventType, "manifest_rejected"),
		)
		o.announce(ctx, id, logger)
		return id, verr
	}

	o.publish(job)
	items := make([]jobstore.Item, len(rows))
	for i, row := range rows {
		items[i] = jobstore.Item{
			JobID:     id,
			Position:  i,
			Name:      row.Name(),
			InputURLs: row.ImageURLs(),
			State:     jobstore.ItemPending,
		}
	}
	logger.Info("job accepted", logging.Int("items", len(items)))

	started = true
	go o.run(logging.WithJobID(o.runCtx, id), id, items, logger)
	return id, nil
}

func (o *Orchestrator) run(ctx context.Context, id string, items []jobstore.Item, logger *slog.Logger) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job run panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			o.fail(ctx, id, "internal error", logger)
		}
	}()

	if err := o.store.InsertItems(ctx, id, items); err != nil {
		logger.Error("persist items failed", logging.Error(err))
		o.fail(ctx, id, "persist items: "+err.Error(), logger)
		return
	}

	var group errgroup.Group
	group.SetLimit(o.itemLimit)
	for _, item := range items {
		group.Go(func() error {
			o.processItem(ctx, item, logger)
			return nil
		})
	}
	_ = group.Wait()

	if err := o.store.CompleteJob(ctx, id); err != nil {
		logger.Error("complete job failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_complete_failed"),
		)
		return
	}
	logger.Info("job completed", logging.String(logging.FieldStatus, string(jobstore.StatusCompleted)))
	o.announce(ctx, id, logger)

	if err := o.notifier.NotifyJobCompleted(ctx, id, jobstore.StatusCompleted); err != nil {
		logger.Warn("completion notification failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
		)
	}
}

func (o *Orchestrator) processItem(ctx context.Context, item jobstore.Item, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("item processing panicked; item completes without outputs",
				logging.Int(logging.FieldPosition, item.Position),
				logging.Any("panic", r),
			)
		}
	}()
	o.processor.Process(ctx, item)
}

func (o *Orchestrator) fail(ctx context.Context, id, reason string, logger *slog.Logger) {
	if err := o.store.FailJob(ctx, id, reason); err != nil {
		logger.Error("mark job failed", logging.Error(err))
		return
	}
	o.announce(ctx, id, logger)
}

// announce publishes and caches the stored state of a job after a terminal
// transition.
func (o *Orchestrator) announce(ctx context.Context, id string, logger *slog.Logger) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		logger.Warn("reload job failed", logging.Error(err))
		return
	}
	o.publish(job)
	if o.cache != nil {
		if err := o.cache.Put(ctx, id, job.Status); err != nil {
			logger.Warn("cache job status failed", logging.Error(err))
		}
	}
}

func (o *Orchestrator) publish(job *jobstore.Job) {
	if o.publisher != nil {
		o.publisher.PublishJobUpdate(job)
	}
}

// Status returns the current status of a job or jobstore.ErrNotFound.
func (o *Orchestrator) Status(ctx context.Context, id string) (*JobStatus, error) {
	if o.cache != nil {
		status, ok, err := o.cache.Get(ctx, id)
		if err != nil {
			o.logger.Warn("read cached status failed", logging.String(logging.FieldJobID, id), logging.Error(err))
		} else if ok {
			return &JobStatus{JobID: id, Status: status}, nil
		}
	}

	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.cache != nil && job.Status.IsTerminal() {
		if err := o.cache.Put(ctx, id, job.Status); err != nil {
			o.logger.Warn("cache job status failed", logging.String(logging.FieldJobID, id), logging.Error(err))
		}
	}
	return &JobStatus{JobID: job.ID, Status: job.Status}, nil
}

// Describe returns a job and its items in manifest order.
func (o *Orchestrator) Describe(ctx context.Context, id string) (*JobDetail, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := o.store.ListItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	if items == nil {
		items = []jobstore.Item{}
	}
	return &JobDetail{Job: job, Items: items}, nil
}

// List returns jobs, optionally filtered by status.
func (o *Orchestrator) List(ctx context.Context, statuses ...jobstore.Status) ([]*jobstore.Job, error) {
	return o.store.ListJobs(ctx, statuses...)
}

// Recover fails jobs left processing by a previous process. It must run
// before the first Submit.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.store.ListJobs(ctx, jobstore.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list interrupted jobs: %w", err)
	}
	recovered := 0
	for _, job := range jobs {
		err := o.store.FailJob(ctx, job.ID, InterruptedReason)
		if errors.Is(err, jobstore.ErrTerminal) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		recovered++
		logger := o.logger.With(logging.String(logging.FieldJobID, job.ID))
		logger.Warn("job interrupted by restart; marked failed",
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		o.announce(ctx, job.ID, logger)
	}
	return recovered, nil
}

// Shutdown rejects new submissions and waits for running jobs. When ctx ends
// first, running jobs are cancelled and left for Recover on the next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancelRun()
		return nil
	case <-ctx.Done():
		o.cancelRun()
		<-done
		return ctx.Err()
	}
}

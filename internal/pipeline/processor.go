package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"imgbatch/internal/jobstore"
	"imgbatch/internal/logging"
)

// Transformer fetches a source image and returns recompressed bytes.
type Transformer interface {
	Transform(ctx context.Context, url string) ([]byte, error)
}

// ObjectStore persists transformed bytes and returns their public URL.
type ObjectStore interface {
	Store(ctx context.Context, data []byte) (string, error)
}

// ItemStore records the outcome of an item.
type ItemStore interface {
	CompleteItem(ctx context.Context, item *jobstore.Item) error
}

// ItemProcessor transforms every image of an item concurrently. The
// transform semaphore is shared by all items of all jobs, so it bounds the
// number of transforms in flight process-wide.
type ItemProcessor struct {
	transformer Transformer
	objects     ObjectStore
	store       ItemStore
	sem         *semaphore.Weighted
	logger      *slog.Logger
}

// NewItemProcessor builds a processor allowing at most transformLimit
// concurrent transforms.
func NewItemProcessor(transformer Transformer, objects ObjectStore, store ItemStore, transformLimit int, logger *slog.Logger) *ItemProcessor {
	if transformLimit <= 0 {
		transformLimit = 1
	}
	return &ItemProcessor{
		transformer: transformer,
		objects:     objects,
		store:       store,
		sem:         semaphore.NewWeighted(int64(transformLimit)),
		logger:      logging.NewComponentLogger(logger, "processor"),
	}
}

type slot struct {
	url string
	err error
}

// Process transforms and stores every input image of item, then persists the
// item as done. It never fails: images that cannot be produced are recorded
// as failures and a persistence error is logged. Outputs and failures keep
// input order.
func (p *ItemProcessor) Process(ctx context.Context, item jobstore.Item) *jobstore.Item {
	logger := logging.WithContext(ctx, p.logger).With(
		logging.Int(logging.FieldPosition, item.Position),
		logging.String(logging.FieldItemName, item.Name),
	)

	slots := make([]slot, len(item.InputURLs))
	var wg sync.WaitGroup
	for i, source := range item.InputURLs {
		// A slot is taken before the goroutine starts, so a large item never
		// has more goroutines than the transform limit.
		if err := p.sem.Acquire(ctx, 1); err != nil {
			slots[i] = slot{err: fmt.Errorf("wait for transform slot: %w", err)}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					slots[i] = slot{err: fmt.Errorf("transform panicked: %v", r)}
				}
			}()
			output, err := p.produce(ctx, source)
			if err != nil {
				logger.Warn("image transform failed; continuing without it",
					logging.String(logging.FieldURL, source),
					logging.Error(err),
					logging.String(logging.FieldEventType, "image_failed"),
				)
				slots[i] = slot{err: err}
				return
			}
			slots[i] = slot{url: output}
		}()
	}
	wg.Wait()

	result := item
	result.OutputURLs = make([]string, 0, len(slots))
	result.Failures = nil
	for i, s := range slots {
		if s.err != nil {
			result.Failures = append(result.Failures, jobstore.Failure{URL: item.InputURLs[i], Reason: s.err.Error()})
			continue
		}
		result.OutputURLs = append(result.OutputURLs, s.url)
	}

	if err := p.store.CompleteItem(ctx, &result); err != nil {
		logger.Error("persist item failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "item_persist_failed"),
		)
		return &result
	}
	logger.Debug("item processed",
		logging.Int("outputs", len(result.OutputURLs)),
		logging.Int("failures", len(result.Failures)),
	)
	return &result
}

func (p *ItemProcessor) produce(ctx context.Context, source string) (string, error) {
	data, err := p.transformer.Transform(ctx, source)
	if err != nil {
		return "", err
	}
	output, err := p.objects.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("store output: %w", err)
	}
	return output, nil
}

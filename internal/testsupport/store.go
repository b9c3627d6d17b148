package testsupport

import (
	"context"
	"testing"

	"imgbatch/internal/config"
	"imgbatch/internal/jobstore"
)

// MustOpenStore opens a jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(cfg.Database.SQLitePath)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a processing job with the given pending items.
func NewJob(t testing.TB, store jobstore.Repository, id string, items ...jobstore.Item) *jobstore.Job {
	t.Helper()

	ctx := context.Background()
	job, err := store.CreateJob(ctx, id)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if len(items) > 0 {
		if err := store.InsertItems(ctx, id, items); err != nil {
			t.Fatalf("InsertItems: %v", err)
		}
	}
	return job
}

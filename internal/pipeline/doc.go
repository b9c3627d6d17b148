// Package pipeline runs batch image jobs.
//
// The Orchestrator validates a manifest, persists one pending item per row
// and dispatches an ItemProcessor for each item through a bounded errgroup.
// Each processor fans out one goroutine per source image, gated by a
// process-wide transform semaphore, and collects results into indexed slots
// so outputs keep input order regardless of completion order. The job moves
// to completed only after every item has finished, then the notifier runs.
//
// Per-image failures are recorded on the item and never fail the job; only
// an invalid manifest does. Jobs still processing when the process stops are
// failed by Recover on the next start.
package pipeline

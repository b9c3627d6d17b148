// Package daemon hosts the long-running imgbatch service.
//
// New wires the job store, object store, transform adapter, notifier,
// optional Redis status cache and websocket event hub into a
// pipeline.Orchestrator. Start takes an exclusive flock so only one daemon
// serves a data directory, fails jobs a previous process left running and
// exposes the HTTP API:
//
//	POST /api/jobs, POST /upload          submit a manifest
//	GET  /api/jobs                        list jobs (?status=)
//	GET  /api/jobs/{id}, GET /status/{id} job status
//	GET  /api/jobs/{id}/items             items with outputs and failures
//	GET  /images/{key}                    transformed images
//	GET  /api/events                      websocket job updates
//	GET  /api/health                      preflight results
package daemon

// Package notifications announces job completion to external systems.
//
// A webhook transport POSTs a small JSON document and a Kafka transport
// produces the same document keyed by job id. NewService fans out to every
// configured transport and degrades to a no-op when none are configured.
// Delivery is attempted once; callers log failures and never change job state
// because of them.
package notifications

// Package preflight provides readiness checks for the filesystem paths and
// services imgbatch depends on.
//
// The daemon runs RunAll at startup and logs every failed check, and the
// /api/health endpoint reports the same results on demand. Optional services
// are only checked when configured.
package preflight

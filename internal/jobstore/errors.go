package jobstore

import "errors"

var (
	// ErrNotFound reports a job or item that does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal reports an attempt to change a job that already finished.
	ErrTerminal = errors.New("job already in terminal state")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)

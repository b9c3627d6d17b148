// Package jobstore persists batch jobs and their items.
//
// Store is the default SQLite backend (modernc.org/sqlite, WAL mode, retry on
// SQLITE_BUSY). The pgstore subpackage implements the same Repository
// contract on PostgreSQL. Both enforce monotonic job status: once a job is
// completed or failed, further transitions return ErrTerminal.
package jobstore

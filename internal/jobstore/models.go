package jobstore

import (
	"context"
	"time"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether a job in this status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ItemState tracks whether an item's images have been processed.
type ItemState string

const (
	ItemPending ItemState = "pending"
	ItemDone    ItemState = "done"
)

// Job is one manifest submission.
type Job struct {
	ID           string     `json:"jobId"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"error,omitempty"`
	ItemCount    int        `json:"itemCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Failure records why one input image produced no output.
type Failure struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Item is one manifest row. OutputURLs preserves input order with failed
// images omitted; Failures lists those omissions in input order.
type Item struct {
	JobID      string    `json:"jobId"`
	Position   int       `json:"position"`
	Name       string    `json:"name"`
	InputURLs  []string  `json:"inputUrls"`
	OutputURLs []string  `json:"outputUrls"`
	Failures   []Failure `json:"failures,omitempty"`
	State      ItemState `json:"state"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Repository is the persistence contract shared by the SQLite and PostgreSQL
// backends.
//
// Job status only moves from processing to a terminal status; transitions on
// a terminal job fail with ErrTerminal. CompleteJob marks any item still
// pending as done with empty outputs before the job itself, so a completed
// job never has pending items.
type Repository interface {
	CreateJob(ctx context.Context, id string) (*Job, error)
	FailJob(ctx context.Context, id, message string) error
	CompleteJob(ctx context.Context, id string) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error)
	InsertItems(ctx context.Context, jobID string, items []Item) error
	CompleteItem(ctx context.Context, item *Item) error
	ListItems(ctx context.Context, jobID string) ([]Item, error)
	Ping(ctx context.Context) error
	Close() error
}

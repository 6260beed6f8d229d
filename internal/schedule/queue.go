package schedule

import (
	"context"
	"time"
)

// Args identifies the work a pending job will do when it runs.
type Args struct {
	SpaceID         string `json:"space_id"`
	EntryID         string `json:"entry_id"`
	ManagementToken string `json:"management_token"`
}

// Job is a pending entry in the delayed task queue.
type Job struct {
	ID           string            `json:"id"`
	Lane         Lane              `json:"lane"`
	Args         Args              `json:"args"`
	RunAt        time.Time         `json:"run_at"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// Matches reports whether the job targets the given entry.
func (j Job) Matches(spaceID, entryID string) bool {
	return j.Args.SpaceID == spaceID && j.Args.EntryID == entryID
}

// PeekAll as a Peek limit returns every pending job.
const PeekAll = -1

// Queue is the delayed task queue the coordinator reconciles against.
// Enqueue and remove are individually atomic; nothing else is assumed.
type Queue interface {
	// EnqueueAt stores a job to run at runAt.
	EnqueueAt(ctx context.Context, runAt time.Time, lane Lane, args Args) error
	// RemoveDelayed deletes every pending job for the lane and entry in
	// args. Removing a job that does not exist is not an error.
	RemoveDelayed(ctx context.Context, lane Lane, args Args) error
	// Peek lists pending jobs of a lane ordered by run time. A limit of
	// PeekAll returns everything from offset on.
	Peek(ctx context.Context, lane Lane, offset, limit int) ([]Job, error)
}

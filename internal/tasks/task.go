package tasks

import (
	"time"

	"github.com/austindbirch/harbor_scheduler/internal/schedule"
)

// Task is the NSQ message body handed from the dispatcher to executors.
type Task struct {
	JobID           string            `json:"job_id"`
	Lane            schedule.Lane     `json:"lane"`
	SpaceID         string            `json:"space_id"`
	EntryID         string            `json:"entry_id"`
	ManagementToken string            `json:"management_token"`
	RunAt           string            `json:"run_at"`        // RFC3339
	DispatchedAt    string            `json:"dispatched_at"` // RFC3339
	TraceHeaders    map[string]string `json:"trace_headers,omitempty"`
}

// FromJob builds the message for a due job.
func FromJob(j schedule.Job, dispatchedAt time.Time) Task {
	return Task{
		JobID:           j.ID,
		Lane:            j.Lane,
		SpaceID:         j.Args.SpaceID,
		EntryID:         j.Args.EntryID,
		ManagementToken: j.Args.ManagementToken,
		RunAt:           j.RunAt.UTC().Format(time.RFC3339),
		DispatchedAt:    dispatchedAt.UTC().Format(time.RFC3339),
		TraceHeaders:    j.TraceHeaders,
	}
}

// Redacted returns a copy safe to publish on shared topics.
func (t Task) Redacted() Task {
	if t.ManagementToken != "" {
		t.ManagementToken = "[redacted]"
	}
	return t
}

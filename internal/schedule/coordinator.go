package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/event"
	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

// ErrQueueOperation wraps failures reported by the delayed task queue.
var ErrQueueOperation = errors.New("queue operation failed")

// Outcome is what happened to one lane of an event.
type Outcome string

const (
	Skipped  Outcome = "skipped"
	Enqueued Outcome = "enqueued"
	Removed  Outcome = "removed"
	Failed   Outcome = "failed"
)

// LaneResult is the outcome of one lane plus what led to it.
type LaneResult struct {
	Lane    Lane       `json:"lane"`
	Outcome Outcome    `json:"outcome"`
	RunAt   *time.Time `json:"run_at,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Err     error      `json:"-"`
}

// Result holds the outcome of both lanes.
type Result struct {
	Publish   LaneResult `json:"publish"`
	Unpublish LaneResult `json:"unpublish"`
}

// For returns the result of the given lane.
func (r Result) For(l Lane) LaneResult {
	if l == Unpublish {
		return r.Unpublish
	}
	return r.Publish
}

func (r *Result) set(lr LaneResult) {
	if lr.Lane == Unpublish {
		r.Unpublish = lr
		return
	}
	r.Publish = lr
}

// SpaceLookup resolves per-space settings; *config.Spaces satisfies it.
type SpaceLookup interface {
	Get(spaceID string) (config.SpaceConfig, bool)
}

// Coordinator brings the delayed task queue in line with an entry's
// publish and unpublish fields. One instance serves the whole process.
//
// There is no in-process locking: two concurrent reconciliations of the
// same entry may both see no pending job and both enqueue. The next
// reconciliation of that entry removes the duplicates.
type Coordinator struct {
	spaces SpaceLookup
	queue  Queue
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source used to decide what is in the future.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger used for lane outcomes.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a Coordinator over the given spaces and queue.
func NewCoordinator(spaces SpaceLookup, queue Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		spaces: spaces,
		queue:  queue,
		logger: logging.New("harbor-scheduler"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reconcile updates or creates the pending jobs for each lane of ev.
// Lanes are handled independently; a failure in one does not stop the other.
func (c *Coordinator) Reconcile(ctx context.Context, ev event.ChangeEvent) Result {
	ctx, span := tracing.StartSpan(ctx, "schedule.Reconcile",
		attribute.String("space_id", ev.SpaceID),
		attribute.String("entry_id", ev.ID),
	)
	defer span.End()

	var res Result
	for _, lane := range Lanes {
		lr := c.reconcileLane(ctx, ev, lane)
		c.report(ctx, ev, lr, "added to")
		res.set(lr)
	}
	return res
}

// Remove deletes pending jobs for each lane of ev. A lane is only touched
// when it is still eligible and a matching job is pending.
func (c *Coordinator) Remove(ctx context.Context, ev event.ChangeEvent) Result {
	ctx, span := tracing.StartSpan(ctx, "schedule.Remove",
		attribute.String("space_id", ev.SpaceID),
		attribute.String("entry_id", ev.ID),
	)
	defer span.End()

	var res Result
	for _, lane := range Lanes {
		lr := c.removeLane(ctx, ev, lane)
		c.report(ctx, ev, lr, "removed from")
		res.set(lr)
	}
	return res
}

func (c *Coordinator) reconcileLane(ctx context.Context, ev event.ChangeEvent, lane Lane) LaneResult {
	sc, value, reason, ok := c.eligible(ev, lane)
	if !ok {
		return LaneResult{Lane: lane, Outcome: Skipped, Reason: reason}
	}

	// Parsed up front, but the stale job goes regardless of the outcome.
	runAt, parseErr := ResolveDate(value)

	stale, err := c.pending(ctx, lane, ev)
	if err != nil {
		return failed(lane, err)
	}
	removed := false
	if len(stale) > 0 {
		if err := c.removeAll(ctx, lane, stale); err != nil {
			return failed(lane, err)
		}
		removed = true
	}

	if parseErr != nil {
		return LaneResult{Lane: lane, Outcome: Failed, Reason: "date field could not be parsed", Err: parseErr}
	}

	now := c.now().UTC()
	if !runAt.After(now) {
		outcome := Skipped
		if removed {
			outcome = Removed
		}
		return LaneResult{Lane: lane, Outcome: outcome, RunAt: &runAt, Reason: "date is not in the future"}
	}

	args := Args{SpaceID: ev.SpaceID, EntryID: ev.ID, ManagementToken: sc.ManagementToken}
	tracing.AddSpanEvent(ctx, "queue.enqueue_at",
		attribute.String("lane", lane.String()),
		attribute.String("run_at", runAt.Format(time.RFC3339)),
	)
	if err := c.queue.EnqueueAt(ctx, runAt, lane, args); err != nil {
		return failed(lane, fmt.Errorf("%w: enqueue %s: %w", ErrQueueOperation, lane, err))
	}
	return LaneResult{Lane: lane, Outcome: Enqueued, RunAt: &runAt}
}

func (c *Coordinator) removeLane(ctx context.Context, ev event.ChangeEvent, lane Lane) LaneResult {
	if _, _, reason, ok := c.eligible(ev, lane); !ok {
		return LaneResult{Lane: lane, Outcome: Skipped, Reason: reason}
	}

	stale, err := c.pending(ctx, lane, ev)
	if err != nil {
		return failed(lane, err)
	}
	if len(stale) == 0 {
		return LaneResult{Lane: lane, Outcome: Skipped, Reason: "no pending job"}
	}
	if err := c.removeAll(ctx, lane, stale); err != nil {
		return failed(lane, err)
	}
	return LaneResult{Lane: lane, Outcome: Removed}
}

// eligible reports whether a lane applies to ev: the space is configured,
// it names a field for the lane, and ev carries a non-null value for it.
func (c *Coordinator) eligible(ev event.ChangeEvent, lane Lane) (config.SpaceConfig, any, string, bool) {
	sc, ok := c.spaces.Get(ev.SpaceID)
	if !ok {
		return sc, nil, "space not configured", false
	}
	field := lane.Field(sc)
	if field == "" {
		return sc, nil, fmt.Sprintf("no %s field configured", lane), false
	}
	value, state := ev.Field(field)
	if state != event.FieldPresent {
		return sc, nil, fmt.Sprintf("field %q is %s", field, state), false
	}
	return sc, value, "", true
}

// pending returns the jobs of a lane that target ev's entry.
func (c *Coordinator) pending(ctx context.Context, lane Lane, ev event.ChangeEvent) ([]Job, error) {
	jobs, err := c.queue.Peek(ctx, lane, 0, PeekAll)
	if err != nil {
		return nil, fmt.Errorf("%w: peek %s: %w", ErrQueueOperation, lane, err)
	}
	var matches []Job
	for _, j := range jobs {
		if j.Matches(ev.SpaceID, ev.ID) {
			matches = append(matches, j)
		}
	}
	return matches, nil
}

// removeAll removes every distinct argument set among jobs, so queues that
// match on the full argument list (token included) drop all of them.
func (c *Coordinator) removeAll(ctx context.Context, lane Lane, jobs []Job) error {
	seen := make(map[Args]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.Args] {
			continue
		}
		seen[j.Args] = true
		tracing.AddSpanEvent(ctx, "queue.remove_delayed", attribute.String("lane", lane.String()))
		if err := c.queue.RemoveDelayed(ctx, lane, j.Args); err != nil {
			return fmt.Errorf("%w: remove %s: %w", ErrQueueOperation, lane, err)
		}
	}
	return nil
}

func (c *Coordinator) report(ctx context.Context, ev event.ChangeEvent, lr LaneResult, action string) {
	metrics.RecordLaneOutcome(lr.Lane.String(), string(lr.Outcome))

	entry := c.logger.WithContext(ctx).WithSpace(ev.SpaceID).WithEntry(ev.ID).WithLane(lr.Lane.String())
	switch lr.Outcome {
	case Enqueued:
		entry.WithField("run_at", lr.RunAt.Format(time.RFC3339)).Infof("entry successfully %s the %s queue", action, lr.Lane)
	case Removed:
		entry.Infof("entry successfully removed from the %s queue", lr.Lane)
	case Failed:
		tracing.SetSpanError(ctx, lr.Err)
		entry.WithError(lr.Err).Warnf("entry couldn't be %s the %s queue", action, lr.Lane)
	default:
		entry.WithField("reason", lr.Reason).Debug("lane skipped")
	}
}

func failed(lane Lane, err error) LaneResult {
	return LaneResult{Lane: lane, Outcome: Failed, Reason: "queue operation failed", Err: err}
}

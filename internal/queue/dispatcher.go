package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/schedule"
	"github.com/austindbirch/harbor_scheduler/internal/tasks"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

// Claimer is the store side of the dispatcher; *Store satisfies it.
type Claimer interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, fn func(schedule.Job) error) (int, error)
	Count(ctx context.Context, lane schedule.Lane) (int, error)
}

// Dispatcher moves due jobs from the store onto their lane topics.
type Dispatcher struct {
	store    Claimer
	pub      tasks.Publisher
	topics   map[schedule.Lane]string
	interval time.Duration
	batch    int
	logger   *logging.Logger
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func WithDispatcherLogger(l *logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

func NewDispatcher(store Claimer, pub tasks.Publisher, nsqCfg config.NSQ, dCfg config.Dispatcher, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store: store,
		pub:   pub,
		topics: map[schedule.Lane]string{
			schedule.Publish:   nsqCfg.PublishTopic,
			schedule.Unpublish: nsqCfg.UnpublishTopic,
		},
		interval: dCfg.PollInterval,
		batch:    dCfg.BatchSize,
		logger:   logging.New("harbor-scheduler-dispatcher"),
		now:      time.Now,
	}
	if d.interval <= 0 {
		d.interval = 5 * time.Second
	}
	if d.batch <= 0 {
		d.batch = 100
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run ticks until ctx is cancelled, dispatching once right away.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Plain().WithFields(map[string]any{
		"interval": d.interval.String(),
		"batch":    d.batch,
	}).Info("dispatcher started")

	d.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			d.logger.Plain().Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	n, err := d.Tick(ctx)
	entry := d.logger.WithContext(ctx).WithField("dispatched", n)
	if err != nil {
		entry.WithError(err).Warn("dispatch incomplete")
	} else if n > 0 {
		entry.Info("due jobs dispatched")
	}
	d.refreshGauges(ctx)
}

// Tick dispatches every job due now, batch by batch. Jobs whose publish
// fails stay in the store and are retried on the next tick.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		now := d.now().UTC()
		n, err := d.store.ClaimDue(ctx, now, d.batch, func(j schedule.Job) error {
			return d.publish(ctx, j, now)
		})
		total += n
		if err != nil {
			return total, err
		}
		if n < d.batch {
			return total, nil
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, j schedule.Job, now time.Time) error {
	topic, ok := d.topics[j.Lane]
	if !ok || topic == "" {
		return fmt.Errorf("no topic for lane %q", j.Lane)
	}

	jobCtx := tracing.ExtractHeaders(ctx, j.TraceHeaders)
	jobCtx, span := tracing.StartSpan(jobCtx, "dispatcher.publish",
		attribute.String("job_id", j.ID),
		attribute.String("lane", j.Lane.String()),
		attribute.String("topic", topic),
	)
	defer span.End()

	task := tasks.FromJob(j, now)
	task.TraceHeaders = tracing.InjectHeaders(jobCtx)
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := d.pub.Publish(topic, body); err != nil {
		tracing.SetSpanError(jobCtx, err)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.RecordDispatched(j.Lane.String(), 1)
	d.logger.WithContext(jobCtx).WithJob(j.ID).WithLane(j.Lane.String()).
		WithSpace(j.Args.SpaceID).WithEntry(j.Args.EntryID).
		WithField("run_at", j.RunAt.Format(time.RFC3339)).Debug("job dispatched")
	return nil
}

func (d *Dispatcher) refreshGauges(ctx context.Context) {
	for _, lane := range schedule.Lanes {
		n, err := d.store.Count(ctx, lane)
		if err != nil {
			d.logger.WithContext(ctx).WithLane(lane.String()).WithError(err).Warn("count pending jobs failed")
			continue
		}
		metrics.SetPendingJobs(lane.String(), n)
	}
}

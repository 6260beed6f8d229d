package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/schedule"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

// Performer runs one task; *Executor satisfies it.
type Performer interface {
	Perform(ctx context.Context, lane schedule.Lane, spaceID, entryID, token string) error
}

// Publisher is the producer side used for dead letters; *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Handler consumes task messages from a lane topic.
type Handler struct {
	exec     Performer
	retry    RetryPolicy
	dlq      Publisher
	dlqTopic string
	logger   *logging.Logger
	ctx      context.Context
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithDeadLetters publishes exhausted and terminal tasks to topic.
func WithDeadLetters(p Publisher, topic string) HandlerOption {
	return func(h *Handler) {
		h.dlq = p
		h.dlqTopic = topic
	}
}

// WithHandlerLogger sets the logger.
func WithHandlerLogger(l *logging.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithBaseContext sets the parent context of every execution.
func WithBaseContext(ctx context.Context) HandlerOption {
	return func(h *Handler) { h.ctx = ctx }
}

func NewHandler(exec Performer, retry RetryPolicy, opts ...HandlerOption) *Handler {
	h := &Handler{
		exec:   exec,
		retry:  retry,
		logger: logging.New("harbor-scheduler-worker"),
		ctx:    context.Background(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMessage implements nsq.Handler. It always responds itself: Finish on
// success or terminal failure, Requeue with backoff otherwise. The attempt
// number is the nsqd delivery count.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	m.DisableAutoResponse()
	defer func() {
		if !m.HasResponded() {
			h.logger.Plain().Warn("message had no response, finishing")
			m.Finish()
		}
	}()

	var t Task
	if err := json.Unmarshal(m.Body, &t); err != nil {
		h.logger.Plain().WithError(err).Error("bad task payload")
		metrics.RecordExecution("unknown", "failed", 0)
		m.Finish() // terminal: don't retry bad payloads
		return nil
	}
	if _, err := schedule.ParseLane(string(t.Lane)); err != nil || t.SpaceID == "" || t.EntryID == "" {
		h.logger.Plain().WithField("lane", string(t.Lane)).Error("incomplete task payload")
		metrics.RecordExecution("unknown", "failed", 0)
		m.Finish()
		return nil
	}

	attempt := int(m.Attempts)
	if attempt < 1 {
		attempt = 1
	}
	lane := t.Lane.String()

	ctx := tracing.ExtractHeaders(h.ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.execute",
		attribute.String("job_id", t.JobID),
		attribute.String("lane", lane),
		attribute.String("space_id", t.SpaceID),
		attribute.String("entry_id", t.EntryID),
		attribute.Int("attempt", attempt),
	)
	defer span.End()

	log := func() *logging.LogEntry {
		return h.logger.WithContext(ctx).WithJob(t.JobID).WithLane(lane).WithSpace(t.SpaceID).WithEntry(t.EntryID)
	}

	start := time.Now()
	err := h.exec.Perform(ctx, t.Lane, t.SpaceID, t.EntryID, t.ManagementToken)
	latency := time.Since(start)

	if err == nil {
		tracing.AddSpanEvent(ctx, "task.success")
		metrics.RecordExecution(lane, "success", latency)
		log().WithField("attempt", attempt).Infof("entry %sed", lane)
		m.Finish()
		return nil
	}

	tracing.SetSpanError(ctx, err)
	reason, status := classifyReason(err)
	span.SetAttributes(attribute.String("failure_reason", reason))

	if terminal(reason) || h.retry.Exhausted(attempt) {
		why := fmt.Sprintf("max attempts reached (%d)", attempt)
		if terminal(reason) {
			why = reason
		}
		metrics.RecordExecution(lane, "dead", latency)
		metrics.RecordDLQ(reason)
		h.deadLetter(ctx, t, attempt, status, err, why)
		log().WithError(err).WithField("reason", why).Error("task dropped")
		m.Finish()
		return nil
	}

	metrics.RecordExecution(lane, "failed", latency)
	metrics.RecordRetry(reason)
	delay := h.retry.Delay(attempt)
	tracing.AddSpanEvent(ctx, "task.requeue",
		attribute.Int("attempt", attempt),
		attribute.String("delay", delay.String()),
	)
	log().WithError(err).WithFields(map[string]any{
		"attempt": attempt,
		"delay":   delay.String(),
		"reason":  reason,
	}).Warn("requeue task")
	m.Requeue(delay)
	return nil
}

func (h *Handler) deadLetter(ctx context.Context, t Task, attempt, status int, err error, reason string) {
	if h.dlq == nil || h.dlqTopic == "" {
		return
	}
	body, mErr := json.Marshal(NewDeadLetter(t, attempt, status, err.Error(), reason))
	if mErr != nil {
		h.logger.WithContext(ctx).WithJob(t.JobID).WithError(mErr).Error("dlq encode failed")
		return
	}
	if pErr := h.dlq.Publish(h.dlqTopic, body); pErr != nil {
		tracing.SetSpanError(ctx, pErr)
		h.logger.WithContext(ctx).WithJob(t.JobID).WithError(pErr).Error("dlq publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq", attribute.String("topic", h.dlqTopic))
}

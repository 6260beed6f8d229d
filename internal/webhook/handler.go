package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/harbor_scheduler/internal/event"
	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/schedule"
	"github.com/austindbirch/harbor_scheduler/internal/tracing"
)

// Scheduler is the coordinator side of the handler; *schedule.Coordinator satisfies it.
type Scheduler interface {
	Reconcile(ctx context.Context, ev event.ChangeEvent) schedule.Result
	Remove(ctx context.Context, ev event.ChangeEvent) schedule.Result
}

// Authorizer decides whether an event may touch the queue; *auth.Evaluator satisfies it.
type Authorizer interface {
	Check(ev event.ChangeEvent) (bool, string)
}

// Response is the JSON body written for every request.
type Response struct {
	Status  string           `json:"status"`
	Action  string           `json:"action,omitempty"`
	SpaceID string           `json:"space_id,omitempty"`
	EntryID string           `json:"entry_id,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Result  *schedule.Result `json:"result,omitempty"`
}

// Handler serves change webhooks.
type Handler struct {
	sched   Scheduler
	auth    Authorizer
	logger  *logging.Logger
	maxBody int64
}

func NewHandler(sched Scheduler, authz Authorizer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.New("harbor-scheduler")
	}
	return &Handler{sched: sched, auth: authz, logger: logger, maxBody: DefaultMaxBody}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, Response{Status: "error", Reason: "method not allowed"})
		return
	}

	ctx := tracing.ExtractHeaders(r.Context(), flattenHeaders(r.Header))
	ctx, span := tracing.StartSpan(ctx, "webhook.receive")
	defer span.End()

	n, err := Parse(r, h.maxBody)
	if err != nil {
		metrics.RecordWebhook("malformed")
		tracing.SetSpanError(ctx, err)
		h.logger.WithContext(ctx).WithField("topic", n.Topic).WithError(err).Warn("rejecting malformed webhook")
		writeJSON(w, http.StatusBadRequest, Response{Status: "error", Reason: err.Error()})
		return
	}

	ev := n.Event
	span.SetAttributes(
		attribute.String("topic", n.Topic),
		attribute.String("space_id", ev.SpaceID),
		attribute.String("entry_id", ev.ID),
	)
	resp := Response{SpaceID: ev.SpaceID, EntryID: ev.ID}

	route := n.Route()
	if !ev.IsEntry() || route == RouteIgnore {
		metrics.RecordWebhook("ignored")
		resp.Status = "ignored"
		resp.Reason = "not an entry change this service acts on"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Action = route.String()

	entry := h.logger.WithContext(ctx).WithSpace(ev.SpaceID).WithEntry(ev.ID)
	if h.auth != nil {
		if ok, reason := h.auth.Check(ev); !ok {
			metrics.RecordWebhook("unauthorized")
			metrics.RecordAuthDenied(ev.SpaceID)
			entry.WithField("reason", reason).Warn("skipping, authentication failed")
			resp.Status = "unauthorized"
			resp.Reason = reason
			// Acknowledged so the CMS does not retry or disable the webhook.
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	metrics.RecordWebhook(route.String())
	var res schedule.Result
	switch route {
	case RouteReconcile:
		entry.Info("queueing")
		res = h.sched.Reconcile(ctx, ev)
	case RouteRemove:
		entry.Info("unqueueing")
		res = h.sched.Remove(ctx, ev)
	}

	resp.Status = "accepted"
	resp.Result = &res
	writeJSON(w, http.StatusAccepted, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

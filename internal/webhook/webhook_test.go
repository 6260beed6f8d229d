package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austindbirch/harbor_scheduler/internal/auth"
	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/event"
	"github.com/austindbirch/harbor_scheduler/internal/logging"
	"github.com/austindbirch/harbor_scheduler/internal/metrics"
	"github.com/austindbirch/harbor_scheduler/internal/schedule"
)

const entryBody = `{
  "sys": {"id": "entry-1", "type": "Entry", "space": {"sys": {"id": "foo"}}},
  "fields": {
    "publishDate": {"en-US": "2030-04-04T22:00:00+00:00"},
    "title": {"en-US": "Hello"}
  }
}`

func newRequest(topic, body string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/spaces/scheduler", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/vnd.contentful.management.v1+json")
	if topic != "" {
		r.Header.Set(TopicHeader, topic)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestRouteFor(t *testing.T) {
	tests := map[string]Route{
		"create":    RouteReconcile,
		"save":      RouteReconcile,
		"auto_save": RouteReconcile,
		"unarchive": RouteReconcile,
		"delete":    RouteRemove,
		"unpublish": RouteRemove,
		"archive":   RouteRemove,
		"publish":   RouteRemove,
		"":          RouteIgnore,
		"rename":    RouteIgnore,
	}
	for action, want := range tests {
		t.Run(action, func(t *testing.T) {
			assert.Equal(t, want, RouteFor(action))
		})
	}
}

func TestParse(t *testing.T) {
	r := newRequest("ContentManagement.Entry.save", entryBody, map[string]string{"X-Webhook-Token": "abc"})
	r.Header.Add("X-Multi", "a")
	r.Header.Add("X-Multi", "b")

	n, err := Parse(r, 0)
	require.NoError(t, err)

	assert.Equal(t, "ContentManagement.Entry.save", n.Topic)
	assert.Equal(t, "Entry", n.Kind)
	assert.Equal(t, "save", n.Action)
	assert.Equal(t, RouteReconcile, n.Route())

	ev := n.Event
	assert.Equal(t, "entry-1", ev.ID)
	assert.Equal(t, "foo", ev.SpaceID)
	assert.True(t, ev.IsEntry())
	v, state := ev.Field("publishDate")
	assert.Equal(t, event.FieldPresent, state)
	assert.Equal(t, map[string]any{"en-US": "2030-04-04T22:00:00+00:00"}, v)

	tok, ok := ev.Header("x-webhook-token")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	multi, _ := ev.Header("X-Multi")
	assert.Equal(t, "a, b", multi)
}

func TestParse_TypeFromTopicWhenSysTypeMissing(t *testing.T) {
	n, err := Parse(newRequest("ContentManagement.Entry.delete", `{"sys":{"id":"e","space":{"sys":{"id":"s"}}}}`, nil), 0)
	require.NoError(t, err)
	assert.Equal(t, "Entry", n.Event.Type)
	assert.Equal(t, RouteRemove, n.Route())
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
		max  int64
	}{
		{"not json", "{nope", 0},
		{"missing id", `{"sys":{"type":"Entry"}}`, 0},
		{"empty", "", 0},
		{"too large", entryBody, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(newRequest("ContentManagement.Entry.save", tt.body, nil), tt.max)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

type call struct {
	op string
	ev event.ChangeEvent
}

type fakeScheduler struct {
	calls []call
}

func (f *fakeScheduler) Reconcile(_ context.Context, ev event.ChangeEvent) schedule.Result {
	f.calls = append(f.calls, call{"reconcile", ev})
	return schedule.Result{
		Publish:   schedule.LaneResult{Lane: schedule.Publish, Outcome: schedule.Enqueued},
		Unpublish: schedule.LaneResult{Lane: schedule.Unpublish, Outcome: schedule.Skipped},
	}
}

func (f *fakeScheduler) Remove(_ context.Context, ev event.ChangeEvent) schedule.Result {
	f.calls = append(f.calls, call{"remove", ev})
	return schedule.Result{
		Publish:   schedule.LaneResult{Lane: schedule.Publish, Outcome: schedule.Removed},
		Unpublish: schedule.LaneResult{Lane: schedule.Unpublish, Outcome: schedule.Skipped},
	}
}

func quietLogger() *logging.Logger {
	l := logging.New("test")
	l.SetOutput(io.Discard)
	return l
}

func testEvaluator(t *testing.T) *auth.Evaluator {
	t.Helper()
	spaces, err := config.NewSpaces(
		config.SpaceConfig{SpaceID: "foo", PublishField: "publishDate"},
		config.SpaceConfig{SpaceID: "locked", PublishField: "publishDate",
			Auth: auth.KeyValue{HeaderKey: "X-Webhook-Token", AllowedValues: []string{"test_1"}}},
	)
	require.NoError(t, err)
	return auth.NewEvaluator(spaces.Policy)
}

func TestHandler_ServeHTTP(t *testing.T) {
	lockedBody := strings.Replace(entryBody, `"id": "foo"`, `"id": "locked"`, 1)
	assetBody := strings.Replace(entryBody, `"type": "Entry"`, `"type": "Asset"`, 1)

	tests := []struct {
		name       string
		method     string
		topic      string
		body       string
		headers    map[string]string
		wantCode   int
		wantStatus string
		wantOp     string
	}{
		{name: "save reconciles", topic: "ContentManagement.Entry.save", body: entryBody, wantCode: 202, wantStatus: "accepted", wantOp: "reconcile"},
		{name: "auto_save reconciles", topic: "ContentManagement.Entry.auto_save", body: entryBody, wantCode: 202, wantStatus: "accepted", wantOp: "reconcile"},
		{name: "publish removes", topic: "ContentManagement.Entry.publish", body: entryBody, wantCode: 202, wantStatus: "accepted", wantOp: "remove"},
		{name: "archive removes", topic: "ContentManagement.Entry.archive", body: entryBody, wantCode: 202, wantStatus: "accepted", wantOp: "remove"},
		{name: "asset ignored", topic: "ContentManagement.Asset.save", body: assetBody, wantCode: 200, wantStatus: "ignored"},
		{name: "unknown action ignored", topic: "ContentManagement.Entry.rename", body: entryBody, wantCode: 200, wantStatus: "ignored"},
		{name: "malformed", topic: "ContentManagement.Entry.save", body: "{", wantCode: 400, wantStatus: "error"},
		{name: "wrong method", method: http.MethodGet, topic: "ContentManagement.Entry.save", body: entryBody, wantCode: 405, wantStatus: "error"},
		{name: "auth denied", topic: "ContentManagement.Entry.save", body: lockedBody, wantCode: 200, wantStatus: "unauthorized"},
		{name: "auth wrong token", topic: "ContentManagement.Entry.save", body: lockedBody, headers: map[string]string{"X-Webhook-Token": "nope"}, wantCode: 200, wantStatus: "unauthorized"},
		{name: "auth ok", topic: "ContentManagement.Entry.save", body: lockedBody, headers: map[string]string{"X-Webhook-Token": "test_1"}, wantCode: 202, wantStatus: "accepted", wantOp: "reconcile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics.AuthDenialsTotal.Reset()
			sched := &fakeScheduler{}
			h := NewHandler(sched, testEvaluator(t), quietLogger())

			req := newRequest(tt.topic, tt.body, tt.headers)
			if tt.method != "" {
				req.Method = tt.method
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var resp Response
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)

			if tt.wantOp == "" {
				assert.Empty(t, sched.calls)
				assert.Nil(t, resp.Result)
				if tt.wantStatus == "unauthorized" {
					assert.Equal(t, "locked", resp.SpaceID)
					assert.NotEmpty(t, resp.Reason)
					assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuthDenialsTotal.WithLabelValues("locked")))
				}
				return
			}
			require.Len(t, sched.calls, 1)
			assert.Equal(t, tt.wantOp, sched.calls[0].op)
			assert.Equal(t, tt.wantOp, resp.Action)
			require.NotNil(t, resp.Result)
			assert.Equal(t, schedule.Publish, resp.Result.Publish.Lane)
		})
	}
}

// listQueue is a minimal schedule.Queue for end-to-end handler tests.
type listQueue struct {
	mu   sync.Mutex
	jobs []schedule.Job
}

func (q *listQueue) EnqueueAt(_ context.Context, runAt time.Time, lane schedule.Lane, args schedule.Args) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, schedule.Job{Lane: lane, Args: args, RunAt: runAt})
	return nil
}

func (q *listQueue) RemoveDelayed(_ context.Context, lane schedule.Lane, args schedule.Args) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if !(j.Lane == lane && j.Matches(args.SpaceID, args.EntryID)) {
			kept = append(kept, j)
		}
	}
	q.jobs = kept
	return nil
}

func (q *listQueue) Peek(_ context.Context, lane schedule.Lane, _, _ int) ([]schedule.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []schedule.Job
	for _, j := range q.jobs {
		if j.Lane == lane {
			out = append(out, j)
		}
	}
	return out, nil
}

func TestHandler_EndToEnd(t *testing.T) {
	spaces, err := config.NewSpaces(config.SpaceConfig{
		SpaceID:         "foo",
		PublishField:    "publishDate",
		UnpublishField:  "unpublishDate",
		ManagementToken: "tok-foo",
	})
	require.NoError(t, err)

	q := &listQueue{}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	coord := schedule.NewCoordinator(spaces, q,
		schedule.WithClock(func() time.Time { return now }),
		schedule.WithLogger(quietLogger()),
	)
	h := NewHandler(coord, auth.NewEvaluator(spaces.Policy), quietLogger())

	// save twice: still one job
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newRequest("ContentManagement.Entry.save", entryBody, nil))
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, schedule.Enqueued, resp.Result.Publish.Outcome)
		assert.Equal(t, schedule.Skipped, resp.Result.Unpublish.Outcome)
	}
	require.Len(t, q.jobs, 1)
	assert.Equal(t, time.Date(2030, 4, 4, 22, 0, 0, 0, time.UTC), q.jobs[0].RunAt)
	assert.Equal(t, "tok-foo", q.jobs[0].Args.ManagementToken)

	// publishing the entry by hand drops the pending job
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newRequest("ContentManagement.Entry.publish", entryBody, nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, q.jobs)
}

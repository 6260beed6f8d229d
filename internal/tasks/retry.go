package tasks

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/austindbirch/harbor_scheduler/internal/config"
	"github.com/austindbirch/harbor_scheduler/internal/contentapi"
)

// RetryPolicy decides how often and how late a failed task is retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	JitterPct   float64
}

// PolicyFromConfig copies the worker retry settings.
func PolicyFromConfig(w config.Worker) RetryPolicy {
	return RetryPolicy{MaxAttempts: w.MaxAttempts, Backoff: w.BackoffSchedule, JitterPct: w.JitterPercent}
}

// Delay is the requeue delay after the given 1-based attempt failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return computeDelay(attempt, p.Backoff, p.JitterPct)
}

// Exhausted reports whether no attempts remain after attempt.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

func computeDelay(attempt int, schedule []time.Duration, jitterPct float64) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	// attempt is 1-based; map to schedule index
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	base := schedule[idx]
	// jitter: +/- jitterPct
	j := 1 + (rand.Float64()*2-1)*jitterPct
	if j < 0.1 {
		j = 0.1
	}
	return time.Duration(float64(base) * j)
}

// classifyReason labels a failure for the retries metric and returns the
// HTTP status behind it, if any.
func classifyReason(err error) (string, int) {
	var apiErr *contentapi.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 404:
			return "not_found", apiErr.StatusCode
		case apiErr.StatusCode == 429:
			return "http_429", apiErr.StatusCode
		case apiErr.StatusCode >= 500:
			return "http_5xx", apiErr.StatusCode
		default:
			return "http_4xx", apiErr.StatusCode
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", 0
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout", 0
	case strings.Contains(msg, "connection refused"):
		return "connection_refused", 0
	case strings.Contains(msg, "no such host"):
		return "dns_error", 0
	}
	if errors.As(err, &netErr) {
		return "network", 0
	}
	return "other", 0
}

// terminal failures are not retried: the entry is gone or the task can
// never succeed as written.
func terminal(reason string) bool {
	return reason == "not_found"
}

package auth

import (
	"fmt"

	"github.com/austindbirch/harbor_scheduler/internal/event"
)

// PolicyLookup returns the policy configured for a space, if any.
type PolicyLookup func(spaceID string) (Policy, bool)

// Evaluator gates inbound change events on their space's auth policy.
// It only returns a verdict; callers own logging of denials.
type Evaluator struct {
	lookup PolicyLookup
}

// NewEvaluator creates an Evaluator over the given policy lookup
func NewEvaluator(lookup PolicyLookup) *Evaluator {
	return &Evaluator{lookup: lookup}
}

// Authorize reports whether the event may be processed
func (e *Evaluator) Authorize(ev event.ChangeEvent) bool {
	ok, _ := e.Check(ev)
	return ok
}

// Check is Authorize plus a short reason suitable for logs when denied.
func (e *Evaluator) Check(ev event.ChangeEvent) (bool, string) {
	var (
		p  Policy
		ok bool
	)
	if e != nil && e.lookup != nil {
		p, ok = e.lookup(ev.SpaceID)
	}
	if !ok || p == nil {
		return true, ""
	}
	return Evaluate(p, ev)
}

// Evaluate applies a single policy to an event.
func Evaluate(p Policy, ev event.ChangeEvent) (bool, string) {
	switch p := p.(type) {
	case None:
		return true, ""
	case KeyValue:
		value, found := ev.Header(p.HeaderKey)
		if !found {
			return false, fmt.Sprintf("missing header %q", p.HeaderKey)
		}
		if !p.Allows(value) {
			return false, fmt.Sprintf("header %q value not allowed", p.HeaderKey)
		}
		return true, ""
	case Predicate:
		value, found := ev.Header(p.HeaderKey)
		if !found {
			return false, fmt.Sprintf("missing header %q", p.HeaderKey)
		}
		if p.Validate == nil {
			return false, "no validator configured"
		}
		if !p.Validate(value) {
			return false, fmt.Sprintf("header %q rejected by validator", p.HeaderKey)
		}
		return true, ""
	case Deny:
		if p.Reason != "" {
			return false, p.Reason
		}
		return false, "unrecognized auth configuration"
	default:
		return false, fmt.Sprintf("unsupported policy %T", p)
	}
}

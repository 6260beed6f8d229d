package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/austindbirch/harbor_scheduler/internal/event"
)

func eventWithHeaders(spaceID string, headers map[string]string) event.ChangeEvent {
	return event.ChangeEvent{ID: "entry-1", SpaceID: spaceID, Type: "Entry", RawHeaders: headers}
}

func lookupFrom(policies map[string]Policy) PolicyLookup {
	return func(spaceID string) (Policy, bool) {
		p, ok := policies[spaceID]
		return p, ok
	}
}

func TestEvaluator_NoPolicyAuthorizes(t *testing.T) {
	ev := NewEvaluator(lookupFrom(map[string]Policy{}))
	assert.True(t, ev.Authorize(eventWithHeaders("foo", nil)))

	var nilEval *Evaluator
	assert.True(t, nilEval.Authorize(eventWithHeaders("foo", nil)))

	assert.True(t, NewEvaluator(nil).Authorize(eventWithHeaders("foo", nil)))
}

func TestEvaluator_KeyValue(t *testing.T) {
	tests := []struct {
		name    string
		policy  KeyValue
		headers map[string]string
		want    bool
	}{
		{
			name:    "allowed value in list",
			policy:  KeyValue{HeaderKey: "auth", AllowedValues: []string{"test_1"}},
			headers: map[string]string{"auth": "test_1"},
			want:    true,
		},
		{
			name:    "header absent",
			policy:  KeyValue{HeaderKey: "auth", AllowedValues: []string{"test_1"}},
			headers: map[string]string{},
			want:    false,
		},
		{
			name:    "wrong value",
			policy:  KeyValue{HeaderKey: "auth", AllowedValues: []string{"test_1"}},
			headers: map[string]string{"auth": "wrong"},
			want:    false,
		},
		{
			name:    "member of several",
			policy:  KeyValue{HeaderKey: "auth", AllowedValues: []string{"test_1", "test_2"}},
			headers: map[string]string{"auth": "test_2"},
			want:    true,
		},
		{
			name:    "not a member of several",
			policy:  KeyValue{HeaderKey: "auth", AllowedValues: []string{"test_1", "test_2"}},
			headers: map[string]string{"auth": "test_3"},
			want:    false,
		},
		{
			name:    "single value requires exact match",
			policy:  KeyValue{HeaderKey: "auth", AllowedValues: []string{"test_1"}},
			headers: map[string]string{"auth": "test_1 "},
			want:    false,
		},
		{
			name:    "empty allow list denies",
			policy:  KeyValue{HeaderKey: "auth"},
			headers: map[string]string{"auth": ""},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewEvaluator(lookupFrom(map[string]Policy{"foo": tt.policy}))
			assert.Equal(t, tt.want, ev.Authorize(eventWithHeaders("foo", tt.headers)))
		})
	}
}

func TestEvaluator_Predicate(t *testing.T) {
	lengthIsFour := func(v string) bool { return len(v) == 4 }

	tests := []struct {
		name    string
		policy  Predicate
		headers map[string]string
		want    bool
	}{
		{
			name:    "validator accepts",
			policy:  Predicate{HeaderKey: "auth", Validate: lengthIsFour},
			headers: map[string]string{"auth": "test"},
			want:    true,
		},
		{
			name:    "validator rejects",
			policy:  Predicate{HeaderKey: "auth", Validate: lengthIsFour},
			headers: map[string]string{"auth": "abc"},
			want:    false,
		},
		{
			name:    "header absent",
			policy:  Predicate{HeaderKey: "auth", Validate: lengthIsFour},
			headers: nil,
			want:    false,
		},
		{
			name:    "nil validator denies",
			policy:  Predicate{HeaderKey: "auth"},
			headers: map[string]string{"auth": "test"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewEvaluator(lookupFrom(map[string]Policy{"foo": tt.policy}))
			assert.Equal(t, tt.want, ev.Authorize(eventWithHeaders("foo", tt.headers)))
		})
	}
}

func TestEvaluator_DenyAndNone(t *testing.T) {
	ev := NewEvaluator(lookupFrom(map[string]Policy{
		"open":   None{},
		"closed": Deny{},
		"why":    Deny{Reason: "auth block has no key"},
	}))

	assert.True(t, ev.Authorize(eventWithHeaders("open", nil)))

	ok, reason := ev.Check(eventWithHeaders("closed", map[string]string{"auth": "x"}))
	assert.False(t, ok)
	assert.Equal(t, "unrecognized auth configuration", reason)

	ok, reason = ev.Check(eventWithHeaders("why", nil))
	assert.False(t, ok)
	assert.Equal(t, "auth block has no key", reason)
}

func TestEvaluator_OtherSpacesUnaffected(t *testing.T) {
	ev := NewEvaluator(lookupFrom(map[string]Policy{
		"foo": KeyValue{HeaderKey: "auth", AllowedValues: []string{"test_1"}},
	}))

	assert.False(t, ev.Authorize(eventWithHeaders("foo", nil)))
	assert.True(t, ev.Authorize(eventWithHeaders("bar", nil)))
}

func TestEvaluate_ReasonMentionsHeader(t *testing.T) {
	ok, reason := Evaluate(KeyValue{HeaderKey: "X-Token", AllowedValues: []string{"a"}}, eventWithHeaders("foo", nil))
	assert.False(t, ok)
	assert.Contains(t, reason, "X-Token")
}

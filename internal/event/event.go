package event

import (
	"net/textproto"
	"strings"
)

// ChangeEvent is a single content-change notification for an entry.
type ChangeEvent struct {
	ID         string            // entry ID
	SpaceID    string            // space the entry belongs to
	Type       string            // sys.type, e.g. "Entry" or "DeletedEntry"
	Fields     map[string]any    // field name -> scalar or locale map
	RawHeaders map[string]string // inbound request headers
}

// FieldState tells apart the ways a field lookup can come back.
type FieldState int

const (
	FieldAbsent  FieldState = iota // key not in Fields
	FieldNull                      // key present, value null
	FieldPresent                   // key present with a value
)

func (s FieldState) String() string {
	switch s {
	case FieldAbsent:
		return "absent"
	case FieldNull:
		return "null"
	case FieldPresent:
		return "present"
	default:
		return "unknown"
	}
}

// Field looks up a field by name.
func (e ChangeEvent) Field(name string) (any, FieldState) {
	if name == "" || e.Fields == nil {
		return nil, FieldAbsent
	}
	v, ok := e.Fields[name]
	if !ok {
		return nil, FieldAbsent
	}
	if v == nil {
		return nil, FieldNull
	}
	return v, FieldPresent
}

// Header returns the raw header value for key. An exact key match wins;
// otherwise the lookup falls back to the canonical form, then to the
// lexicographically smallest case-insensitive match.
func (e ChangeEvent) Header(key string) (string, bool) {
	if e.RawHeaders == nil || key == "" {
		return "", false
	}
	if v, ok := e.RawHeaders[key]; ok {
		return v, true
	}
	if v, ok := e.RawHeaders[textproto.CanonicalMIMEHeaderKey(key)]; ok {
		return v, true
	}
	// Several keys may differ only in case; the smallest one wins so the
	// answer does not depend on map order.
	match, found := "", false
	for k := range e.RawHeaders {
		if strings.EqualFold(k, key) && (!found || k < match) {
			match, found = k, true
		}
	}
	if !found {
		return "", false
	}
	return e.RawHeaders[match], true
}

// IsEntry reports whether the event is about an entry (live or deleted).
// Asset and content-type notifications are filtered out before scheduling.
func (e ChangeEvent) IsEntry() bool {
	return e.Type == "Entry" || e.Type == "DeletedEntry"
}
